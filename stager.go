package vitrine

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrValidation marks request errors that should surface as 400 responses.
var ErrValidation = errors.New("validation failed")

// FileBuffer is one uploaded file held fully in memory.
type FileBuffer struct {
	Data        []byte
	ContentType string // sniffed from content when empty
}

// UploadSet is the role-tagged collection of files for one post.
type UploadSet struct {
	Title  *FileBuffer
	Extras []FileBuffer
	Thumbs []FileBuffer
}

// Count returns the number of files in the set.
func (u UploadSet) Count() int {
	n := len(u.Extras) + len(u.Thumbs)
	if u.Title != nil {
		n++
	}
	return n
}

// StagedImage describes one staged file: where it will live once promoted
// and the metadata the write transaction persists.
type StagedImage struct {
	Filename   string
	PublicPath string
	Role       string
	Folder     string
	OrderIndex int
}

// Stager writes uploaded buffers into a per-post staging directory under
// <baseDir>/.staging/<folder>. Nothing under the staging directory is
// reachable over HTTP until the finalizer promotes it.
type Stager struct {
	baseDir     string
	maxFileSize int64
	maxExtra    int
}

// NewStager creates a Stager rooted at baseDir.
func NewStager(baseDir string, maxFileSize int64, maxExtra int) *Stager {
	return &Stager{baseDir: baseDir, maxFileSize: maxFileSize, maxExtra: maxExtra}
}

// NewFolderName generates a unique per-post folder name. The embedded date
// and timestamp match the historical naming scheme; the random suffix keeps
// two requests racing within the same millisecond apart.
func (st *Stager) NewFolderName() string {
	now := time.Now()
	return fmt.Sprintf("post_%s_%d_%s", now.Format("02_01_2006"), now.UnixMilli(), uuid.NewString()[:8])
}

// StagingDir returns the temp directory for a folder name.
func (st *Stager) StagingDir(folder string) string {
	return filepath.Join(st.baseDir, ".staging", folder)
}

// Stage validates the upload set and writes every buffer into the staging
// directory for folder. Validation runs before any disk write, so a
// mismatched set costs no I/O. On a partial write failure the whole staging
// directory is removed before the error propagates.
func (st *Stager) Stage(folder string, set UploadSet) ([]StagedImage, error) {
	if err := st.validate(set); err != nil {
		return nil, err
	}

	dir := st.StagingDir(folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	var staged []StagedImage
	write := func(buf FileBuffer, role string, index, order int) error {
		name := st.filename(buf, role, index)
		if err := os.WriteFile(filepath.Join(dir, name), buf.Data, 0o644); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
		staged = append(staged, StagedImage{
			Filename:   name,
			PublicPath: "/uploads/" + folder + "/" + name,
			Role:       role,
			Folder:     folder,
			OrderIndex: order,
		})
		return nil
	}

	var err error
	if set.Title != nil {
		err = write(*set.Title, RoleTitle, 0, 0)
	}
	for i := 0; err == nil && i < len(set.Extras); i++ {
		err = write(set.Extras[i], RoleExtra, i, i)
	}
	for i := 0; err == nil && i < len(set.Thumbs); i++ {
		err = write(set.Thumbs[i], RoleThumbnail, i, i)
	}
	if err != nil {
		st.Cleanup(folder)
		return nil, err
	}
	return staged, nil
}

// Cleanup removes the staging directory for folder. Used after a failed
// staging pass or a failed write transaction.
func (st *Stager) Cleanup(folder string) {
	os.RemoveAll(st.StagingDir(folder))
}

func (st *Stager) validate(set UploadSet) error {
	if len(set.Extras) != len(set.Thumbs) {
		return fmt.Errorf("%w: %d extra images but %d thumbnails", ErrValidation, len(set.Extras), len(set.Thumbs))
	}
	if len(set.Extras) > st.maxExtra {
		return fmt.Errorf("%w: too many files, maximum is 1 title image and %d extra images", ErrValidation, st.maxExtra)
	}
	check := func(buf FileBuffer) error {
		if int64(len(buf.Data)) > st.maxFileSize {
			return fmt.Errorf("%w: file too large, maximum size is %s per image", ErrValidation, FormatFileSize(st.maxFileSize))
		}
		if !allowedImageType(sniffType(buf)) {
			return fmt.Errorf("%w: only JPEG, PNG, and WebP images are allowed", ErrValidation)
		}
		return nil
	}
	if set.Title != nil {
		if err := check(*set.Title); err != nil {
			return err
		}
	}
	for _, b := range set.Extras {
		if err := check(b); err != nil {
			return err
		}
	}
	for _, b := range set.Thumbs {
		if err := check(b); err != nil {
			return err
		}
	}
	return nil
}

// filename builds a collision-resistant name from the role, a timestamp,
// the index within the role, and a random component.
func (st *Stager) filename(buf FileBuffer, role string, index int) string {
	prefix := "extra"
	switch role {
	case RoleTitle:
		prefix = "title"
	case RoleThumbnail:
		prefix = "thumb"
	}
	return fmt.Sprintf("%s_%d_%d_%s%s", prefix, time.Now().UnixMilli(), index, uuid.NewString()[:8], extensionFor(sniffType(buf)))
}

func sniffType(buf FileBuffer) string {
	// Clients that do not know better send application/octet-stream;
	// fall back to content sniffing rather than trusting the header.
	if buf.ContentType != "" && buf.ContentType != "application/octet-stream" {
		return buf.ContentType
	}
	return http.DetectContentType(buf.Data)
}

func allowedImageType(ct string) bool {
	switch ct {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}

func extensionFor(ct string) string {
	switch ct {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	}
	return ".jpg"
}
