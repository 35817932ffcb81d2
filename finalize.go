package vitrine

import (
	"fmt"
	"os"
	"path/filepath"
)

// Finalizer promotes staged upload directories to their permanent public
// location. Promotion runs strictly after the post's write transaction has
// committed; until then nothing under the public directory references the
// new post.
type Finalizer struct {
	baseDir string
}

// NewFinalizer creates a Finalizer rooted at the public upload directory.
func NewFinalizer(baseDir string) *Finalizer {
	return &Finalizer{baseDir: baseDir}
}

// Promote copies every file from the staging directory for folder into
// <baseDir>/<folder>, verifies all files arrived, then removes the staging
// directory. A copy failure leaves the staging directory in place and
// returns the error; the caller decides how to report the inconsistency.
func (f *Finalizer) Promote(folder string) error {
	src := filepath.Join(f.baseDir, ".staging", folder)
	dst := filepath.Join(f.baseDir, folder)

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create public dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return fmt.Errorf("read staged %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("promote %s: %w", e.Name(), err)
		}
	}
	// Verify before dropping the staging copy.
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		srcInfo, err := e.Info()
		if err != nil {
			return err
		}
		dstInfo, err := os.Stat(filepath.Join(dst, e.Name()))
		if err != nil {
			return fmt.Errorf("verify %s: %w", e.Name(), err)
		}
		if dstInfo.Size() != srcInfo.Size() {
			return fmt.Errorf("verify %s: size mismatch after copy", e.Name())
		}
	}
	return os.RemoveAll(src)
}

// RemoveFolder deletes a promoted upload folder. Callers treat failures as
// best-effort: a post row is already gone by the time this runs, so a
// leftover folder is garbage, not an inconsistency.
func (f *Finalizer) RemoveFolder(folder string) error {
	if folder == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(f.baseDir, folder))
}
