package vitrine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	maxAttachmentWidth = 1200
	jpegQuality        = 80
)

// Attachment is a processed contact-form image ready to be mailed.
type Attachment struct {
	Filename   string
	Data       []byte
	Width      int
	Height     int
	UploadedAt string
}

// processAttachment decodes an image, downscales it to maxAttachmentWidth
// if wider, and re-encodes it as JPEG so attachment size stays bounded
// regardless of what the client sent.
func processAttachment(src io.Reader, filename string) (Attachment, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return Attachment{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > maxAttachmentWidth {
		newH := h * maxAttachmentWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxAttachmentWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w = maxAttachmentWidth
		h = newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Attachment{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Attachment{
		Filename:   filename,
		Data:       buf.Bytes(),
		Width:      w,
		Height:     h,
		UploadedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}
