package vitrine

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

const maxFormImages = 5

// handleContactForm accepts a contact-form submission with optional images,
// sanitizes and validates it, and forwards it to the site owner by email.
// Submissions are rate limited per IP.
func (a *App) handleContactForm(c echo.Context) error {
	if !a.formLimiter.Allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "Too many form submissions. Please try again later."})
	}

	req := ContactRequest{
		FirstName: a.sanitize(c.FormValue("firstName")),
		LastName:  a.sanitize(c.FormValue("lastName")),
		Email:     a.sanitize(c.FormValue("email")),
		Phone:     a.sanitize(c.FormValue("phone")),
		Message:   a.sanitize(c.FormValue("message")),
	}
	if err := a.validate.Struct(req); err != nil {
		a.logSecurityEvent(c, err)
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  fieldErrors(err),
		})
	}

	attachments, err := a.readFormImages(c)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		}
		return err
	}

	if err := a.mailer.Send(req, attachments); err != nil {
		a.log.Error().Err(err).Str("from", req.Email).Msg("contact mail delivery failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to send message"})
	}

	return c.JSON(http.StatusOK, map[string]any{"message": "Form received", "data": req})
}

// readFormImages buffers, validates, and downscales the optional images so
// the outgoing email stays a reasonable size.
func (a *App) readFormImages(c echo.Context) ([]Attachment, error) {
	form, err := c.MultipartForm()
	if err != nil {
		// Plain form posts without files are fine.
		return nil, nil
	}
	files := form.File["images"]
	if len(files) > maxFormImages {
		return nil, fmt.Errorf("%w: at most %d images are allowed", ErrValidation, maxFormImages)
	}
	var attachments []Attachment
	for i, fh := range files {
		buf, err := a.readFile(fh)
		if err != nil {
			return nil, err
		}
		if !allowedImageType(sniffType(buf)) {
			return nil, fmt.Errorf("%w: only JPEG, PNG, and WebP images are allowed", ErrValidation)
		}
		att, err := processAttachment(bytes.NewReader(buf.Data), fmt.Sprintf("image_%d.jpg", i+1))
		if err != nil {
			return nil, fmt.Errorf("%w: could not read image %d", ErrValidation, i+1)
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

// sanitize strips all HTML from a form field.
func (a *App) sanitize(s string) string {
	return strings.TrimSpace(a.sanitizer.Sanitize(s))
}

// logSecurityEvent records a rejected submission with enough context to
// spot probing: client IP, user agent, and the failing fields.
func (a *App) logSecurityEvent(c echo.Context, err error) {
	a.log.Warn().
		Str("ip", c.RealIP()).
		Str("userAgent", c.Request().UserAgent()).
		Str("path", c.Request().URL.Path).
		Strs("errors", fieldErrors(err)).
		Msg("validation rejected request")
}

// fieldErrors flattens validator errors into field-level messages safe to
// return to the caller.
func fieldErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"invalid request"}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: failed on %s", fe.Field(), fe.Tag()))
	}
	return out
}
