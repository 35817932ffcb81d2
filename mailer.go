package vitrine

import (
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Mailer delivers a contact-form submission to the site owner.
type Mailer interface {
	Send(req ContactRequest, attachments []Attachment) error
}

// NewMailer returns an SMTP mailer when a host is configured, otherwise a
// log-only mailer so the form endpoint still works in development.
func NewMailer(cfg Config, log zerolog.Logger) Mailer {
	if cfg.MailHost == "" {
		return &logMailer{log: log}
	}
	return &smtpMailer{cfg: cfg}
}

type smtpMailer struct {
	cfg Config
}

func (m *smtpMailer) Send(req ContactRequest, attachments []Attachment) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.MailFrom)
	msg.SetHeader("To", m.cfg.MailTo)
	msg.SetHeader("Reply-To", req.Email)
	msg.SetHeader("Subject", fmt.Sprintf("Contact form: %s %s", req.FirstName, req.LastName))
	msg.SetBody("text/plain", textBody(req, attachments))
	msg.AddAlternative("text/html", htmlBody(req, attachments))

	for _, a := range attachments {
		data := a.Data
		msg.Attach(a.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	d := gomail.NewDialer(m.cfg.MailHost, m.cfg.MailPort, m.cfg.MailUsername, m.cfg.MailPassword)
	return d.DialAndSend(msg)
}

// logMailer records submissions instead of delivering them.
type logMailer struct {
	log zerolog.Logger
}

func (m *logMailer) Send(req ContactRequest, attachments []Attachment) error {
	m.log.Info().
		Str("from", req.Email).
		Str("name", req.FirstName+" "+req.LastName).
		Int("attachments", len(attachments)).
		Msg("contact form received (mail delivery disabled)")
	return nil
}

func textBody(req ContactRequest, attachments []Attachment) string {
	var b strings.Builder
	b.WriteString("NEW CONTACT FORM INQUIRY\n")
	b.WriteString("========================\n\n")
	fmt.Fprintf(&b, "Name: %s %s\n", req.FirstName, req.LastName)
	fmt.Fprintf(&b, "Email: %s\n", req.Email)
	if req.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", req.Phone)
	}
	b.WriteString("\nMessage:\n")
	b.WriteString(req.Message)
	b.WriteString("\n")
	if len(attachments) > 0 {
		fmt.Fprintf(&b, "\nAttached images (%d):\n", len(attachments))
		for _, a := range attachments {
			fmt.Fprintf(&b, "- %s (%dx%d, %s)\n", a.Filename, a.Width, a.Height, FormatFileSize(int64(len(a.Data))))
		}
	}
	return b.String()
}

func htmlBody(req ContactRequest, attachments []Attachment) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h1>New contact form inquiry</h1>")
	b.WriteString("<h2>Contact details</h2><ul>")
	fmt.Fprintf(&b, "<li><b>Name:</b> %s %s</li>", html.EscapeString(req.FirstName), html.EscapeString(req.LastName))
	fmt.Fprintf(&b, "<li><b>Email:</b> %s</li>", html.EscapeString(req.Email))
	if req.Phone != "" {
		fmt.Fprintf(&b, "<li><b>Phone:</b> %s</li>", html.EscapeString(req.Phone))
	}
	if len(attachments) > 0 {
		fmt.Fprintf(&b, "<li><b>Images:</b> %d attached</li>", len(attachments))
	}
	b.WriteString("</ul><h2>Message</h2>")
	fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(req.Message))
	b.WriteString("</body></html>")
	return b.String()
}
