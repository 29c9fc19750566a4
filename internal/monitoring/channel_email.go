package monitoring

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"github.com/vya-digital/backupd/internal/config"
)

// EmailChannel delivers notifications over SMTP with an HTML body.
// Failure and alert events go to the failure recipient list, everything
// else to the success list. Two connection modes:
//   - UseSSL: implicit TLS (SMTPS, typically port 465) via tls.Dial
//   - otherwise: plaintext or STARTTLS (typically port 587), which
//     smtp.SendMail negotiates automatically
type EmailChannel struct {
	cfg config.EmailSettings
	// AttachmentPath, when non-empty, is attached to failure emails
	// (conventionally the log file).
	AttachmentPath string
}

// NewEmailChannel creates the SMTP channel.
func NewEmailChannel(cfg config.EmailSettings) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (c *EmailChannel) Name() string { return "email" }

// Send delivers the event. The channel reports ok only when the MTA
// accepted the envelope for every recipient.
func (c *EmailChannel) Send(ctx context.Context, ev *Event) error {
	if !c.cfg.Enabled {
		return nil
	}

	to := c.cfg.SuccessRecipients
	if ev.Type == EventFailure || ev.Type == EventAlert {
		to = c.cfg.FailureRecipients
	}
	if len(to) == 0 {
		return nil
	}

	subject := ev.Subject
	if c.cfg.TestMode {
		subject = "[TESTE] " + subject
	}

	var attachment string
	if c.AttachmentPath != "" && ev.Type == EventFailure {
		attachment = c.AttachmentPath
	}

	msg, err := buildMessage(c.cfg.FromEmail, to, subject, ev, attachment)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	addr := net.JoinHostPort(c.cfg.SMTPHost, fmt.Sprintf("%d", c.cfg.SMTPPort))
	if c.cfg.UseSSL {
		return c.sendImplicitTLS(addr, to, msg)
	}
	return c.sendPlain(addr, to, msg)
}

// sendPlain uses smtp.SendMail, which upgrades to STARTTLS when the
// server offers it.
func (c *EmailChannel) sendPlain(addr string, to []string, msg []byte) error {
	var auth smtp.Auth
	if c.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", c.cfg.SMTPUser, c.cfg.SMTPPassword, c.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, c.cfg.FromEmail, to, msg); err != nil {
		return fmt.Errorf("%w: smtp.SendMail: %v", ErrSendFailed, err)
	}
	return nil
}

// sendImplicitTLS opens the TLS session before the SMTP handshake, for
// servers that expect TLS from the first byte.
func (c *EmailChannel) sendImplicitTLS(addr string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: c.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("%w: tls.Dial: %v", ErrSendFailed, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, c.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("%w: smtp.NewClient: %v", ErrSendFailed, err)
	}
	defer client.Close()

	if c.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", c.cfg.SMTPUser, c.cfg.SMTPPassword, c.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: smtp auth: %v", ErrSendFailed, err)
		}
	}
	if err := client.Mail(c.cfg.FromEmail); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %v", ErrSendFailed, err)
	}
	for _, r := range to {
		if err := client.Rcpt(r); err != nil {
			return fmt.Errorf("%w: RCPT TO %s: %v", ErrSendFailed, r, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA: %v", ErrSendFailed, err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("%w: write body: %v", ErrSendFailed, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close DATA: %v", ErrSendFailed, err)
	}
	return client.Quit()
}

// buildMessage assembles the MIME message: sanitized headers, an HTML
// body, and an optional base64 attachment.
func buildMessage(from string, to []string, subject string, ev *Event, attachmentPath string) ([]byte, error) {
	var b strings.Builder

	write := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
	}

	write("From: %s\r\n", sanitizeHeader(from))
	write("To: %s\r\n", sanitizeHeader(strings.Join(to, ", ")))
	write("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeHeader(subject)))
	write("Date: %s\r\n", ev.Timestamp.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	write("MIME-Version: 1.0\r\n")

	htmlBody := renderHTML(ev)

	if attachmentPath == "" {
		write("Content-Type: text/html; charset=utf-8\r\n\r\n")
		write("%s\r\n", htmlBody)
		return []byte(b.String()), nil
	}

	content, err := os.ReadFile(attachmentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	const boundary = "=_backupd_boundary"
	write("Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	write("--%s\r\n", boundary)
	write("Content-Type: text/html; charset=utf-8\r\n\r\n")
	write("%s\r\n", htmlBody)

	write("--%s\r\n", boundary)
	write("Content-Type: application/octet-stream\r\n")
	write("Content-Disposition: attachment; filename=%q\r\n", filepath.Base(attachmentPath))
	write("Content-Transfer-Encoding: base64\r\n\r\n")
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 76 {
		write("%s\r\n", encoded[:76])
		encoded = encoded[76:]
	}
	write("%s\r\n", encoded)
	write("--%s--\r\n", boundary)

	return []byte(b.String()), nil
}

// sanitizeHeader strips CR/LF so event-derived strings cannot inject
// extra headers.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}

func renderHTML(ev *Event) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(ev.Subject))
	fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(ev.Body))
	if len(ev.Metadata) > 0 {
		b.WriteString("<table border=\"0\">")
		for k, v := range ev.Metadata {
			fmt.Fprintf(&b, "<tr><td><b>%s</b></td><td>%s</td></tr>",
				html.EscapeString(k), html.EscapeString(fmt.Sprint(v)))
		}
		b.WriteString("</table>")
	}
	fmt.Fprintf(&b, "<p><small>%s</small></p>", ev.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("</body></html>")
	return b.String()
}
