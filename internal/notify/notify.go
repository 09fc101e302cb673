// Package notify e-mails proposal authors when their proposal changes status.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL is the public web address used to build links in messages.
	BaseURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends notification e-mails over SMTP.
type Mailer struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewMailer(config Config) *Mailer {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Mailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m != nil && m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

// StatusChange describes a proposal transition to report.
type StatusChange struct {
	RecipientEmail string
	RecipientName  string
	ProposalID     string
	ProposalTitle  string
	DocumentTitle  string
	FromStatus     string
	ToStatus       string
	ActorName      string
}

// SendStatusChange notifies the proposal author. Authors acting on their own
// proposal are not notified.
func (m *Mailer) SendStatusChange(ev StatusChange) error {
	if !m.IsConfigured() {
		return ErrNotConfigured
	}
	if ev.RecipientEmail == "" {
		return errors.New("status change: recipient email is required")
	}

	data := statusChangeData{
		StatusChange: ev,
		FromLabel:    statusLabel(ev.FromStatus),
		ToLabel:      statusLabel(ev.ToStatus),
		Link:         strings.TrimRight(m.config.BaseURL, "/") + "/proposals/" + ev.ProposalID,
	}
	html, err := renderTemplate(statusChangeTemplate, data)
	if err != nil {
		return fmt.Errorf("render status change template: %w", err)
	}
	subject := fmt.Sprintf("Propozycja „%s”: %s", ev.ProposalTitle, data.ToLabel)
	return m.sendHTML([]string{ev.RecipientEmail}, subject, html)
}

func (m *Mailer) sendHTML(to []string, subject, htmlBody string) error {
	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.config.FromName), m.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)

	if err := m.send(m.server, m.auth, m.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

type statusChangeData struct {
	StatusChange
	FromLabel string
	ToLabel   string
	Link      string
}

func statusLabel(status string) string {
	switch status {
	case "draft":
		return "szkic"
	case "open":
		return "otwarta"
	case "merged":
		return "przyjęta"
	case "closed":
		return "zamknięta"
	default:
		return status
	}
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const statusChangeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #7a1f1f; padding-bottom: 10px; margin-bottom: 20px; }
        .status { font-weight: bold; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header"><h1>LexHub</h1></div>
    <p>Dzień dobry{{if .RecipientName}}, {{.RecipientName}}{{end}}!</p>
    <p>Status Twojej propozycji <strong>{{.ProposalTitle}}</strong>{{if .DocumentTitle}} do aktu „{{.DocumentTitle}}”{{end}}
       zmienił się z <span class="status">{{.FromLabel}}</span> na <span class="status">{{.ToLabel}}</span>{{if .ActorName}} ({{.ActorName}}){{end}}.</p>
    <p><a href="{{.Link}}">Zobacz propozycję</a></p>
    <div class="footer"><p>Wiadomość wysłana automatycznie przez LexHub.</p></div>
</body>
</html>`
