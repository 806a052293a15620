package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/envwatch/enviro-server/internal/protocol"
	"github.com/envwatch/enviro-server/pkg/config"
)

// EmailNotifier renders alert events into operator emails. It is one
// concrete consumer of the alerts topic; push transports are separate
// consumers outside this repository.
type EmailNotifier struct {
	config *config.SMTPConfig
}

func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg}
}

// SendAlertEvent sends an email for a raised or resolved alert event.
func (e *EmailNotifier) SendAlertEvent(event *protocol.AlertEvent) error {
	var subject string
	var body string
	var err error

	switch event.Type {
	case protocol.EventTypeRaised:
		subject = fmt.Sprintf("[%s] Alert raised: %s", event.Level, event.Title)
		body, err = e.renderRaisedTemplate(event)
	case protocol.EventTypeResolved:
		subject = fmt.Sprintf("Alert resolved: %s", event.Title)
		body, err = e.renderResolvedTemplate(event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return e.sendEmail(subject, body)
}

func (e *EmailNotifier) renderRaisedTemplate(event *protocol.AlertEvent) (string, error) {
	tmpl := `
Environmental Alert Raised
==========================

Severity: {{.Level}}
Title: {{.Title}}
{{if .StationID}}Station: {{.StationID}}
{{end}}{{if .Metric}}Metric: {{.Metric}}
Observed Value: {{.Value}}
Threshold: {{.Operator}} {{.Boundary}}
{{end}}Raised At: {{.OccurredAt}}
Alert ID: {{.AlertID}}

{{.Message}}

---
Enviro Server Notification System
`

	t, err := template.New("raised").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (e *EmailNotifier) renderResolvedTemplate(event *protocol.AlertEvent) (string, error) {
	tmpl := `
Environmental Alert Resolved
============================

Title: {{.Title}}
Alert ID: {{.AlertID}}
Resolved At: {{.OccurredAt}}

The triggering condition no longer holds.

---
Enviro Server Notification System
`

	t, err := template.New("resolved").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := smtp.SendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
