// Package notification emails report outcomes.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/protocol"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/pkg/config"
)

var (
	completedTemplate = template.Must(template.New("completed").Parse(`
Store Uptime Report Ready
=========================

Report ID: {{.ReportID}}
Reference Time (UTC): {{.ReferenceTime.UTC.Format "2006-01-02 15:04:05"}}
Stores: {{.StoreCount}}
{{- if .FailedStoreCount}}
Stores Skipped: {{.FailedStoreCount}} (estimate failed, see service logs)
{{- end}}

Download: {{.Link}}

---
Store Monitor
`))

	failedTemplate = template.Must(template.New("failed").Parse(`
Store Uptime Report Failed
==========================

Report ID: {{.ReportID}}
Reference Time (UTC): {{.ReferenceTime.UTC.Format "2006-01-02 15:04:05"}}
Reason: {{.FailureReason}}

Trigger a new report once the cause is resolved.

---
Store Monitor
`))
)

// sendFunc matches smtp.SendMail
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config  *config.SMTPConfig
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Registry
	send    sendFunc
}

// NewEmailNotifier creates a new email notifier. baseURL prefixes the
// report download link.
func NewEmailNotifier(cfg *config.SMTPConfig, baseURL string, logger *slog.Logger, m *metrics.Registry) *EmailNotifier {
	return &EmailNotifier{config: cfg, baseURL: baseURL, logger: logger, metrics: m, send: smtp.SendMail}
}

// HandleMessage adapts SendReportNotification to the queue consume loop.
// Send failures are retried.
func (e *EmailNotifier) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ev, err := protocol.DecodeReportEvent(msg.Value)
	if err != nil {
		return fmt.Errorf("failed to decode report event: %w", err)
	}
	if err := e.SendReportNotification(ev); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrRetry, err)
	}
	return nil
}

// SendReportNotification sends an email for a finished report
func (e *EmailNotifier) SendReportNotification(ev *protocol.ReportEvent) error {
	subject, body, err := e.render(ev)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	err = e.sendEmail(subject, body)
	e.metrics.NotificationSent(err == nil)
	return err
}

type view struct {
	*protocol.ReportEvent
	Link string
}

func (e *EmailNotifier) render(ev *protocol.ReportEvent) (string, string, error) {
	var (
		subject string
		tmpl    *template.Template
	)
	switch ev.Type {
	case protocol.ReportEventCompleted:
		subject = fmt.Sprintf("Store uptime report ready - %s", ev.ReportID)
		tmpl = completedTemplate
	case protocol.ReportEventFailed:
		subject = fmt.Sprintf("Store uptime report FAILED - %s", ev.ReportID)
		tmpl = failedTemplate
	default:
		return "", "", fmt.Errorf("unknown report event type: %s", ev.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view{ReportEvent: ev, Link: e.baseURL + "/files/" + ev.OutputLocation}); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Info("SMTP not configured, skipping email", "subject", subject, "body", body)
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
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", "subject", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
