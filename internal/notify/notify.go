// Package notify delivers run summaries over email and Slack.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// Notifier sends one message to one channel
type Notifier interface {
	// Name identifies the channel in logs
	Name() string

	Notify(ctx context.Context, subject, body string) error
}

// SendMailFunc matches smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig holds the SMTP settings
type EmailConfig struct {
	Sender    string
	Recipient string
	Server    string
	Port      int
	Username  string
	Password  string
}

// EmailNotifier sends plain text mail through an SMTP relay
type EmailNotifier struct {
	cfg      EmailConfig
	sendMail SendMailFunc
}

// NewEmailNotifier creates an email notifier. sendMail defaults to smtp.SendMail.
func NewEmailNotifier(cfg EmailConfig, sendMail SendMailFunc) *EmailNotifier {
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailNotifier{cfg: cfg, sendMail: sendMail}
}

// Name returns "email"
func (n *EmailNotifier) Name() string { return "email" }

// Notify sends the message. The context is not observed by net/smtp.
func (n *EmailNotifier) Notify(_ context.Context, subject, body string) error {
	if n.cfg.Server == "" || n.cfg.Recipient == "" {
		return apperrors.NewNotificationError(n.Name(), fmt.Errorf("smtp server and recipient are required"))
	}

	addr := net.JoinHostPort(n.cfg.Server, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Server)
	}

	msg := buildMessage(n.cfg.Sender, n.cfg.Recipient, subject, body, time.Now())
	if err := n.sendMail(addr, auth, n.cfg.Sender, []string{n.cfg.Recipient}, msg); err != nil {
		return apperrors.NewNotificationError(n.Name(), err)
	}
	return nil
}

func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: GitHub Backup <%s>\r\n", from)
	fmt.Fprintf(&b, "To: <%s>\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// SlackNotifier posts to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackNotifier creates a Slack notifier. httpClient defaults to a client
// with a 30 second timeout.
func NewSlackNotifier(webhookURL string, httpClient *http.Client) *SlackNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, httpClient: httpClient}
}

// Name returns "slack"
func (n *SlackNotifier) Name() string { return "slack" }

// Notify posts the body as the message text; Slack webhooks have no subject.
func (n *SlackNotifier) Notify(ctx context.Context, _ string, body string) error {
	payload, err := json.Marshal(map[string]string{"text": body})
	if err != nil {
		return apperrors.NewNotificationError(n.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewNotificationError(n.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNotificationError(n.Name(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewNotificationError(n.Name(), fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}
