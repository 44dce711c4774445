package email

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// Sender sends transactional emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message represents an email to send.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// ResendSender sends emails through the Resend API.
type ResendSender struct {
	client *resend.Client
}

func NewResendSender(apiKey string, timeout time.Duration) *ResendSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResendSender{
		client: resend.NewCustomClient(&http.Client{Timeout: timeout}, apiKey),
	}
}

// NewResendSenderWithURL points the sender at a different API host.
func NewResendSenderWithURL(apiKey, baseURL string, timeout time.Duration) (*ResendSender, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse resend url: %w", err)
	}
	sender := NewResendSender(apiKey, timeout)
	sender.client.BaseURL = u
	return sender, nil
}

func (r *ResendSender) Send(ctx context.Context, msg Message) error {
	_, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}
	return nil
}

// LogSender logs emails instead of sending them. Used when no provider key is configured.
type LogSender struct {
	logFn func(to, subject, body string)
}

func NewLogSender(logFn func(to, subject, body string)) *LogSender {
	return &LogSender{logFn: logFn}
}

func (l *LogSender) Send(_ context.Context, msg Message) error {
	if l.logFn != nil {
		l.logFn(msg.To, msg.Subject, msg.Text)
	}
	return nil
}
