package notifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	now    func() time.Time
}

func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    endpoint,
		Client: &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}
}

type webhookPayload struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, subject, body string) error {
	data, err := json.Marshal(webhookPayload{Subject: subject, Body: body, SentAt: w.now().UTC()})
	if err != nil {
		return &NotificationError{Channel: "webhook", Subject: subject, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return &NotificationError{Channel: "webhook", Subject: subject, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return &NotificationError{Channel: "webhook", Subject: subject, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NotificationError{
			Channel: "webhook",
			Subject: subject,
			Err:     fmt.Errorf("status %d, body: %s", resp.StatusCode, string(b)),
		}
	}
	return nil
}
