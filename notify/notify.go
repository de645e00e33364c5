// notify/notify.go
//
// Best-effort operator notifications. Delivery failures are logged and
// swallowed: an unreachable webhook must never affect trading decisions.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"quantloop/logs"
)

// Notifier pushes short operator-facing messages out of the process.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// LogNotifier writes notifications to the log only. It is the default when no
// webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, title, message string) {
	logs.Warnf("[Notify] %s: %s", title, message)
}

// WebhookNotifier POSTs a small JSON payload to an ops webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, title, message string) {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logs.Warnf("[Notify] failed to marshal payload: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		logs.Warnf("[Notify] failed to build webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		logs.Warnf("[Notify] webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logs.Warnf("[Notify] webhook returned status %d", resp.StatusCode)
	}
}

// FromWebhookURL picks the notifier once at startup: webhook when a URL is
// configured, log-only otherwise.
func FromWebhookURL(url string) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	logs.Infof("[Notify] ops webhook configured")
	return NewWebhookNotifier(url)
}
