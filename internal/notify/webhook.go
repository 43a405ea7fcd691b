package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-micprivacy/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event         string `json:"event"`
	Mode          string `json:"mode,omitempty"`
	Muted         bool   `json:"muted"`
	State         uint32 `json:"state"`
	PrivacyMask   uint32 `json:"privacy_mask,omitempty"`
	MaxRampTimeMs uint32 `json:"max_ramp_time_ms"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// WebhookSubscriber posts privacy state changes to a URL.
type WebhookSubscriber struct {
	URL    string
	client *http.Client
}

// NewWebhookSubscriber returns a subscriber posting to url.
func NewWebhookSubscriber(url string) *WebhookSubscriber {
	return &WebhookSubscriber{
		URL:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Name implements Subscriber.
func (w *WebhookSubscriber) Name() string {
	return "Privacy webhook"
}

// HandleNotification implements Subscriber.
func (w *WebhookSubscriber) HandleNotification(n Notification) error {
	s, err := n.Settings()
	if err != nil {
		return err
	}
	return w.send(&WebhookPayload{
		Event:         "mic_privacy_state_changed",
		Mode:          s.Mode.String(),
		Muted:         s.Muted(),
		State:         s.State,
		PrivacyMask:   s.PrivacyMask,
		MaxRampTimeMs: s.MaxRampTimeMs,
		Timestamp:     n.Timestamp.UTC().Format(time.RFC3339),
	})
}

// SendTest sends a test webhook notification.
func (w *WebhookSubscriber) SendTest() error {
	if w.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	return w.send(&WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// send delivers a payload to the configured webhook endpoint.
func (w *WebhookSubscriber) send(payload *WebhookPayload) error {
	if !util.IsConfigured(w.URL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	resp, err := w.client.Post(w.URL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
