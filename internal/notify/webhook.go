package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts notifications to an HTTP endpoint as JSON. If a secret
// is configured the payload is signed with HMAC-SHA256 so receivers can
// verify origin.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier for the given URL.
func NewWebhook(url, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "notify.Webhook"),
	}
}

// Notify delivers the notification in a background goroutine. Delivery
// failures are logged and dropped; the gateway's decisions never depend
// on a webhook being reachable.
func (w *Webhook) Notify(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	go func() {
		if err := w.send(n); err != nil {
			w.logger.Warn("webhook delivery failed",
				"type", n.Type,
				"ref_id", n.RefID,
				"error", err,
			)
		}
	}()
}

func (w *Webhook) send(n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PromptSpeak-Gatekeeper/1.0")
	if w.secret != "" {
		req.Header.Set("X-PromptSpeak-Signature", computeHMAC(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
