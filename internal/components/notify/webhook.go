package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Circleinvite-Signature"

// Poster is the outbound transport used by Webhook.
type Poster interface {
	PostJSON(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error)
}

// Webhook posts each event as JSON to a fixed URL.
type Webhook struct {
	client Poster
	url    string
	key    []byte // signing key; nil disables signing
}

// NewWebhook creates a webhook notifier. When key is non-nil every request
// carries SignatureHeader so receivers can authenticate it.
func NewWebhook(client Poster, url string, key []byte) *Webhook {
	return &Webhook{client: client, url: url, key: key}
}

type webhookPayload struct {
	Type       string `json:"type"`
	Invitation any    `json:"invitation"`
	Activity   any    `json:"activity"`
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:       string(ev.Activity.Type),
		Invitation: ev.Invitation,
		Activity:   ev.Activity,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	header := http.Header{}
	if w.key != nil {
		header.Set(SignatureHeader, Sign(w.key, body))
	}
	if _, err := w.client.PostJSON(ctx, w.url, body, header); err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under key.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
