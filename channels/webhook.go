package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/avis/connectivity"
	"github.com/hazyhaar/avis/horosafe"
)

// WebhookConfig configures the generic JSON webhook sender.
type WebhookConfig struct {
	URL string `yaml:"url"`
	// Secret, when set, signs each body: X-Signature-256: sha256=<hex hmac>.
	Secret string `yaml:"secret"`
	// AllowPrivate permits loopback and private-network targets.
	AllowPrivate bool              `yaml:"allow_private"`
	Headers      map[string]string `yaml:"headers"`
}

// Webhook POSTs each message as JSON to a fixed URL.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// webhookPayload is the JSON body posted to the target.
type webhookPayload struct {
	Recipient  string            `json:"recipient"`
	Text       string            `json:"text"`
	RenderMode RenderMode        `json:"render_mode,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

// NewWebhook validates the target URL and returns a Webhook sender.
func NewWebhook(cfg WebhookConfig, timeout time.Duration) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	if cfg.AllowPrivate {
		if _, err := horosafe.ValidateScheme(cfg.URL); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
	} else if err := horosafe.ValidatePublicURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Webhook{cfg: cfg, client: &http.Client{Timeout: timeout}}, nil
}

func (w *Webhook) Platform() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		Recipient:  msg.Recipient,
		Text:       msg.Text,
		RenderMode: msg.RenderMode,
		Metadata:   msg.Metadata,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return &SendError{Platform: "webhook", Cause: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &SendError{Platform: "webhook", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SendError{Platform: "webhook", Retryable: true, Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 300 {
		return nil
	}
	se := &SendError{
		Platform:  "webhook",
		Status:    resp.StatusCode,
		Retryable: classifyStatus(resp.StatusCode),
		Cause:     fmt.Errorf("target returned %d", resp.StatusCode),
	}
	if d, ok := connectivity.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		se.RetryAfter = d
	}
	return se
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Signature-256 header value against body.
// The "sha256=" prefix is optional. An empty secret accepts everything.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
