package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/avis/connectivity"
	"github.com/hazyhaar/avis/horosafe"
)

// TelegramConfig configures the Bot API sender.
type TelegramConfig struct {
	// BotToken is the Bot API token from @BotFather.
	BotToken string `yaml:"bot_token"`
	// APIBase defaults to https://api.telegram.org.
	APIBase string `yaml:"api_base"`
	// DisablePreview suppresses link previews in delivered messages.
	DisablePreview bool `yaml:"disable_preview"`
}

// Telegram sends messages with the Bot API sendMessage method.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegram returns a Telegram sender. timeout <= 0 means 15s.
func NewTelegram(cfg TelegramConfig, timeout time.Duration) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram: bot_token is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Telegram{cfg: cfg, client: &http.Client{Timeout: timeout}}, nil
}

func (t *Telegram) Platform() string { return "telegram" }

type tgSendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type tgResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts msg to msg.Recipient (a chat ID or @channel name).
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return &SendError{Platform: "telegram", Cause: errors.New("empty chat_id")}
	}
	body, err := json.Marshal(tgSendMessage{
		ChatID:                msg.Recipient,
		Text:                  msg.Text,
		ParseMode:             string(msg.RenderMode),
		DisableWebPagePreview: t.cfg.DisablePreview,
	})
	if err != nil {
		return &SendError{Platform: "telegram", Cause: fmt.Errorf("marshal: %w", err)}
	}

	endpoint := t.cfg.APIBase + "/bot" + t.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Platform: "telegram", Cause: t.redact(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SendError{Platform: "telegram", Retryable: true, Cause: t.redact(err)}
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return &SendError{Platform: "telegram", Status: resp.StatusCode, Retryable: true,
			Cause: fmt.Errorf("read reply: %w", err)}
	}
	var tr tgResponse
	_ = json.Unmarshal(raw, &tr)

	if resp.StatusCode == http.StatusOK && tr.OK {
		return nil
	}

	se := &SendError{
		Platform:  "telegram",
		Status:    resp.StatusCode,
		Retryable: classifyStatus(resp.StatusCode),
		Cause:     fmt.Errorf("%s", describe(tr, resp.StatusCode)),
	}
	if tr.Parameters.RetryAfter > 0 {
		se.RetryAfter = time.Duration(tr.Parameters.RetryAfter) * time.Second
	} else if d, ok := connectivity.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		se.RetryAfter = d
	}
	return se
}

func describe(tr tgResponse, status int) string {
	if tr.Description != "" {
		return tr.Description
	}
	return http.StatusText(status)
}

// redact keeps the bot token out of logged errors; url.Error embeds the URL.
func (t *Telegram) redact(err error) error {
	msg := strings.ReplaceAll(err.Error(), t.cfg.BotToken, "<token>")
	return errors.New(msg)
}
