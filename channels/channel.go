// CLAUDE:SUMMARY Outbound messaging contract (Sender, Message) and the platform registry that builds senders from config.
// Package channels delivers notification messages to messaging platforms.
//
// Every platform implements Sender. A failed Send returns a *SendError that
// tells the caller whether the failure is worth retrying and, for rate
// limits, how long the platform asked it to wait.
//
//	s, err := channels.New(channels.Config{Platform: "telegram", Telegram: tgCfg}, logger)
//	err = s.Send(ctx, channels.Message{Recipient: chatID, Text: body, RenderMode: channels.RenderHTML})
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RenderMode selects how the platform interprets Message.Text.
type RenderMode string

const (
	RenderPlain    RenderMode = ""
	RenderHTML     RenderMode = "HTML"
	RenderMarkdown RenderMode = "MarkdownV2"
)

// Message is one outbound notification.
type Message struct {
	Recipient  string            `json:"recipient"`
	Text       string            `json:"text"`
	RenderMode RenderMode        `json:"render_mode,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sender pushes messages to one platform.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Platform() string
}

// Config selects a platform and carries its settings.
type Config struct {
	Platform string         `yaml:"platform"`
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	// Timeout bounds a single HTTP call to the platform.
	Timeout time.Duration `yaml:"timeout"`
}

// Factory builds a Sender from config.
type Factory func(cfg Config, logger *slog.Logger) (Sender, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{
		"telegram": func(cfg Config, _ *slog.Logger) (Sender, error) { return NewTelegram(cfg.Telegram, cfg.Timeout) },
		"webhook":  func(cfg Config, _ *slog.Logger) (Sender, error) { return NewWebhook(cfg.Webhook, cfg.Timeout) },
		"stdout":   func(_ Config, logger *slog.Logger) (Sender, error) { return NewStdout(nil, logger), nil },
	}
)

// RegisterPlatform adds or replaces a platform factory.
func RegisterPlatform(name string, f Factory) {
	regMu.Lock()
	factories[name] = f
	regMu.Unlock()
}

// Platforms lists the registered platform names, sorted.
func Platforms() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the Sender for cfg.Platform.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	regMu.RLock()
	f, ok := factories[cfg.Platform]
	regMu.RUnlock()
	if !ok {
		return nil, &ErrNoPlatformFactory{Platform: cfg.Platform}
	}
	s, err := f(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("channels: %s: %w", cfg.Platform, err)
	}
	return s, nil
}
