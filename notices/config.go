// CLAUDE:SUMMARY Service configuration: YAML file, defaults(), env overrides, source catalog loading and Validate (ErrConfig).
package notices

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/avis/channels"
	"github.com/hazyhaar/avis/notices/internal/browser"
	"github.com/hazyhaar/avis/notices/internal/dispatch"
	"github.com/hazyhaar/avis/notices/internal/extract"
	"github.com/hazyhaar/avis/notices/internal/fetch"
	"github.com/hazyhaar/avis/notices/internal/fingerprint"
	"github.com/hazyhaar/avis/notices/internal/pipeline"
	"github.com/hazyhaar/avis/notices/internal/recency"
	"github.com/hazyhaar/avis/notices/internal/scheduler"
)

// Config configures the notices service.
type Config struct {
	// Sources is the inline source catalog.
	Sources []Source `yaml:"sources"`
	// SourcesFile is a YAML list of sources or one URL per line.
	SourcesFile string `yaml:"sources_file"`

	Fetch   fetch.Config   `yaml:"fetch"`
	Browser BrowserConfig  `yaml:"browser"`
	Extract extract.Config `yaml:"extract"`
	// Keywords replaces the default relevance keyword set.
	Keywords    []string           `yaml:"keywords"`
	Dates       DatesConfig        `yaml:"dates"`
	Recency     recency.Config     `yaml:"recency"`
	Fingerprint fingerprint.Config `yaml:"fingerprint"`
	Ledger      LedgerConfig       `yaml:"ledger"`
	Dispatch    dispatch.Config    `yaml:"dispatch"`
	Channel     channels.Config    `yaml:"channel"`
	Pipeline    pipeline.Config    `yaml:"pipeline"`
	Scheduler   scheduler.Config   `yaml:"scheduler"`
	HTTP        HTTPConfig         `yaml:"http"`
	Log         LogConfig          `yaml:"log"`

	// LockPath is the run lock file. Default: next to the ledger.
	LockPath string `yaml:"lock_path"`

	// DryRun prints messages on the stdout platform and leaves the sent
	// ledger untouched, so a later real run still delivers them.
	DryRun bool `yaml:"-"`
}

// BrowserConfig enables the headless browser strategy.
type BrowserConfig struct {
	Disabled bool `yaml:"disabled"`

	browser.Config `yaml:",inline"`
}

// DatesConfig configures date resolution.
type DatesConfig struct {
	// Timezone is an IANA name for "today". Default: the process local zone.
	Timezone string `yaml:"timezone"`
	// PDFPages is how many leading PDF pages are scanned for a date.
	PDFPages int `yaml:"pdf_pages"`
}

// LedgerConfig configures the sent ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
	// Retention keeps entries at least this long. Default: ten window lengths.
	Retention time.Duration `yaml:"retention"`
	// BusyTimeout is how long a write waits on a locked database. Default 10s.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// Synchronous is the SQLite synchronous mode: off, normal, full or extra.
	Synchronous string `yaml:"synchronous"`
}

// HTTPConfig configures the status router of serve mode.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	User string `yaml:"user"`
	// PasswordHash is a bcrypt hash; empty disables Basic Auth.
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) defaults() {
	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/avis.db"
	}
	if c.Recency.Window == "" {
		c.Recency.Window = recency.TodayOrTomorrow
	}
	if c.Recency.Undated == "" {
		c.Recency.Undated = recency.UndatedReject
	}
	if c.Ledger.Retention <= 0 {
		c.Ledger.Retention = c.Recency.Window.Retention()
	}
	if c.Dates.PDFPages <= 0 {
		c.Dates.PDFPages = 3
	}
	if c.Channel.Platform == "" {
		c.Channel.Platform = "telegram"
	}
	if c.Channel.Timeout <= 0 {
		c.Channel.Timeout = 20 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8086"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.LockPath == "" {
		c.LockPath = filepath.Join(filepath.Dir(c.Ledger.Path), "avis.lock")
	}
}

// DefaultConfig returns a Config with env overrides and defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.defaults()
	return cfg
}

// LoadConfig reads a YAML config file, then applies env overrides and
// defaults. Relative sources_file paths resolve against the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrConfig, path, err)
	}
	if cfg.SourcesFile != "" && !filepath.IsAbs(cfg.SourcesFile) {
		cfg.SourcesFile = filepath.Join(filepath.Dir(path), cfg.SourcesFile)
	}
	cfg.applyEnv()
	cfg.defaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := firstEnv("AVIS_BOT_TOKEN", "BOT_TOKEN"); v != "" {
		c.Channel.Telegram.BotToken = v
	}
	if v := firstEnv("AVIS_CHAT_ID", "CHAT_ID"); v != "" {
		c.Dispatch.Recipient = v
	}
	if v := os.Getenv("AVIS_ALERT_CHAT_ID"); v != "" {
		c.Dispatch.AlertRecipient = v
	}
	if v := os.Getenv("AVIS_WEBHOOK_URL"); v != "" {
		c.Channel.Webhook.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AVIS_LEDGER"); v != "" {
		c.Ledger.Path = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if _, err := recency.ParseWindow(string(c.Recency.Window)); err != nil {
		errs = append(errs, err)
	}
	if _, err := recency.ParseUndated(string(c.Recency.Undated)); err != nil {
		errs = append(errs, err)
	}
	if c.Dates.Timezone != "" {
		if _, err := time.LoadLocation(c.Dates.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("dates.timezone: %w", err))
		}
	}
	switch strings.ToLower(c.Ledger.Synchronous) {
	case "", "off", "normal", "full", "extra":
	default:
		errs = append(errs, fmt.Errorf("ledger.synchronous: unknown mode %q", c.Ledger.Synchronous))
	}
	switch c.Channel.Platform {
	case "telegram":
		if c.Channel.Telegram.BotToken == "" {
			errs = append(errs, errors.New("telegram bot token is required (AVIS_BOT_TOKEN)"))
		}
		if c.Dispatch.Recipient == "" {
			errs = append(errs, errors.New("recipient chat is required (AVIS_CHAT_ID)"))
		}
	case "webhook":
		if c.Channel.Webhook.URL == "" {
			errs = append(errs, errors.New("webhook url is required (AVIS_WEBHOOK_URL)"))
		}
	case "stdout":
	default:
		errs = append(errs, fmt.Errorf("unknown channel platform %q (have %v)", c.Channel.Platform, channels.Platforms()))
	}
	for i, s := range c.Sources {
		if err := validURL(s.URL); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("not an http(s) URL: %q", raw)
	}
	return nil
}

// LogLevel maps Log.Level to a slog level (unknown → info).
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AllSources returns the inline sources followed by those of SourcesFile,
// deduplicated by URL.
func (c *Config) AllSources() ([]Source, error) {
	out := append([]Source(nil), c.Sources...)
	if c.SourcesFile != "" {
		data, err := os.ReadFile(c.SourcesFile)
		if err != nil {
			return nil, fmt.Errorf("%w: sources file: %w", ErrConfig, err)
		}
		more, err := ParseSources(data)
		if err != nil {
			return nil, fmt.Errorf("%w: sources file %s: %w", ErrConfig, c.SourcesFile, err)
		}
		out = append(out, more...)
	}
	return dedupSources(out), nil
}

// ParseSources reads a source catalog: a YAML list of sources, a YAML
// mapping with a sources key, or plain text with one URL per line ('#'
// starts a comment).
func ParseSources(data []byte) ([]Source, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '-' || bytes.HasPrefix(trimmed, []byte("sources:")) {
		var list []Source
		if err := yaml.Unmarshal(trimmed, &list); err == nil {
			return checkSources(list)
		}
		var urls []string
		if err := yaml.Unmarshal(trimmed, &urls); err == nil {
			return SourcesFromURLs(urls)
		}
		var doc struct {
			Sources []Source `yaml:"sources"`
		}
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		return checkSources(doc.Sources)
	}
	var list []Source
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		list = append(list, Source{URL: line})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return checkSources(list)
}

func checkSources(list []Source) ([]Source, error) {
	for i := range list {
		list[i].URL = strings.TrimSpace(list[i].URL)
		if err := validURL(list[i].URL); err != nil {
			return nil, fmt.Errorf("source %d: %w", i+1, err)
		}
	}
	return list, nil
}

func dedupSources(list []Source) []Source {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	return out
}

// SourcesFromURLs builds sources from bare URLs (--source flags).
func SourcesFromURLs(urls []string) ([]Source, error) {
	list := make([]Source, 0, len(urls))
	for _, u := range urls {
		list = append(list, Source{URL: u})
	}
	list, err := checkSources(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return dedupSources(list), nil
}
