package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Stdout writes messages to a writer instead of delivering them. Used for
// dry runs; every Send succeeds unless the write fails.
type Stdout struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

// NewStdout writes to w (os.Stdout when nil).
func NewStdout(w io.Writer, logger *slog.Logger) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdout{w: w, logger: logger}
}

func (s *Stdout) Platform() string { return "stdout" }

func (s *Stdout) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "--- to %s (%s)\n%s\n", msg.Recipient, renderName(msg.RenderMode), msg.Text); err != nil {
		return &SendError{Platform: "stdout", Cause: err}
	}
	s.logger.Info("channels: dry-run message", "recipient", msg.Recipient, "bytes", len(msg.Text))
	return nil
}

func renderName(m RenderMode) string {
	if m == RenderPlain {
		return "plain"
	}
	return string(m)
}
