package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/mattn/go-shellwords"
)

// ClipboardSink replaces the system clipboard with each non-empty transcript.
type ClipboardSink struct {
	write  func(ctx context.Context, text string) error
	logger *slog.Logger
}

// NewClipboardSink selects the clipboard backend. "command" pipes the text
// into an external tool such as wl-copy; "native" uses the platform clipboard.
func NewClipboardSink(cfg config.ClipboardConfig, logger *slog.Logger) (*ClipboardSink, error) {
	s := &ClipboardSink{logger: logger.With(slog.String("component", "clipboard"))}
	switch cfg.Mode {
	case "", "command":
		args, err := shellwords.NewParser().Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse clipboard command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("clipboard command is empty")
		}
		s.write = commandWriter(args)
	case "native":
		if clipboard.Unsupported {
			return nil, errors.New("native clipboard unsupported on this system")
		}
		s.write = func(_ context.Context, text string) error { return clipboard.WriteAll(text) }
	default:
		return nil, fmt.Errorf("unknown clipboard mode %q", cfg.Mode)
	}
	return s, nil
}

func commandWriter(args []string) func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdin = strings.NewReader(text)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%s: %w: %s", args[0], err, msg)
			}
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return nil
	}
}

func (s *ClipboardSink) Name() string { return "clipboard" }

// Deliver copies successful, non-empty transcripts. Failed and empty results
// leave the clipboard untouched.
func (s *ClipboardSink) Deliver(ctx context.Context, result pipeline.Result) error {
	if result.Failed() || result.Text == "" {
		return nil
	}
	return s.Copy(ctx, result.Text)
}

// Copy places text on the clipboard.
func (s *ClipboardSink) Copy(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := s.write(ctx, text); err != nil {
		return fmt.Errorf("%w: clipboard: %w", ErrDeliveryFailed, err)
	}
	s.logger.Debug("transcript copied", slog.Int("chars", len(text)))
	return nil
}
