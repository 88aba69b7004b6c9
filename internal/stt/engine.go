package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Segment is one span of recognised speech.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Options are static decoding parameters passed on every call.
type Options struct {
	BeamSize     int
	Language     string
	VADFilter    bool
	MinSilenceMS int
}

// Engine abstracts STT backends. Implementations are loaded once and called
// from a single goroutine.
type Engine interface {
	Transcribe(ctx context.Context, path string, opts Options) ([]Segment, error)
	Close() error
}

// OptionsFromConfig builds decoding options from config.
func OptionsFromConfig(cfg config.STTConfig) Options {
	return Options{
		BeamSize:     cfg.BeamSize,
		Language:     cfg.Language,
		VADFilter:    cfg.VADFilter,
		MinSilenceMS: cfg.MinSilenceMS,
	}
}

// Join trims every segment and concatenates the non-empty ones with single spaces.
func Join(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// New loads the engine selected by cfg.Mode.
func New(cfg config.STTConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg)
	case "whisper_cpp":
		return NewWhisperEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
