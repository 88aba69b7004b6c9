//go:build !whisper_cpp

package stt

import (
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// ErrWhisperUnavailable is returned when the binary was built without cgo whisper.cpp support.
var ErrWhisperUnavailable = errors.New("whisper_cpp mode requires building with -tags whisper_cpp")

func NewWhisperEngine(_ config.STTConfig, _ *slog.Logger) (Engine, error) {
	return nil, ErrWhisperUnavailable
}
