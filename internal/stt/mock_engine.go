package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type mockEngine struct{}

func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(ctx context.Context, path string, _ Options) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return []Segment{{
		Text: fmt.Sprintf(" [mock transcript %s bytes=%d] ", filepath.Base(path), info.Size()),
	}}, nil
}

func (m *mockEngine) Close() error { return nil }
