package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/delivery"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// TranscribeFile transcribes one existing recording, prints the result and
// copies it to the clipboard when configured. load may be nil to use the
// configured backend.
func TranscribeFile(ctx context.Context, cfg config.Config, path string, out io.Writer, load pipeline.EngineLoader, logger *slog.Logger) error {
	if _, err := audio.Probe(path); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrTranscriptionFailed, err)
	}
	if load == nil {
		load = func(context.Context) (stt.Engine, error) { return stt.New(cfg.STT, logger) }
	}
	engine, err := load(ctx)
	if err != nil {
		return fmt.Errorf("load engine: %w", err)
	}
	defer engine.Close()

	fmt.Fprintln(out, "Transcribing...")
	start := time.Now()
	segments, err := engine.Transcribe(ctx, path, stt.OptionsFromConfig(cfg.STT))
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrTranscriptionFailed, err)
	}
	text := stt.Join(segments)
	elapsed := time.Since(start)

	fmt.Fprintf(out, "Model: %s\n", cfg.STT.Model)
	fmt.Fprintf(out, "Transcription time: %.2f seconds\n", elapsed.Seconds())
	fmt.Fprintf(out, "Transcription: %s\n", text)

	if text == "" || !cfg.Delivery.Clipboard.Enabled {
		return nil
	}
	clip, err := delivery.NewClipboardSink(cfg.Delivery.Clipboard, logger)
	if err != nil {
		return err
	}
	if err := clip.Copy(ctx, text); err != nil {
		logger.Warn("copy failed", slogError(err))
		return nil
	}
	fmt.Fprintln(out, "Transcription copied to clipboard")
	return nil
}

// PrintHistory writes the newest limit transcripts, oldest first.
func PrintHistory(ctx context.Context, cfg config.HistoryConfig, out io.Writer, limit int, logger *slog.Logger) error {
	store, err := eventstore.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if !store.Persistent() {
		return fmt.Errorf("history retention mode %q keeps nothing between runs", cfg.RetentionMode)
	}
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %5.1fs  %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Audio.Seconds(), e.Text)
	}
	return nil
}
