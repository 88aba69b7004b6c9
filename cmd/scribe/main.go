package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		os.Exit(run(nil))
	}
	switch os.Args[1] {
	case "run":
		os.Exit(run(os.Args[2:]))
	case "transcribe":
		os.Exit(transcribe(os.Args[2:]))
	case "history":
		os.Exit(history(os.Args[2:]))
	case "version":
		fmt.Println(version)
	default:
		if strings.HasPrefix(os.Args[1], "-") {
			os.Exit(run(os.Args[1:]))
		}
		fmt.Fprintf(os.Stderr, "unknown command %q, expected run, transcribe, history or version\n", os.Args[1])
		os.Exit(2)
	}
}

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	fs.Parse(args)

	cfg, logger, ok := load(*configPath)
	if !ok {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	abort, cancelAbort := context.WithCancel(context.Background())
	defer cancelAbort()
	go func() {
		<-ctx.Done()
		stop()
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			logger.Warn("second signal, abandoning pending transcriptions")
			cancelAbort()
		case <-abort.Done():
		}
	}()

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx, abort); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func transcribe(args []string) int {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	noCopy := fs.Bool("no-copy", false, "Do not copy the transcript to the clipboard")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scribe transcribe [-config file] [-no-copy] <audio.wav>")
		return 2
	}

	cfg, logger, ok := load(*configPath)
	if !ok {
		return 1
	}
	if *noCopy {
		cfg.Delivery.Clipboard.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runtime.TranscribeFile(ctx, cfg, fs.Arg(0), os.Stdout, nil, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func history(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("n", 10, "Number of transcripts to show")
	fs.Parse(args)

	cfg, logger, ok := load(*configPath)
	if !ok {
		return 1
	}
	if err := runtime.PrintHistory(context.Background(), cfg.History, os.Stdout, *limit, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// load reads config and builds the JSON logger. Logs go to stderr because
// stdout is the operator console.
func load(path string) (config.Config, *slog.Logger, bool) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return cfg, logger, false
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	return cfg, logger, true
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
