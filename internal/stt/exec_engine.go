package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/procgroup"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd   []string
	model string
}

type execSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type execResult struct {
	Language string        `json:"language"`
	Segments []execSegment `json:"segments"`
}

// NewExecEngine wraps a helper process that prints segments as JSON on stdout.
// The binary is resolved up front so a missing helper fails at load time.
func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	resolved, err := exec.LookPath(args[0])
	if err != nil {
		return nil, fmt.Errorf("stt command %q: %w", args[0], err)
	}
	args[0] = resolved
	return &execEngine{cmd: args, model: cfg.Model}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, path string, opts Options) ([]Segment, error) {
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, buildExecArgs(path, e.model, opts)...)

	command := exec.CommandContext(ctx, e.cmd[0], cmdArgs...)
	procgroup.Isolate(command)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}
	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Text:  s.Text,
			Start: seconds(s.Start),
			End:   seconds(s.End),
		})
	}
	return segments, nil
}

func (e *execEngine) Close() error { return nil }

func buildExecArgs(path, model string, opts Options) []string {
	args := []string{"--audio", path}
	if model != "" {
		args = append(args, "--model", model)
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(opts.BeamSize))
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.VADFilter {
		args = append(args, "--vad-filter", "--min-silence-ms", strconv.Itoa(opts.MinSilenceMS))
	}
	return args
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
