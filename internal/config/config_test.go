package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recorder.SampleRate != 16000 || cfg.Recorder.Channels != 1 || cfg.Recorder.BitDepth != 16 {
		t.Fatalf("unexpected recorder format: %+v", cfg.Recorder)
	}
	if cfg.STT.Language != "en" || cfg.STT.BeamSize != 2 || !cfg.STT.VADFilter || cfg.STT.MinSilenceMS != 500 {
		t.Fatalf("unexpected stt defaults: %+v", cfg.STT)
	}
	if cfg.Pipeline.MaxRetries != 0 {
		t.Fatalf("expected no retries by default, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Delivery.Clipboard.Command != "wl-copy" {
		t.Fatalf("expected wl-copy clipboard command, got %q", cfg.Delivery.Clipboard.Command)
	}
	if cfg.Telemetry.Traces != "none" || !cfg.Telemetry.Metrics || cfg.Telemetry.SampleRatio != 1 {
		t.Fatalf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	data := []byte(`
stt:
  mode: mock
  beam_size: 5
session:
  idle_timeout_ms: 600000
  continuous: true
delivery:
  clipboard:
    mode: native
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.STT.Mode != "mock" || cfg.STT.BeamSize != 5 {
		t.Fatalf("expected stt overrides from file, got %+v", cfg.STT)
	}
	if cfg.STT.Language != "en" {
		t.Fatalf("expected unset fields to keep defaults, got %q", cfg.STT.Language)
	}
	if cfg.Session.IdleTimeoutMS != 600000 || !cfg.Session.Continuous {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Delivery.Clipboard.Mode != "native" {
		t.Fatalf("expected native clipboard, got %q", cfg.Delivery.Clipboard.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_BUS_ENABLED", "true")
	t.Setenv("SCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SCRIBE_BUS_USERNAME", "alice")
	t.Setenv("SCRIBE_RECORDER_DIRECTORY", "/var/tmp/rec")
	t.Setenv("SCRIBE_STT_MODE", "mock")
	t.Setenv("SCRIBE_STT_BEAM_SIZE", "4")
	t.Setenv("SCRIBE_STT_VAD_FILTER", "false")
	t.Setenv("SCRIBE_PIPELINE_MAX_RETRIES", "1")
	t.Setenv("SCRIBE_SESSION_IDLE_TIMEOUT_MS", "600")
	t.Setenv("SCRIBE_DELIVERY_BUS", "true")
	t.Setenv("SCRIBE_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("SCRIBE_TELEMETRY_TRACES", "stdout")
	t.Setenv("SCRIBE_TELEMETRY_SAMPLE_RATIO", "0.25")
	t.Setenv("SCRIBE_TELEMETRY_METRICS", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Servers[1] != "nats://two:4222" {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" {
		t.Fatalf("expected username override")
	}
	if cfg.Recorder.Directory != "/var/tmp/rec" {
		t.Fatalf("expected recorder directory override")
	}
	if cfg.STT.Mode != "mock" || cfg.STT.BeamSize != 4 || cfg.STT.VADFilter {
		t.Fatalf("unexpected stt overrides: %+v", cfg.STT)
	}
	if cfg.Pipeline.MaxRetries != 1 {
		t.Fatalf("expected retries override")
	}
	if cfg.Session.IdleTimeoutMS != 600 {
		t.Fatalf("expected idle timeout override")
	}
	if !cfg.Delivery.Bus {
		t.Fatalf("expected bus delivery override")
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected retention override")
	}
	if cfg.Telemetry.Traces != "stdout" || cfg.Telemetry.SampleRatio != 0.25 || cfg.Telemetry.Metrics {
		t.Fatalf("unexpected telemetry overrides: %+v", cfg.Telemetry)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad stt mode":          func(c *Config) { c.STT.Mode = "cloud" },
		"exec without command":  func(c *Config) { c.STT.Mode = "exec"; c.STT.Command = "" },
		"whisper without model": func(c *Config) { c.STT.Mode = "whisper_cpp"; c.STT.ModelPath = "" },
		"bit depth":             func(c *Config) { c.Recorder.BitDepth = 24 },
		"negative retries":      func(c *Config) { c.Pipeline.MaxRetries = -1 },
		"clipboard mode":        func(c *Config) { c.Delivery.Clipboard.Mode = "x11" },
		"bus delivery":          func(c *Config) { c.Delivery.Bus = true; c.Bus.Enabled = false },
		"retention mode":        func(c *Config) { c.History.RetentionMode = "forever" },
		"trace exporter":        func(c *Config) { c.Telemetry.Traces = "jaeger" },
		"otlp without endpoint": func(c *Config) { c.Telemetry.Traces = "otlp"; c.Telemetry.OTLPEndpoint = " " },
		"sample ratio":          func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
