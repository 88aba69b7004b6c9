package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TelemetryConfig selects where transcription spans and pipeline metrics go.
// Traces is one of none, stdout (written to stderr, next to the logs) or otlp.
type TelemetryConfig struct {
	LogLevel     string  `yaml:"log_level"`
	Traces       string  `yaml:"traces"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
	Metrics      bool    `yaml:"metrics"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Recorder    RecorderConfig  `yaml:"recorder"`
	STT         STTConfig       `yaml:"stt"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Session     SessionConfig   `yaml:"session"`
	Delivery    DeliveryConfig  `yaml:"delivery"`
	History     HistoryConfig   `yaml:"history"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// RecorderConfig describes the external capture process. Command, when set,
// replaces the built-in sox invocation; the output path is appended last.
type RecorderConfig struct {
	Command       string `yaml:"command"`
	Directory     string `yaml:"directory"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	BitDepth      int    `yaml:"bit_depth"`
	StopTimeoutMS int    `yaml:"stop_timeout_ms"`
	CleanupOnExit bool   `yaml:"cleanup_on_exit"`
}

type STTConfig struct {
	Mode         string `yaml:"mode"` // mock, exec, whisper_cpp
	Command      string `yaml:"command"`
	Model        string `yaml:"model"`
	ModelPath    string `yaml:"model_path"`
	Language     string `yaml:"language"`
	BeamSize     int    `yaml:"beam_size"`
	VADFilter    bool   `yaml:"vad_filter"`
	MinSilenceMS int    `yaml:"min_silence_ms"`
	Threads      int    `yaml:"threads"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type PipelineConfig struct {
	PollIntervalMS  int  `yaml:"poll_interval_ms"`
	MaxRetries      int  `yaml:"max_retries"`
	RetryBackoffMS  int  `yaml:"retry_backoff_ms"`
	DeleteOnSuccess bool `yaml:"delete_on_success"`
}

type SessionConfig struct {
	IdleTimeoutMS int  `yaml:"idle_timeout_ms"`
	Autostart     bool `yaml:"autostart"`
	Continuous    bool `yaml:"continuous"`
}

type ClipboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // command, native
	Command string `yaml:"command"`
}

type DeliveryConfig struct {
	Clipboard ClipboardConfig `yaml:"clipboard"`
	Console   bool            `yaml:"console"`
	Bus       bool            `yaml:"bus"`
	History   bool            `yaml:"history"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9464,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			Traces:       "none",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			SampleRatio:  1,
			Metrics:      true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Recorder: RecorderConfig{
			Directory:     "/tmp/recordings",
			SampleRate:    16000,
			Channels:      1,
			BitDepth:      16,
			StopTimeoutMS: 5000,
			CleanupOnExit: true,
		},
		STT: STTConfig{
			Mode:         "exec",
			Command:      "faster-whisper-json",
			Model:        "distil-small.en",
			Language:     "en",
			BeamSize:     2,
			VADFilter:    true,
			MinSilenceMS: 500,
			TimeoutMS:    300000,
		},
		Pipeline: PipelineConfig{
			PollIntervalMS: 500,
			MaxRetries:     0,
			RetryBackoffMS: 1000,
		},
		Session: SessionConfig{
			IdleTimeoutMS: 0,
			Autostart:     true,
		},
		Delivery: DeliveryConfig{
			Clipboard: ClipboardConfig{
				Enabled: true,
				Mode:    "command",
				Command: "wl-copy",
			},
			Console: true,
			History: true,
		},
		History: HistoryConfig{
			Path:          "./data/scribe-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "SCRIBE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.Traces, "SCRIBE_TELEMETRY_TRACES")
	overrideFloat(&cfg.Telemetry.SampleRatio, "SCRIBE_TELEMETRY_SAMPLE_RATIO")
	overrideBool(&cfg.Telemetry.Metrics, "SCRIBE_TELEMETRY_METRICS")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Recorder.Command, "SCRIBE_RECORDER_COMMAND")
	overrideString(&cfg.Recorder.Directory, "SCRIBE_RECORDER_DIRECTORY")
	overrideInt(&cfg.Recorder.SampleRate, "SCRIBE_RECORDER_SAMPLE_RATE")
	overrideInt(&cfg.Recorder.Channels, "SCRIBE_RECORDER_CHANNELS")
	overrideInt(&cfg.Recorder.BitDepth, "SCRIBE_RECORDER_BIT_DEPTH")
	overrideInt(&cfg.Recorder.StopTimeoutMS, "SCRIBE_RECORDER_STOP_TIMEOUT_MS")
	overrideBool(&cfg.Recorder.CleanupOnExit, "SCRIBE_RECORDER_CLEANUP_ON_EXIT")
	overrideString(&cfg.STT.Mode, "SCRIBE_STT_MODE")
	overrideString(&cfg.STT.Command, "SCRIBE_STT_COMMAND")
	overrideString(&cfg.STT.Model, "SCRIBE_STT_MODEL")
	overrideString(&cfg.STT.ModelPath, "SCRIBE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "SCRIBE_STT_LANGUAGE")
	overrideInt(&cfg.STT.BeamSize, "SCRIBE_STT_BEAM_SIZE")
	overrideBool(&cfg.STT.VADFilter, "SCRIBE_STT_VAD_FILTER")
	overrideInt(&cfg.STT.MinSilenceMS, "SCRIBE_STT_MIN_SILENCE_MS")
	overrideInt(&cfg.STT.Threads, "SCRIBE_STT_THREADS")
	overrideInt(&cfg.STT.TimeoutMS, "SCRIBE_STT_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.PollIntervalMS, "SCRIBE_PIPELINE_POLL_INTERVAL_MS")
	overrideInt(&cfg.Pipeline.MaxRetries, "SCRIBE_PIPELINE_MAX_RETRIES")
	overrideInt(&cfg.Pipeline.RetryBackoffMS, "SCRIBE_PIPELINE_RETRY_BACKOFF_MS")
	overrideBool(&cfg.Pipeline.DeleteOnSuccess, "SCRIBE_PIPELINE_DELETE_ON_SUCCESS")
	overrideInt(&cfg.Session.IdleTimeoutMS, "SCRIBE_SESSION_IDLE_TIMEOUT_MS")
	overrideBool(&cfg.Session.Autostart, "SCRIBE_SESSION_AUTOSTART")
	overrideBool(&cfg.Session.Continuous, "SCRIBE_SESSION_CONTINUOUS")
	overrideBool(&cfg.Delivery.Clipboard.Enabled, "SCRIBE_DELIVERY_CLIPBOARD_ENABLED")
	overrideString(&cfg.Delivery.Clipboard.Mode, "SCRIBE_DELIVERY_CLIPBOARD_MODE")
	overrideString(&cfg.Delivery.Clipboard.Command, "SCRIBE_DELIVERY_CLIPBOARD_COMMAND")
	overrideBool(&cfg.Delivery.Console, "SCRIBE_DELIVERY_CONSOLE")
	overrideBool(&cfg.Delivery.Bus, "SCRIBE_DELIVERY_BUS")
	overrideBool(&cfg.Delivery.History, "SCRIBE_DELIVERY_HISTORY")
	overrideString(&cfg.History.Path, "SCRIBE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "SCRIBE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "SCRIBE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "SCRIBE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "SCRIBE_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.Traces {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when traces=otlp")
		}
	default:
		return errors.New("telemetry.traces must be one of none|stdout|otlp")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Recorder.Directory == "" {
		return errors.New("recorder.directory must not be empty")
	}
	if cfg.Recorder.SampleRate <= 0 {
		return errors.New("recorder.sample_rate must be positive")
	}
	if cfg.Recorder.Channels <= 0 {
		return errors.New("recorder.channels must be positive")
	}
	if cfg.Recorder.BitDepth != 16 {
		return errors.New("recorder.bit_depth must be 16")
	}
	if cfg.Recorder.StopTimeoutMS <= 0 {
		return errors.New("recorder.stop_timeout_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "whisper_cpp":
	default:
		return errors.New("stt.mode must be one of mock|exec|whisper_cpp")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode == "whisper_cpp" && cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=whisper_cpp")
	}
	if cfg.STT.BeamSize <= 0 {
		return errors.New("stt.beam_size must be >= 1")
	}
	if cfg.STT.MinSilenceMS < 0 {
		return errors.New("stt.min_silence_ms must be >= 0")
	}
	if cfg.Pipeline.PollIntervalMS <= 0 {
		return errors.New("pipeline.poll_interval_ms must be positive")
	}
	if cfg.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	if cfg.Session.IdleTimeoutMS < 0 {
		return errors.New("session.idle_timeout_ms must be >= 0")
	}
	if cfg.Delivery.Clipboard.Enabled {
		switch cfg.Delivery.Clipboard.Mode {
		case "command":
			if cfg.Delivery.Clipboard.Command == "" {
				return errors.New("delivery.clipboard.command must be set when mode=command")
			}
		case "native":
		default:
			return errors.New("delivery.clipboard.mode must be one of command|native")
		}
	}
	if cfg.Delivery.Bus && !cfg.Bus.Enabled {
		return errors.New("delivery.bus requires bus.enabled")
	}
	if cfg.Delivery.History {
		switch cfg.History.RetentionMode {
		case "ephemeral", "session", "persistent":
		default:
			return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
		}
		if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
			return errors.New("history.path must not be empty")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	return nil
}
