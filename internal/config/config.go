package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	Mode             string  `yaml:"mode"` // mock, exec
	Command          string  `yaml:"command"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	BlockSize        int     `yaml:"block_size"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

type TranscriberConfig struct {
	Mode         string  `yaml:"mode"` // mock, exec, wasm
	Command      string  `yaml:"command"`
	ModulePath   string  `yaml:"module_path"`
	ModelPath    string  `yaml:"model_path"`
	Language     string  `yaml:"language"`
	ChunkLength  float64 `yaml:"chunk_length_s"`
	StrideLength float64 `yaml:"stride_length_s"`
	InitTimeout  int     `yaml:"init_timeout_ms"`
}

type CompletionConfig struct {
	Mode            string  `yaml:"mode"` // mock, http
	Endpoint        string  `yaml:"endpoint"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int     `yaml:"cache_max_entries"`
}

type SpeechConfig struct {
	Mode             string `yaml:"mode"` // mock, exec
	Command          string `yaml:"command"`
	SinkCommand      string `yaml:"sink_command"`
	Locale           string `yaml:"locale"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	DiscoveryTimeout int    `yaml:"discovery_timeout_ms"`
	PrepareWait      int    `yaml:"prepare_wait_ms"`
}

type PipelineConfig struct {
	SpeechRate     float64 `yaml:"speech_rate"`
	SpeechVolume   float64 `yaml:"speech_volume"`
	CachingEnabled bool    `yaml:"caching_enabled"`
	MaxRetries     int     `yaml:"max_retries"`
	HistorySize    int     `yaml:"history_size"`
}

type RateLimitConfig struct {
	MaxRequests int `yaml:"max_requests"`
	WindowMS    int `yaml:"window_ms"`
}

type HistoryConfig struct {
	Path      string `yaml:"path"`
	MaxCycles int    `yaml:"max_cycles"`
	Ephemeral bool   `yaml:"ephemeral"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Completion  CompletionConfig  `yaml:"completion"`
	Speech      SpeechConfig      `yaml:"speech"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	History     HistoryConfig     `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxloop-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Mode:             "mock",
			SampleRate:       16000,
			Channels:         1,
			BlockSize:        4096,
			SilenceThreshold: 0.01,
		},
		Transcriber: TranscriberConfig{
			Mode:         "mock",
			Language:     "en",
			ChunkLength:  30,
			StrideLength: 5,
			InitTimeout:  120000,
		},
		Completion: CompletionConfig{
			Mode:            "mock",
			Endpoint:        "https://generativelanguage.googleapis.com",
			Model:           "gemini-2.0-flash",
			MaxOutputTokens: 150,
			Temperature:     0.7,
			TopP:            0.8,
			TopK:            40,
			TimeoutMS:       8000,
			CacheTTLSeconds: 300,
			CacheMaxEntries: 1024,
		},
		Speech: SpeechConfig{
			Mode:             "mock",
			Locale:           "en-US",
			SampleRate:       22050,
			Channels:         1,
			DiscoveryTimeout: 5000,
			PrepareWait:      1500,
		},
		Pipeline: PipelineConfig{
			SpeechRate:     1.0,
			SpeechVolume:   1.0,
			CachingEnabled: true,
			MaxRetries:     3,
			HistorySize:    20,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 30,
			WindowMS:    60000,
		},
		History: HistoryConfig{
			Path:      "./data/voxloop-cycles.db",
			MaxCycles: 10000,
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
	overrideString(&cfg.RuntimeName, "VOXLOOP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXLOOP_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXLOOP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXLOOP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXLOOP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXLOOP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXLOOP_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXLOOP_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXLOOP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXLOOP_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXLOOP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXLOOP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXLOOP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXLOOP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXLOOP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXLOOP_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "VOXLOOP_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "VOXLOOP_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "VOXLOOP_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "VOXLOOP_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.BlockSize, "VOXLOOP_CAPTURE_BLOCK_SIZE")
	overrideFloat(&cfg.Capture.SilenceThreshold, "VOXLOOP_CAPTURE_SILENCE_THRESHOLD")
	overrideString(&cfg.Transcriber.Mode, "VOXLOOP_TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.Command, "VOXLOOP_TRANSCRIBER_COMMAND")
	overrideString(&cfg.Transcriber.ModulePath, "VOXLOOP_TRANSCRIBER_MODULE_PATH")
	overrideString(&cfg.Transcriber.ModelPath, "VOXLOOP_TRANSCRIBER_MODEL_PATH")
	overrideString(&cfg.Transcriber.Language, "VOXLOOP_TRANSCRIBER_LANGUAGE")
	overrideFloat(&cfg.Transcriber.ChunkLength, "VOXLOOP_TRANSCRIBER_CHUNK_LENGTH_S")
	overrideFloat(&cfg.Transcriber.StrideLength, "VOXLOOP_TRANSCRIBER_STRIDE_LENGTH_S")
	overrideInt(&cfg.Transcriber.InitTimeout, "VOXLOOP_TRANSCRIBER_INIT_TIMEOUT_MS")
	overrideString(&cfg.Completion.Mode, "VOXLOOP_COMPLETION_MODE")
	overrideString(&cfg.Completion.Endpoint, "VOXLOOP_COMPLETION_ENDPOINT")
	overrideString(&cfg.Completion.Model, "VOXLOOP_COMPLETION_MODEL")
	overrideString(&cfg.Completion.APIKey, "VOXLOOP_COMPLETION_API_KEY")
	overrideInt(&cfg.Completion.MaxOutputTokens, "VOXLOOP_COMPLETION_MAX_OUTPUT_TOKENS")
	overrideFloat(&cfg.Completion.Temperature, "VOXLOOP_COMPLETION_TEMPERATURE")
	overrideFloat(&cfg.Completion.TopP, "VOXLOOP_COMPLETION_TOP_P")
	overrideInt(&cfg.Completion.TopK, "VOXLOOP_COMPLETION_TOP_K")
	overrideInt(&cfg.Completion.TimeoutMS, "VOXLOOP_COMPLETION_TIMEOUT_MS")
	overrideInt(&cfg.Completion.CacheTTLSeconds, "VOXLOOP_COMPLETION_CACHE_TTL_SECONDS")
	overrideInt(&cfg.Completion.CacheMaxEntries, "VOXLOOP_COMPLETION_CACHE_MAX_ENTRIES")
	overrideString(&cfg.Speech.Mode, "VOXLOOP_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "VOXLOOP_SPEECH_COMMAND")
	overrideString(&cfg.Speech.SinkCommand, "VOXLOOP_SPEECH_SINK_COMMAND")
	overrideString(&cfg.Speech.Locale, "VOXLOOP_SPEECH_LOCALE")
	overrideInt(&cfg.Speech.SampleRate, "VOXLOOP_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "VOXLOOP_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.DiscoveryTimeout, "VOXLOOP_SPEECH_DISCOVERY_TIMEOUT_MS")
	overrideInt(&cfg.Speech.PrepareWait, "VOXLOOP_SPEECH_PREPARE_WAIT_MS")
	overrideFloat(&cfg.Pipeline.SpeechRate, "VOXLOOP_PIPELINE_SPEECH_RATE")
	overrideFloat(&cfg.Pipeline.SpeechVolume, "VOXLOOP_PIPELINE_SPEECH_VOLUME")
	overrideBool(&cfg.Pipeline.CachingEnabled, "VOXLOOP_PIPELINE_CACHING_ENABLED")
	overrideInt(&cfg.Pipeline.MaxRetries, "VOXLOOP_PIPELINE_MAX_RETRIES")
	overrideInt(&cfg.Pipeline.HistorySize, "VOXLOOP_PIPELINE_HISTORY_SIZE")
	overrideInt(&cfg.RateLimit.MaxRequests, "VOXLOOP_RATE_LIMIT_MAX_REQUESTS")
	overrideInt(&cfg.RateLimit.WindowMS, "VOXLOOP_RATE_LIMIT_WINDOW_MS")
	overrideString(&cfg.History.Path, "VOXLOOP_HISTORY_PATH")
	overrideInt(&cfg.History.MaxCycles, "VOXLOOP_HISTORY_MAX_CYCLES")
	overrideBool(&cfg.History.Ephemeral, "VOXLOOP_HISTORY_EPHEMERAL")
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
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels != 1 {
		return errors.New("capture.channels must be 1 (mono)")
	}
	if cfg.Capture.BlockSize < 2048 || cfg.Capture.BlockSize > 4096 {
		return errors.New("capture.block_size must be between 2048 and 4096")
	}
	if cfg.Capture.SilenceThreshold < 0 || cfg.Capture.SilenceThreshold >= 1 {
		return errors.New("capture.silence_threshold must be in [0, 1)")
	}
	switch cfg.Transcriber.Mode {
	case "mock", "exec", "wasm":
	default:
		return errors.New("transcriber.mode must be one of mock|exec|wasm")
	}
	if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when mode=exec")
	}
	if cfg.Transcriber.Mode == "wasm" && cfg.Transcriber.ModulePath == "" {
		return errors.New("transcriber.module_path must be set when mode=wasm")
	}
	if cfg.Transcriber.ChunkLength <= 0 {
		return errors.New("transcriber.chunk_length_s must be positive")
	}
	if cfg.Transcriber.StrideLength < 0 {
		return errors.New("transcriber.stride_length_s must be >= 0")
	}
	switch cfg.Completion.Mode {
	case "mock", "http":
	default:
		return errors.New("completion.mode must be one of mock|http")
	}
	if cfg.Completion.Mode == "http" {
		if cfg.Completion.Endpoint == "" {
			return errors.New("completion.endpoint must be set when mode=http")
		}
		if cfg.Completion.APIKey == "" {
			return errors.New("completion.api_key must be set when mode=http (use VOXLOOP_COMPLETION_API_KEY)")
		}
	}
	if cfg.Completion.TimeoutMS <= 0 {
		return errors.New("completion.timeout_ms must be positive")
	}
	if cfg.Completion.CacheTTLSeconds <= 0 {
		return errors.New("completion.cache_ttl_seconds must be positive")
	}
	if cfg.Completion.CacheMaxEntries <= 0 {
		return errors.New("completion.cache_max_entries must be positive")
	}
	switch cfg.Speech.Mode {
	case "mock", "exec":
	default:
		return errors.New("speech.mode must be one of mock|exec")
	}
	if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
		return errors.New("speech.command must be set when mode=exec")
	}
	if cfg.Speech.Locale == "" {
		return errors.New("speech.locale must not be empty")
	}
	if cfg.Speech.SampleRate <= 0 {
		return errors.New("speech.sample_rate must be positive")
	}
	if cfg.Pipeline.SpeechRate <= 0 {
		return errors.New("pipeline.speech_rate must be positive")
	}
	if cfg.Pipeline.SpeechVolume < 0 || cfg.Pipeline.SpeechVolume > 1 {
		return errors.New("pipeline.speech_volume must be in [0, 1]")
	}
	if cfg.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	if cfg.Pipeline.HistorySize <= 0 {
		return errors.New("pipeline.history_size must be >= 1")
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		return errors.New("rate_limit.max_requests must be positive")
	}
	if cfg.RateLimit.WindowMS <= 0 {
		return errors.New("rate_limit.window_ms must be positive")
	}
	if !cfg.History.Ephemeral && cfg.History.Path == "" {
		return errors.New("history.path must not be empty unless history.ephemeral is set")
	}
	if cfg.History.MaxCycles < 0 {
		return errors.New("history.max_cycles must be >= 0")
	}
	return nil
}
