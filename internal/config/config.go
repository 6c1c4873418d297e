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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// TraceStdout prints spans when no OTLP endpoint is configured.
	TraceStdout      bool    `yaml:"trace_stdout"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Source      SourceConfig     `yaml:"source"`
	Models      ModelsConfig     `yaml:"models"`
	Conversion  ConversionConfig `yaml:"conversion"`
	Profiles    ProfilesConfig   `yaml:"profiles"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// NodeConfig identifies this conversion worker on the bus.
type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SourceConfig controls how source utterances are acquired from text.
type SourceConfig struct {
	Mode         string `yaml:"mode"` // mock, exec
	Command      string `yaml:"command"`
	Proxy        string `yaml:"proxy"`
	OutputDir    string `yaml:"output_dir"`
	DefaultVoice string `yaml:"default_voice"`
	SampleRate   int    `yaml:"sample_rate"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

// ModelsConfig selects the backend for every neural collaborator.
type ModelsConfig struct {
	Backend     string `yaml:"backend"` // mock, exec, onnx
	Command     string `yaml:"command"`
	ORTLibPath  string `yaml:"ort_lib_path"`
	EncoderPath string `yaml:"encoder_path"`
	StylePath   string `yaml:"style_path"`
}

type ConversionConfig struct {
	EncoderSampleRate     int     `yaml:"encoder_sample_rate"`
	EncoderHop            int     `yaml:"encoder_hop"`
	EncoderContextSeconds int     `yaml:"encoder_context_seconds"`
	EncoderOverlapSeconds int     `yaml:"encoder_overlap_seconds"`
	PitchThreshold        float64 `yaml:"pitch_threshold"`
	ContextSeconds        int     `yaml:"context_seconds"`
	MaxReferenceSeconds   int     `yaml:"max_reference_seconds"`
	OverlapFrames         int     `yaml:"overlap_frames"`
	DiffusionSteps        int     `yaml:"diffusion_steps"`
	CFGRate               float64 `yaml:"cfg_rate"`
	LengthAdjust          float64 `yaml:"length_adjust"`
	Format                string  `yaml:"format"` // mp3, wav, pcm
	Bitrate               string  `yaml:"bitrate"`
	EncoderCommand        string  `yaml:"encoder_command"`
	OutputDir             string  `yaml:"output_dir"`
	TimeoutMS             int     `yaml:"timeout_ms"`
}

// ProfileConfig describes the acoustic front end of one decoder/vocoder pair.
type ProfileConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Hop        int `yaml:"hop"`
	NFFT       int `yaml:"n_fft"`
	WinLength  int `yaml:"win_length"`
	Mels       int `yaml:"mels"`
}

type ProfilesConfig struct {
	Plain ProfileConfig `yaml:"plain"`
	F0    ProfileConfig `yaml:"f0"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-vc",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,

			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Host:           "0.0.0.0",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-vc-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-vc-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Source: SourceConfig{
			Mode:         "mock",
			Command:      "edge-tts",
			OutputDir:    "./data/source",
			DefaultVoice: "zh-CN-YunjianNeural-Male",
			SampleRate:   24000,
			TimeoutMS:    30000,
		},
		Models: ModelsConfig{
			Backend: "mock",
		},
		Conversion: ConversionConfig{
			EncoderSampleRate:     16000,
			EncoderHop:            320,
			EncoderContextSeconds: 30,
			EncoderOverlapSeconds: 5,
			PitchThreshold:        0.03,
			ContextSeconds:        30,
			MaxReferenceSeconds:   25,
			OverlapFrames:         16,
			DiffusionSteps:        10,
			CFGRate:               0.7,
			LengthAdjust:          1.0,
			Format:                "mp3",
			Bitrate:               "320k",
			EncoderCommand:        "ffmpeg -hide_banner -loglevel error -f s16le -ar {rate} -ac 1 -i pipe:0 -b:a {bitrate} -f mp3 pipe:1",
			OutputDir:             "./data/output",
			TimeoutMS:             300000,
		},
		Profiles: ProfilesConfig{
			Plain: ProfileConfig{SampleRate: 22050, Hop: 256, NFFT: 1024, WinLength: 1024, Mels: 80},
			F0:    ProfileConfig{SampleRate: 44100, Hop: 512, NFFT: 2048, WinLength: 2048, Mels: 128},
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "LOQA_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Source.Mode, "LOQA_SOURCE_MODE")
	overrideString(&cfg.Source.Command, "LOQA_SOURCE_COMMAND")
	overrideString(&cfg.Source.Proxy, "LOQA_SOURCE_PROXY")
	overrideString(&cfg.Source.OutputDir, "LOQA_SOURCE_OUTPUT_DIR")
	overrideString(&cfg.Source.DefaultVoice, "LOQA_SOURCE_DEFAULT_VOICE")
	overrideInt(&cfg.Source.TimeoutMS, "LOQA_SOURCE_TIMEOUT_MS")
	overrideString(&cfg.Models.Backend, "LOQA_MODELS_BACKEND")
	overrideString(&cfg.Models.Command, "LOQA_MODELS_COMMAND")
	overrideString(&cfg.Models.ORTLibPath, "LOQA_MODELS_ORT_LIB_PATH")
	overrideString(&cfg.Models.EncoderPath, "LOQA_MODELS_ENCODER_PATH")
	overrideString(&cfg.Models.StylePath, "LOQA_MODELS_STYLE_PATH")
	overrideFloat(&cfg.Conversion.PitchThreshold, "LOQA_CONVERSION_PITCH_THRESHOLD")
	overrideInt(&cfg.Conversion.OverlapFrames, "LOQA_CONVERSION_OVERLAP_FRAMES")
	overrideInt(&cfg.Conversion.DiffusionSteps, "LOQA_CONVERSION_DIFFUSION_STEPS")
	overrideFloat(&cfg.Conversion.CFGRate, "LOQA_CONVERSION_CFG_RATE")
	overrideString(&cfg.Conversion.Format, "LOQA_CONVERSION_FORMAT")
	overrideString(&cfg.Conversion.Bitrate, "LOQA_CONVERSION_BITRATE")
	overrideString(&cfg.Conversion.EncoderCommand, "LOQA_CONVERSION_ENCODER_COMMAND")
	overrideString(&cfg.Conversion.OutputDir, "LOQA_CONVERSION_OUTPUT_DIR")
	overrideInt(&cfg.Conversion.TimeoutMS, "LOQA_CONVERSION_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be > 0")
	}
	if cfg.Node.HeartbeatTimeout < cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be >= heartbeat_interval_ms")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Source.Mode {
	case "mock", "exec":
	default:
		return errors.New("source.mode must be one of mock|exec")
	}
	if cfg.Source.Mode == "exec" && cfg.Source.Command == "" {
		return errors.New("source.command must be set when mode=exec")
	}
	switch cfg.Models.Backend {
	case "mock":
	case "exec":
		if cfg.Models.Command == "" {
			return errors.New("models.command must be set when backend=exec")
		}
	case "onnx":
		if cfg.Models.EncoderPath == "" || cfg.Models.StylePath == "" {
			return errors.New("models.encoder_path and style_path must be set when backend=onnx")
		}
		if cfg.Models.Command == "" {
			return errors.New("models.command must be set when backend=onnx (pitch, regulator and decoder run out of process)")
		}
	default:
		return errors.New("models.backend must be one of mock|exec|onnx")
	}
	if err := validateConversion(cfg.Conversion); err != nil {
		return err
	}
	if err := validateProfile("profiles.plain", cfg.Profiles.Plain); err != nil {
		return err
	}
	return validateProfile("profiles.f0", cfg.Profiles.F0)
}

func validateConversion(c ConversionConfig) error {
	if c.EncoderSampleRate <= 0 || c.EncoderHop <= 0 {
		return errors.New("conversion.encoder_sample_rate and encoder_hop must be positive")
	}
	if c.EncoderContextSeconds <= 0 {
		return errors.New("conversion.encoder_context_seconds must be positive")
	}
	if c.EncoderOverlapSeconds < 0 || c.EncoderOverlapSeconds >= c.EncoderContextSeconds {
		return errors.New("conversion.encoder_overlap_seconds must be in [0, encoder_context_seconds)")
	}
	if (c.EncoderOverlapSeconds*c.EncoderSampleRate)%c.EncoderHop != 0 || (c.EncoderContextSeconds*c.EncoderSampleRate)%c.EncoderHop != 0 {
		return errors.New("conversion encoder window and overlap must be whole multiples of encoder_hop")
	}
	if c.ContextSeconds <= 0 {
		return errors.New("conversion.context_seconds must be positive")
	}
	if c.MaxReferenceSeconds <= 0 || c.MaxReferenceSeconds >= c.ContextSeconds {
		return errors.New("conversion.max_reference_seconds must be in (0, context_seconds)")
	}
	if c.OverlapFrames < 1 {
		return errors.New("conversion.overlap_frames must be >= 1")
	}
	if c.DiffusionSteps < 1 {
		return errors.New("conversion.diffusion_steps must be >= 1")
	}
	switch c.Format {
	case "mp3":
		if c.EncoderCommand == "" {
			return errors.New("conversion.encoder_command must be set when format=mp3")
		}
	case "wav", "pcm":
	default:
		return errors.New("conversion.format must be one of mp3|wav|pcm")
	}
	return nil
}

func validateProfile(name string, p ProfileConfig) error {
	if p.SampleRate <= 0 || p.Hop <= 0 || p.NFFT <= 0 || p.Mels <= 0 {
		return fmt.Errorf("%s: sample_rate, hop, n_fft and mels must be positive", name)
	}
	if p.NFFT&(p.NFFT-1) != 0 {
		return fmt.Errorf("%s: n_fft must be a power of two", name)
	}
	if p.WinLength <= 0 || p.WinLength > p.NFFT {
		return fmt.Errorf("%s: win_length must be in (0, n_fft]", name)
	}
	if p.Hop > p.NFFT {
		return fmt.Errorf("%s: hop must not exceed n_fft", name)
	}
	return nil
}
