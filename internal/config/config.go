package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds liverstage configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Pipelines   PipelinesConfig   `yaml:"pipelines"`
	ONNXRuntime ONNXRuntimeConfig `yaml:"onnxruntime"`
	Logging     LoggingConfig     `yaml:"logging"`
	Activation  ActivationConfig  `yaml:"activation"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
	MaxInFlightRequests int           `yaml:"max_in_flight_requests"` // 0 disables the limit
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig lists API clients. With no clients the prediction API is open.
type AuthConfig struct {
	Clients []ClientConfig `yaml:"clients"`
}

type ClientConfig struct {
	ID      string   `yaml:"id"`
	APIKeys []string `yaml:"api_keys"`
}

// PipelinesConfig configures the two independent pipelines.
type PipelinesConfig struct {
	Stage PipelineConfig `yaml:"stage"`
	Risk  PipelineConfig `yaml:"risk"`
}

type PipelineConfig struct {
	Enabled        bool              `yaml:"enabled"`
	BundleDir      string            `yaml:"bundle_dir"`
	ModelFormat    string            `yaml:"model_format"`    // auto | onnx | linear
	Scaler         string            `yaml:"scaler"`          // required | optional | none
	VerifyManifest bool              `yaml:"verify_manifest"` // sha256 + feature order
	PublicKey      string            `yaml:"manifest_public_key"`
	InputName      string            `yaml:"onnx_input_name"`
	OutputName     string            `yaml:"onnx_output_name"`
	Colors         map[string]string `yaml:"colors"`
	DefaultColor   string            `yaml:"default_color"`
}

type ONNXRuntimeConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
}

type LoggingConfig struct {
	// ActivationLevel controls prediction event detail: none | metadata | full.
	// Only full includes the raw feature values.
	ActivationLevel string `yaml:"activation_level"`
}

type ActivationConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Sinks           []SinkConfig  `yaml:"sinks"`
}

type SinkConfig struct {
	Type    string            `yaml:"type"` // stdout | file_jsonl | webhook
	Path    string            `yaml:"path"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Protocol string `yaml:"protocol"` // grpc | http | prometheus
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8080",
			MaxRequestBodyBytes: 64 * 1024,
			MaxInFlightRequests: 64,
			ReadHeaderTimeout:   5 * time.Second,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			IdleTimeout:         60 * time.Second,
			ShutdownTimeout:     10 * time.Second,
		},
		Pipelines: PipelinesConfig{
			Stage: PipelineConfig{
				Enabled:        true,
				BundleDir:      "models/stage",
				ModelFormat:    "auto",
				Scaler:         "required",
				VerifyManifest: true,
			},
			Risk: PipelineConfig{
				Enabled:        true,
				BundleDir:      "models/risk",
				ModelFormat:    "auto",
				Scaler:         "optional",
				VerifyManifest: true,
			},
		},
		Logging: LoggingConfig{
			ActivationLevel: "metadata",
		},
		Activation: ActivationConfig{
			QueueSize:       1000,
			Workers:         1,
			ShutdownTimeout: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Protocol: "prometheus",
			Service:  "liverstage",
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		cfg.Server.MaxRequestBodyBytes = def.Server.MaxRequestBodyBytes
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = def.Server.ReadHeaderTimeout
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = def.Server.IdleTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	applyPipelineDefaults(&cfg.Pipelines.Stage, def.Pipelines.Stage)
	applyPipelineDefaults(&cfg.Pipelines.Risk, def.Pipelines.Risk)

	if cfg.Logging.ActivationLevel == "" {
		cfg.Logging.ActivationLevel = "metadata"
	}

	if cfg.Activation.QueueSize <= 0 {
		cfg.Activation.QueueSize = def.Activation.QueueSize
	}
	if cfg.Activation.Workers <= 0 {
		cfg.Activation.Workers = def.Activation.Workers
	}
	if cfg.Activation.ShutdownTimeout <= 0 {
		cfg.Activation.ShutdownTimeout = def.Activation.ShutdownTimeout
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = def.Telemetry.Service
	}
}

func applyPipelineDefaults(p *PipelineConfig, def PipelineConfig) {
	if p.BundleDir == "" {
		p.BundleDir = def.BundleDir
	}
	if p.ModelFormat == "" {
		p.ModelFormat = def.ModelFormat
	}
	if p.Scaler == "" {
		p.Scaler = def.Scaler
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LIVERSTAGE_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); v != "" {
		cfg.ONNXRuntime.SharedLibraryPath = v
	}
}
