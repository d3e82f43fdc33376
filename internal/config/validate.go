package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if cfg.Server.MaxRequestBodyBytes < 0 {
		return errors.New("server.max_request_body_bytes must not be negative")
	}
	if cfg.Server.MaxInFlightRequests < 0 {
		return errors.New("server.max_in_flight_requests must not be negative")
	}

	for i, c := range cfg.Auth.Clients {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("auth.clients[%d].id must be set", i)
		}
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("auth.clients[%d] (%s) has no api_keys", i, c.ID)
		}
	}

	if !cfg.Pipelines.Stage.Enabled && !cfg.Pipelines.Risk.Enabled {
		return errors.New("at least one pipeline must be enabled")
	}
	if err := validatePipelineConfig("stage", cfg.Pipelines.Stage); err != nil {
		return err
	}
	if err := validatePipelineConfig("risk", cfg.Pipelines.Risk); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.ActivationLevel)) {
	case "", "none", "metadata", "full":
	default:
		return fmt.Errorf("logging.activation_level must be none, metadata or full, got %q", cfg.Logging.ActivationLevel)
	}

	if err := validateActivationConfig(cfg.Activation); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validatePipelineConfig(name string, p PipelineConfig) error {
	if !p.Enabled {
		return nil
	}
	if strings.TrimSpace(p.BundleDir) == "" {
		return fmt.Errorf("pipelines.%s.bundle_dir must be set", name)
	}
	switch strings.ToLower(strings.TrimSpace(p.ModelFormat)) {
	case "", "auto", "onnx", "linear":
	default:
		return fmt.Errorf("pipelines.%s.model_format must be auto, onnx or linear, got %q", name, p.ModelFormat)
	}
	switch strings.ToLower(strings.TrimSpace(p.Scaler)) {
	case "", "required", "optional", "none":
	default:
		return fmt.Errorf("pipelines.%s.scaler must be required, optional or none, got %q", name, p.Scaler)
	}
	if strings.TrimSpace(p.PublicKey) != "" && !p.VerifyManifest {
		return fmt.Errorf("pipelines.%s.manifest_public_key requires verify_manifest", name)
	}
	for k, v := range p.Colors {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return fmt.Errorf("pipelines.%s.colors has an empty entry", name)
		}
	}
	return nil
}

func validateActivationConfig(a ActivationConfig) error {
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "stdout":
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("activation sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("activation sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("activation sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("activation sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("activation sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "prometheus":
		return nil
	case "grpc", "http":
		if strings.TrimSpace(t.Endpoint) == "" {
			return errors.New("telemetry enabled but endpoint is empty")
		}
		return nil
	default:
		return fmt.Errorf("telemetry.protocol must be grpc, http or prometheus, got %q", t.Protocol)
	}
}
