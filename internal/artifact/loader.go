package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/straja-ai/liverstage/internal/display"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/redact"
	"github.com/straja-ai/liverstage/internal/schema"
)

// Model formats.
const (
	FormatAuto   = "auto"
	FormatONNX   = "onnx"
	FormatLinear = "linear"
)

// Scaler policies.
const (
	// ScalerRequired fails startup when the scaler cannot be loaded.
	ScalerRequired = "required"
	// ScalerOptional logs the load failure and runs the pipeline unscaled.
	// Predictions then use raw features, which changes their meaning; the
	// pipeline reports Scaled=false on every result.
	ScalerOptional = "optional"
	// ScalerNone never loads a scaler.
	ScalerNone = "none"
)

// Options describe how to load one variant's bundle.
type Options struct {
	Variant        string
	BundleDir      string
	ModelFormat    string
	ScalerPolicy   string
	VerifyManifest bool
	PublicKey      string
	ONNX           ONNXOptions
	Colors         map[string]string
	DefaultColor   string
}

// Load reads a bundle and returns the immutable pipeline for its variant.
// Any error here is meant to abort startup.
func Load(opts Options) (*pipeline.Pipeline, error) {
	sch, err := schema.Lookup(opts.Variant)
	if err != nil {
		return nil, err
	}
	dir := strings.TrimSpace(opts.BundleDir)
	if dir == "" {
		return nil, fmt.Errorf("%s: bundle dir is empty", sch.Variant)
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%s: bundle dir: %w", sch.Variant, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s: bundle dir %s is not a directory", sch.Variant, dir)
	}

	var (
		modelName    string
		modelVersion string
	)
	if opts.VerifyManifest {
		m, err := VerifyManifest(dir, sch.Variant, sch.Names(), opts.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%s: verify manifest: %w", sch.Variant, err)
		}
		modelName, modelVersion = m.Model, m.Version
	} else if m, _, err := ReadManifest(dir); err == nil {
		modelName, modelVersion = m.Model, m.Version
	} else if !errors.Is(err, ErrManifestNotFound) {
		return nil, fmt.Errorf("%s: %w", sch.Variant, err)
	}

	model, err := loadClassifier(dir, sch.Len(), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: load model: %w", sch.Variant, err)
	}

	scaler, note, err := loadScaler(dir, sch, opts.ScalerPolicy)
	if err != nil {
		_ = model.Close()
		return nil, fmt.Errorf("%s: load scaler: %w", sch.Variant, err)
	}

	cfg := pipeline.Config{
		Schema:       sch,
		Scaler:       scaler,
		Model:        model,
		ModelVersion: modelVersion,
		ScalerNote:   note,
	}

	if sch.Variant == schema.VariantStage {
		labels, err := LoadLabels(filepath.Join(dir, LabelMapFile))
		if err != nil {
			_ = model.Close()
			return nil, fmt.Errorf("%s: load labels: %w", sch.Variant, err)
		}
		dec, err := pipeline.NewLabelDecoder(labels)
		if err != nil {
			_ = model.Close()
			return nil, fmt.Errorf("%s: %w", sch.Variant, err)
		}
		colors := opts.Colors
		if len(colors) == 0 {
			colors = display.DefaultStageColors()
		}
		cfg.Decoder = dec
		cfg.Palette = display.NewPalette(colors, opts.DefaultColor)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		_ = model.Close()
		return nil, err
	}

	if modelName == "" {
		modelName = model.Name()
	}
	redact.Logf("artifact: loaded %s pipeline model=%s version=%s scaled=%t", sch.Variant, modelName, modelVersion, scaler != nil)
	return p, nil
}

func loadClassifier(dir string, n int, opts Options) (pipeline.Classifier, error) {
	format := strings.ToLower(strings.TrimSpace(opts.ModelFormat))
	if format == "" || format == FormatAuto {
		switch {
		case fileExists(filepath.Join(dir, ONNXModelFile)):
			format = FormatONNX
		case fileExists(filepath.Join(dir, LinearFile)):
			format = FormatLinear
		default:
			return nil, fmt.Errorf("no %s or %s in %s", ONNXModelFile, LinearFile, dir)
		}
	}

	switch format {
	case FormatONNX:
		return LoadONNX(dir, n, opts.ONNX)
	case FormatLinear:
		return LoadLinear(filepath.Join(dir, LinearFile), n)
	default:
		return nil, fmt.Errorf("unknown model format %q", opts.ModelFormat)
	}
}

func loadScaler(dir string, sch *schema.Schema, policy string) (pipeline.Scaler, string, error) {
	policy = strings.ToLower(strings.TrimSpace(policy))
	if policy == "" {
		policy = ScalerRequired
	}
	if policy == ScalerNone {
		return nil, "", nil
	}

	sc, err := LoadScaler(filepath.Join(dir, ScalerFile), sch.Len())
	if err == nil {
		return sc, "", nil
	}
	if policy == ScalerOptional {
		redact.Logf("artifact: WARNING %s scaler unavailable (%v); predictions will use unscaled features", sch.Variant, err)
		return nil, "unavailable: " + err.Error(), nil
	}
	return nil, "", err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
