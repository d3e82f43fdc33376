package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/straja-ai/liverstage/internal/display"
	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/schema"
)

var (
	// ErrFeatureCount is returned when a vector's length does not match the schema.
	ErrFeatureCount = errors.New("feature vector length mismatch")
	// ErrUnknownClass is returned when the label decoder has no entry for a class index.
	ErrUnknownClass = errors.New("unknown class index")
	// ErrInvalidFlag is returned when a binary classifier emits something other than 0 or 1.
	ErrInvalidFlag = errors.New("binary classifier returned invalid flag")
)

// Scaler is a pre-fitted normalization transform.
type Scaler interface {
	Transform(inference.FeatureVector) (inference.FeatureVector, error)
	Kind() string
}

// Classifier is a pre-fitted model mapping a feature vector to a class index.
type Classifier interface {
	Predict(ctx context.Context, v inference.FeatureVector) (int, error)
	Name() string
	Close() error
}

// Config wires the loaded artifacts into a pipeline.
type Config struct {
	Schema  *schema.Schema
	Scaler  Scaler        // nil runs unscaled
	Model   Classifier    // required
	Decoder *LabelDecoder // nil selects the binary flag path
	Palette *display.Palette
	Binary  *display.BinaryMessages

	ModelVersion string
	// ScalerNote records why Scaler is nil, e.g. "disabled" or a load error.
	ScalerNote string
}

// Pipeline is the immutable inference context for one variant. It is safe
// for concurrent use; Predict never mutates it.
type Pipeline struct {
	schema       *schema.Schema
	scaler       Scaler
	model        Classifier
	decoder      *LabelDecoder
	palette      *display.Palette
	binary       display.BinaryMessages
	modelVersion string
	scalerNote   string
}

// Info summarizes a pipeline for health and status endpoints.
type Info struct {
	Variant      string   `json:"variant"`
	Model        string   `json:"model"`
	ModelVersion string   `json:"model_version,omitempty"`
	Features     int      `json:"features"`
	Scaled       bool     `json:"scaled"`
	ScalerKind   string   `json:"scaler_kind,omitempty"`
	ScalerNote   string   `json:"scaler_note,omitempty"`
	Labels       []string `json:"labels"`
}

// New validates cfg and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Schema == nil {
		return nil, errors.New("pipeline schema is nil")
	}
	if cfg.Model == nil {
		return nil, errors.New("pipeline model is nil")
	}
	p := &Pipeline{
		schema:       cfg.Schema,
		scaler:       cfg.Scaler,
		model:        cfg.Model,
		decoder:      cfg.Decoder,
		palette:      cfg.Palette,
		binary:       display.DefaultBinaryMessages(),
		modelVersion: cfg.ModelVersion,
		scalerNote:   cfg.ScalerNote,
	}
	if p.palette == nil {
		p.palette = display.NewPalette(display.DefaultStageColors(), "")
	}
	if cfg.Binary != nil {
		p.binary = *cfg.Binary
	}
	return p, nil
}

// Variant returns the schema's variant name.
func (p *Pipeline) Variant() string { return p.schema.Variant }

// Schema returns the feature contract.
func (p *Pipeline) Schema() *schema.Schema { return p.schema }

// Scaled reports whether a scaling transform is applied.
func (p *Pipeline) Scaled() bool { return p.scaler != nil }

// MultiClass reports whether a label decoder is present.
func (p *Pipeline) MultiClass() bool { return p.decoder != nil }

// Labels returns the finite output label set.
func (p *Pipeline) Labels() []string {
	if p.decoder != nil {
		return p.decoder.Labels()
	}
	return []string{p.binary.None.Label, p.binary.High.Label}
}

// Info returns a status summary.
func (p *Pipeline) Info() Info {
	info := Info{
		Variant:      p.schema.Variant,
		Model:        p.model.Name(),
		ModelVersion: p.modelVersion,
		Features:     p.schema.Len(),
		Scaled:       p.scaler != nil,
		ScalerNote:   p.scalerNote,
		Labels:       p.Labels(),
	}
	if p.scaler != nil {
		info.ScalerKind = p.scaler.Kind()
	}
	return info
}

// Predict runs one feature vector through scale -> classify -> decode -> display.
//
// Only the vector length is checked. Field order cannot be verified here;
// callers that build vectors from named values should use Schema.Assemble.
func (p *Pipeline) Predict(ctx context.Context, raw inference.FeatureVector) (*inference.Result, error) {
	return p.PredictTimed(ctx, raw, nil)
}

// PredictTimed is Predict with per-stage latencies written into t when non-nil.
func (p *Pipeline) PredictTimed(ctx context.Context, raw inference.FeatureVector, t *inference.Timings) (*inference.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	if len(raw) != p.schema.Len() {
		return nil, fmt.Errorf("%w: %s expects %d features, got %d", ErrFeatureCount, p.schema.Variant, p.schema.Len(), len(raw))
	}

	vec := raw
	if p.scaler != nil {
		scaled, err := p.scaler.Transform(raw)
		if err != nil {
			return nil, fmt.Errorf("scale: %w", err)
		}
		vec = scaled
	}
	scaledAt := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := p.model.Predict(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	classifiedAt := time.Now()

	res := &inference.Result{
		Variant: p.schema.Variant,
		Index:   idx,
		Scaled:  p.scaler != nil,
	}

	if p.decoder != nil {
		label, err := p.decoder.Decode(idx)
		if err != nil {
			return nil, err
		}
		color, known := p.palette.Color(label)
		res.Label = label
		res.Color = color
		res.KnownLabel = known
		res.Message = display.StageMessage(label)
	} else {
		if idx != 0 && idx != 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidFlag, idx)
		}
		out := p.binary.Render(idx)
		res.Label = out.Label
		res.Color = out.Color
		res.Message = out.Message
		res.Guidance = out.Guidance
		res.KnownLabel = true
	}

	if t != nil {
		t.Scale = scaledAt.Sub(start)
		t.Classify = classifiedAt.Sub(scaledAt)
		t.Total = time.Since(start)
	}
	return res, nil
}

// PredictNamed assembles a vector from named values then predicts.
func (p *Pipeline) PredictNamed(ctx context.Context, values map[string]float64) (*inference.Result, error) {
	vec, err := p.schema.Assemble(values)
	if err != nil {
		return nil, err
	}
	return p.Predict(ctx, vec)
}

// Close releases the classifier's resources.
func (p *Pipeline) Close() error {
	if p == nil || p.model == nil {
		return nil
	}
	return p.model.Close()
}

// LabelDecoder maps a class index to a category name.
type LabelDecoder struct {
	labels []string
}

// NewLabelDecoder returns a decoder over labels indexed by position.
func NewLabelDecoder(labels []string) (*LabelDecoder, error) {
	if len(labels) == 0 {
		return nil, errors.New("label decoder needs at least one label")
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
		out[i] = l
	}
	return &LabelDecoder{labels: out}, nil
}

// Decode returns the category for idx.
func (d *LabelDecoder) Decode(idx int) (string, error) {
	if idx < 0 || idx >= len(d.labels) {
		return "", fmt.Errorf("%w: %d (have %d labels)", ErrUnknownClass, idx, len(d.labels))
	}
	return d.labels[idx], nil
}

// Labels returns a copy of the label set.
func (d *LabelDecoder) Labels() []string {
	out := make([]string, len(d.labels))
	copy(out, d.labels)
	return out
}
