package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/pipeline"
)

// ScalerSpec mirrors scaler.json as exported from the modeling toolchain.
//
//	standard: x' = (x - mean) / scale
//	minmax:   x' = x*scale + min
type ScalerSpec struct {
	Kind  string    `json:"kind"`
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale"`
	Min   []float64 `json:"min,omitempty"`
}

// StandardScaler is a fitted per-feature z-score transform.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// Kind implements pipeline.Scaler.
func (s *StandardScaler) Kind() string { return "standard" }

// Transform implements pipeline.Scaler.
func (s *StandardScaler) Transform(v inference.FeatureVector) (inference.FeatureVector, error) {
	if len(v) != len(s.mean) {
		return nil, fmt.Errorf("standard scaler fitted on %d features, got %d", len(s.mean), len(v))
	}
	out := make(inference.FeatureVector, len(v))
	floats.SubTo(out, v, s.mean)
	floats.Div(out, s.scale)
	return out, nil
}

// MinMaxScaler is a fitted per-feature range transform.
type MinMaxScaler struct {
	min   []float64
	scale []float64
}

// Kind implements pipeline.Scaler.
func (s *MinMaxScaler) Kind() string { return "minmax" }

// Transform implements pipeline.Scaler.
func (s *MinMaxScaler) Transform(v inference.FeatureVector) (inference.FeatureVector, error) {
	if len(v) != len(s.min) {
		return nil, fmt.Errorf("minmax scaler fitted on %d features, got %d", len(s.min), len(v))
	}
	out := make(inference.FeatureVector, len(v))
	floats.MulTo(out, v, s.scale)
	floats.Add(out, s.min)
	return out, nil
}

// LoadScaler reads a scaler spec and checks it was fitted on n features.
func LoadScaler(path string, n int) (pipeline.Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec ScalerSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	return NewScaler(spec, n)
}

// NewScaler builds a scaler from a decoded spec.
func NewScaler(spec ScalerSpec, n int) (pipeline.Scaler, error) {
	if len(spec.Scale) != n {
		return nil, fmt.Errorf("scaler has %d scale values, expected %d", len(spec.Scale), n)
	}

	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case "", "standard":
		if len(spec.Mean) != n {
			return nil, fmt.Errorf("scaler has %d mean values, expected %d", len(spec.Mean), n)
		}
		scale := make([]float64, n)
		copy(scale, spec.Scale)
		// Constant features are fitted with scale 0; leave them centered but unscaled.
		for i, s := range scale {
			if s == 0 {
				scale[i] = 1
			}
		}
		mean := make([]float64, n)
		copy(mean, spec.Mean)
		return &StandardScaler{mean: mean, scale: scale}, nil
	case "minmax":
		if len(spec.Min) != n {
			return nil, fmt.Errorf("scaler has %d min values, expected %d", len(spec.Min), n)
		}
		scale := make([]float64, n)
		copy(scale, spec.Scale)
		offset := make([]float64, n)
		copy(offset, spec.Min)
		return &MinMaxScaler{min: offset, scale: scale}, nil
	default:
		return nil, fmt.Errorf("unknown scaler kind %q", spec.Kind)
	}
}
