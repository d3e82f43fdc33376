package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/straja-ai/liverstage/internal/inference"
)

// LinearSpec mirrors model.json: the coefficients of a fitted linear
// classifier (logistic regression, linear SVM and the like).
//
// With one coefficient row the model is binary: classes[1] when the
// decision value is positive, classes[0] otherwise. With k rows it is
// one-vs-rest and the class with the largest decision value wins.
type LinearSpec struct {
	Kind      string      `json:"kind"`
	Name      string      `json:"name,omitempty"`
	Classes   []int       `json:"classes"`
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
}

// LinearClassifier evaluates W·x + b. It holds no mutable state.
type LinearClassifier struct {
	name    string
	weights *mat.Dense
	bias    *mat.VecDense
	classes []int
	nIn     int
}

// LoadLinear reads a linear model spec fitted on n features.
func LoadLinear(path string, n int) (*LinearClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec LinearSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode linear model: %w", err)
	}
	return NewLinear(spec, n)
}

// NewLinear validates spec and builds the classifier.
func NewLinear(spec LinearSpec, n int) (*LinearClassifier, error) {
	rows := len(spec.Coef)
	if rows == 0 {
		return nil, errors.New("linear model has no coefficients")
	}
	if len(spec.Intercept) != rows {
		return nil, fmt.Errorf("linear model has %d intercepts for %d coefficient rows", len(spec.Intercept), rows)
	}
	switch {
	case rows == 1 && len(spec.Classes) != 2:
		return nil, fmt.Errorf("binary linear model needs 2 classes, got %d", len(spec.Classes))
	case rows > 1 && len(spec.Classes) != rows:
		return nil, fmt.Errorf("linear model has %d classes for %d coefficient rows", len(spec.Classes), rows)
	}

	flat := make([]float64, 0, rows*n)
	for i, row := range spec.Coef {
		if len(row) != n {
			return nil, fmt.Errorf("coefficient row %d has %d values, expected %d", i, len(row), n)
		}
		flat = append(flat, row...)
	}

	name := spec.Name
	if name == "" {
		name = "linear"
	}
	bias := make([]float64, rows)
	copy(bias, spec.Intercept)

	return &LinearClassifier{
		name:    name,
		weights: mat.NewDense(rows, n, flat),
		bias:    mat.NewVecDense(rows, bias),
		classes: append([]int(nil), spec.Classes...),
		nIn:     n,
	}, nil
}

// Name implements pipeline.Classifier.
func (c *LinearClassifier) Name() string { return c.name }

// Close implements pipeline.Classifier.
func (c *LinearClassifier) Close() error { return nil }

// Decision returns the raw decision values W·x + b.
func (c *LinearClassifier) Decision(v inference.FeatureVector) ([]float64, error) {
	if len(v) != c.nIn {
		return nil, fmt.Errorf("linear model expects %d features, got %d", c.nIn, len(v))
	}
	x := mat.NewVecDense(c.nIn, []float64(v.Clone()))
	rows, _ := c.weights.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(c.weights, x)
	out.AddVec(out, c.bias)
	return out.RawVector().Data, nil
}

// Predict implements pipeline.Classifier.
func (c *LinearClassifier) Predict(ctx context.Context, v inference.FeatureVector) (int, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	scores, err := c.Decision(v)
	if err != nil {
		return 0, err
	}
	if len(scores) == 1 {
		if scores[0] > 0 {
			return c.classes[1], nil
		}
		return c.classes[0], nil
	}
	return c.classes[floats.MaxIdx(scores)], nil
}
