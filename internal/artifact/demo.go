package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/straja-ai/liverstage/internal/schema"
)

// DemoVersion is the manifest version written for demo bundles.
const DemoVersion = "demo"

// DemoStageLabels is the label order a LabelEncoder produces for the five stages.
var DemoStageLabels = []string{"cirrhosis", "fibrosis", "hepatitis", "no disease", "suspect disease"}

// WriteDemoBundle writes a small hand-weighted linear bundle for variant into
// dir. It exists for local development without trained artifacts; its
// predictions carry no clinical meaning.
func WriteDemoBundle(dir, variant string) (*Manifest, error) {
	sch, err := schema.Lookup(variant)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, ScalerFile), demoScaler(sch)); err != nil {
		return nil, err
	}

	var model LinearSpec
	switch sch.Variant {
	case schema.VariantStage:
		model = demoStageModel(sch)
		if err := writeJSON(filepath.Join(dir, LabelMapFile), DemoStageLabels); err != nil {
			return nil, err
		}
	case schema.VariantRisk:
		model = demoRiskModel(sch)
	}
	if err := writeJSON(filepath.Join(dir, LinearFile), model); err != nil {
		return nil, err
	}

	return WriteManifest(dir, "demo-"+sch.Variant, DemoVersion, sch.Variant, sch.Names())
}

// demoScaler centers each feature on its normal-range midpoint and scales by
// half the range width.
func demoScaler(sch *schema.Schema) ScalerSpec {
	mean := sch.Midpoints()
	scale := make([]float64, sch.Len())
	for i, f := range sch.Fields {
		if len(f.Choices) == 0 && f.NormalHigh > f.NormalLow {
			scale[i] = (f.NormalHigh - f.NormalLow) / 2
		} else {
			scale[i] = 1
		}
	}
	return ScalerSpec{Kind: "standard", Mean: mean, Scale: scale}
}

func demoStageModel(sch *schema.Schema) LinearSpec {
	n := sch.Len()
	row := func(w map[string]float64) []float64 {
		out := make([]float64, n)
		for name, v := range w {
			_, idx, _ := sch.Field(name)
			out[idx] = v
		}
		return out
	}
	return LinearSpec{
		Kind:    FormatLinear,
		Name:    "demo-stage",
		Classes: []int{0, 1, 2, 3, 4},
		Coef: [][]float64{
			row(map[string]float64{"bilirubin": 1.5, "cholinesterase": -1.0, "aspartate_aminotransferase": 0.5}),
			row(map[string]float64{"aspartate_aminotransferase": 1.0, "alanine_aminotransferase": 0.5}),
			row(map[string]float64{"alanine_aminotransferase": 1.5, "aspartate_aminotransferase": 0.5}),
			row(map[string]float64{"bilirubin": -1.0, "aspartate_aminotransferase": -1.0, "gamma_gt": -1.0}),
			row(map[string]float64{"gamma_gt": 0.5, "alkaline_phosphatase": 0.3}),
		},
		Intercept: []float64{-1.5, -1.2, -1.0, 1.0, -0.8},
	}
}

func demoRiskModel(sch *schema.Schema) LinearSpec {
	w := map[string]float64{
		"total_bilirubin":            1.0,
		"direct_bilirubin":           1.0,
		"alkaline_phosphotase":       0.5,
		"alamine_aminotransferase":   0.5,
		"aspartate_aminotransferase": 0.5,
		"albumin":                    -0.5,
		"albumin_globulin_ratio":     -0.5,
	}
	coef := make([]float64, sch.Len())
	for name, v := range w {
		_, idx, _ := sch.Field(name)
		coef[idx] = v
	}
	return LinearSpec{
		Kind:      FormatLinear,
		Name:      "demo-risk",
		Classes:   []int{0, 1},
		Coef:      [][]float64{coef},
		Intercept: []float64{-0.5},
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
