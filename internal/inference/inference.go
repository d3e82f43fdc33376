package inference

import (
	"time"
)

// FeatureVector is the ordered numeric encoding of one patient's measurements.
// Order and length are fixed by the schema the model was trained on.
type FeatureVector []float64

// Clone returns an independent copy.
func (v FeatureVector) Clone() FeatureVector {
	if v == nil {
		return nil
	}
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// Result is the outcome of one prediction.
type Result struct {
	Variant string `json:"variant"`
	// Index is the raw classifier output: class index (stage) or flag 0/1 (risk).
	Index int `json:"index"`
	// Label is the decoded category or the risk outcome label.
	Label    string `json:"label"`
	Color    string `json:"color"`
	Message  string `json:"message"`
	Guidance string `json:"guidance,omitempty"`
	// KnownLabel is false when the category fell back to the default color.
	KnownLabel bool `json:"known_label"`
	// Scaled is false when the pipeline ran without a scaling transform.
	Scaled bool `json:"scaled"`
}

// Request carries one prediction through the server for auditing.
type Request struct {
	RequestID string
	ClientID  string // empty when API auth is off
	Variant   string
	Features  FeatureVector
	Source    string // api | console
	Timings   *Timings
}

// Timings holds latency measurements for the stages of a prediction.
type Timings struct {
	Scale    time.Duration
	Classify time.Duration
	Total    time.Duration
}
