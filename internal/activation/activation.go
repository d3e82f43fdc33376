package activation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/redact"
)

// EventVersion is bumped when the event layout changes.
const EventVersion = "1"

// Logging levels for prediction events.
const (
	LevelNone     = "none"
	LevelMetadata = "metadata"
	LevelFull     = "full"
)

// Outcome is the disposition of one prediction request.
type Outcome string

const (
	OutcomePredicted     Outcome = "predicted"
	OutcomeRejectedInput Outcome = "rejected_input"
	OutcomeError         Outcome = "error"
)

// PipelineMeta identifies the artifacts that served a prediction.
type PipelineMeta struct {
	Variant      string `json:"variant"`
	Model        string `json:"model"`
	ModelVersion string `json:"model_version,omitempty"`
	Scaled       bool   `json:"scaled"`
	ScalerNote   string `json:"scaler_note,omitempty"`
}

// ResultPayload is the audited part of a prediction result.
type ResultPayload struct {
	Index      int    `json:"index"`
	Label      string `json:"label"`
	Color      string `json:"color,omitempty"`
	KnownLabel bool   `json:"known_label"`
}

type TimingMs struct {
	Scale    float64 `json:"scale"`
	Classify float64 `json:"classify"`
	Total    float64 `json:"total"`
}

// Event is the canonical prediction audit payload.
type Event struct {
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id"`
	ClientID  string         `json:"client_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	Pipeline  PipelineMeta   `json:"pipeline"`
	Result    *ResultPayload `json:"result,omitempty"`
	// Features holds raw patient values and is only set at LevelFull.
	Features map[string]float64 `json:"features,omitempty"`
	Error    string             `json:"error,omitempty"`
	TimingMs TimingMs           `json:"timing_ms"`
}

// BuildParams collects inputs needed to assemble an event.
type BuildParams struct {
	Request      *inference.Request
	Result       *inference.Result
	Info         pipeline.Info
	FeatureNames []string
	Outcome      Outcome
	Err          error
	LoggingLevel string
}

// BuildEvent creates an event, or nil when the level disables events.
func BuildEvent(params BuildParams) *Event {
	level := strings.ToLower(strings.TrimSpace(params.LoggingLevel))
	if level == LevelNone {
		return nil
	}

	outcome := params.Outcome
	if outcome == "" {
		switch {
		case params.Err != nil:
			outcome = OutcomeError
		default:
			outcome = OutcomePredicted
		}
	}

	ev := &Event{
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
		Pipeline: PipelineMeta{
			Variant:      params.Info.Variant,
			Model:        params.Info.Model,
			ModelVersion: params.Info.ModelVersion,
			Scaled:       params.Info.Scaled,
			ScalerNote:   params.Info.ScalerNote,
		},
	}

	var reqID string
	if req := params.Request; req != nil {
		reqID = req.RequestID
		ev.Source = req.Source
		ev.ClientID = req.ClientID
		if ev.Pipeline.Variant == "" {
			ev.Pipeline.Variant = req.Variant
		}
		if req.Timings != nil {
			ev.TimingMs = TimingMs{
				Scale:    durationMillis(req.Timings.Scale),
				Classify: durationMillis(req.Timings.Classify),
				Total:    durationMillis(req.Timings.Total),
			}
		}
		if level == LevelFull {
			ev.Features = namedFeatures(params.FeatureNames, req.Features)
		}
	}
	ev.RequestID = ensureRequestID(reqID)

	if res := params.Result; res != nil {
		ev.Result = &ResultPayload{
			Index:      res.Index,
			Label:      res.Label,
			Color:      res.Color,
			KnownLabel: res.KnownLabel,
		}
		ev.Pipeline.Scaled = res.Scaled
	}
	if params.Err != nil {
		ev.Error = redact.String(params.Err.Error())
	}
	return ev
}

// LogEvent prints a redacted JSON representation of the event.
func LogEvent(ev *Event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		redact.Logf("activation: failed to marshal event: %v", err)
		return
	}
	redact.Logf("activation: %s", string(data))
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

func ensureRequestID(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return NewRequestID()
}

func namedFeatures(names []string, values inference.FeatureVector) map[string]float64 {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]float64, len(values))
	for i, v := range values {
		if i < len(names) {
			out[names[i]] = v
		}
	}
	return out
}

func durationMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
