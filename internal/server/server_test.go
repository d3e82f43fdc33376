package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/straja-ai/liverstage/internal/activation"
	"github.com/straja-ai/liverstage/internal/artifact"
	"github.com/straja-ai/liverstage/internal/config"
	"github.com/straja-ai/liverstage/internal/console"
	"github.com/straja-ai/liverstage/internal/display"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/telemetry"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("testdata/does-not-exist.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	cfg.Server.Addr = ":0"
	cfg.Server.MaxRequestBodyBytes = 4096
	cfg.Server.MaxInFlightRequests = 5
	cfg.Server.ReadHeaderTimeout = time.Second
	cfg.Server.ReadTimeout = time.Second
	cfg.Server.WriteTimeout = time.Second
	cfg.Server.IdleTimeout = time.Second

	root := t.TempDir()
	cfg.Pipelines.Stage.BundleDir = filepath.Join(root, "stage")
	cfg.Pipelines.Risk.BundleDir = filepath.Join(root, "risk")
	if _, err := artifact.WriteDemoBundle(cfg.Pipelines.Stage.BundleDir, "stage"); err != nil {
		t.Fatalf("write stage bundle: %v", err)
	}
	if _, err := artifact.WriteDemoBundle(cfg.Pipelines.Risk.BundleDir, "risk"); err != nil {
		t.Fatalf("write risk bundle: %v", err)
	}

	cfg.Logging.ActivationLevel = "metadata"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	return newTestServerWith(t, cfg, nil, nil)
}

func newTestServerWith(t *testing.T, cfg *config.Config, em *activation.Emitter, tel *telemetry.Provider) *Server {
	t.Helper()

	reg, err := artifact.LoadRegistry(cfg)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	srv, err := New(cfg, reg, em, tel)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

const stageBody = `{"features": {
	"age": 30, "sex": 0, "albumin": 3.5, "alk_phos": 200, "alt": 30, "ast": 30,
	"bilirubin": 1.0, "cholinesterase": 6.0, "cholesterol": 200,
	"creatinine": 1.0, "gamma_gt": 30, "protein": 7.0
}}`

func decodePrediction(t *testing.T, rr *httptest.ResponseRecorder) predictResponse {
	t.Helper()
	var resp predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return resp
}

func TestPredictStageFeatures(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	rr := do(srv, http.MethodPost, "/v1/predict/stage", stageBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodePrediction(t, rr)
	found := false
	for _, l := range artifact.DemoStageLabels {
		if l == resp.Result.Label {
			found = true
		}
	}
	if !found {
		t.Fatalf("label %q not in stage label set", resp.Result.Label)
	}
	if resp.Result.Color == display.DefaultColor || !resp.Result.KnownLabel {
		t.Fatalf("expected a mapped color, got %+v", resp.Result)
	}
	if !strings.HasPrefix(resp.Result.Message, "Predicted Stage: ") {
		t.Fatalf("unexpected message %q", resp.Result.Message)
	}
	if resp.RequestID == "" || rr.Header().Get("X-Request-Id") != resp.RequestID {
		t.Fatalf("request id missing or mismatched: body=%q header=%q", resp.RequestID, rr.Header().Get("X-Request-Id"))
	}
	if resp.Version != artifact.DemoVersion {
		t.Fatalf("expected model version %q, got %q", artifact.DemoVersion, resp.Version)
	}
}

func TestPredictStageAcceptsShortLabNames(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	for _, body := range []string{
		`{"features":{"gamma_gt":30}}`,
		`{"features":{"alk_phos":200,"alt":30,"ast":30,"creatinine":1.0}}`,
	} {
		rr := do(srv, http.MethodPost, "/v1/predict/stage", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", body, rr.Code, rr.Body.String())
		}
	}
}

func TestPredictRiskVector(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	rr := do(srv, http.MethodPost, "/v1/predict/risk", `{"vector":[45,1,1.0,0.3,200,30,30,6.5,3.5,1.0]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodePrediction(t, rr)
	msgs := display.DefaultBinaryMessages()
	if resp.Result.Index != 0 || resp.Result.Message != msgs.None.Message || resp.Result.Guidance != msgs.None.Guidance {
		t.Fatalf("expected low risk outcome, got %+v", resp.Result)
	}
}

func TestPredictErrors(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown variant", method: http.MethodPost, path: "/v1/predict/kidney", body: stageBody, want: http.StatusNotFound},
		{name: "invalid json", method: http.MethodPost, path: "/v1/predict/stage", body: `{"features":`, want: http.StatusBadRequest},
		{name: "unknown top-level field", method: http.MethodPost, path: "/v1/predict/stage", body: `{"values":{}}`, want: http.StatusBadRequest},
		{name: "unknown feature", method: http.MethodPost, path: "/v1/predict/stage", body: `{"features":{"weight":80}}`, want: http.StatusBadRequest},
		{name: "out of range", method: http.MethodPost, path: "/v1/predict/stage", body: `{"features":{"age":500}}`, want: http.StatusBadRequest},
		{name: "two names for one field", method: http.MethodPost, path: "/v1/predict/stage", body: `{"features":{"alt":30,"alanine_aminotransferase":31}}`, want: http.StatusBadRequest},
		{name: "both inputs", method: http.MethodPost, path: "/v1/predict/stage", body: `{"features":{},"vector":[1]}`, want: http.StatusBadRequest},
		{name: "no inputs", method: http.MethodPost, path: "/v1/predict/stage", body: `{}`, want: http.StatusBadRequest},
		{name: "wrong vector length", method: http.MethodPost, path: "/v1/predict/stage", body: `{"vector":[1,2,3]}`, want: http.StatusUnprocessableEntity},
		{name: "method", method: http.MethodGet, path: "/v1/predict/stage", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRequestBodyLimitReturns413(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxRequestBodyBytes = 10

	srv := newTestServer(t, cfg)

	rr := do(srv, http.MethodPost, "/v1/predict/stage", stageBody)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestConcurrencyLimiterReturns429(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxInFlightRequests = 1

	srv := newTestServer(t, cfg)
	srv.inFlight <- struct{}{}

	rr := do(srv, http.MethodPost, "/v1/predict/stage", stageBody)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	<-srv.inFlight
	rr = do(srv, http.MethodPost, "/v1/predict/stage", stageBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 once a slot frees, got %d", rr.Code)
	}
}

func TestConsoleSubmitSharesConcurrencyLimit(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxInFlightRequests = 1

	srv := newTestServer(t, cfg)
	srv.inFlight <- struct{}{}

	if rr := do(srv, http.MethodPost, "/console/stage", ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for console submit, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/console/stage", ""); rr.Code != http.StatusOK {
		t.Fatalf("form view should not be limited, got %d", rr.Code)
	}

	<-srv.inFlight
	if rr := do(srv, http.MethodPost, "/console/stage", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 once a slot frees, got %d", rr.Code)
	}
}

func TestHealthzListsPipelines(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	rr := do(srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || len(resp.Pipelines) != 2 {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestHealthzDegradedWithoutScaler(t *testing.T) {
	cfg := newTestConfig(t)
	if err := os.Remove(filepath.Join(cfg.Pipelines.Risk.BundleDir, artifact.ScalerFile)); err != nil {
		t.Fatalf("remove scaler: %v", err)
	}
	cfg.Pipelines.Risk.VerifyManifest = false

	srv := newTestServer(t, cfg)
	rr := do(srv, http.MethodGet, "/healthz", "")
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded status, got %+v", resp)
	}
}

func TestReadyzRequiresEnabledPipelines(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	if rr := do(srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	riskOnly, err := artifact.Load(artifact.OptionsFromConfig("risk", cfg.Pipelines.Risk, cfg.ONNXRuntime))
	if err != nil {
		t.Fatalf("load risk: %v", err)
	}
	reg, err := pipeline.NewRegistry(riskOnly)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	partial, err := New(cfg, reg, nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if rr := do(partial, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestNewRejectsEmptyRegistry(t *testing.T) {
	reg, _ := pipeline.NewRegistry()
	if _, err := New(newTestConfig(t), reg, nil, nil); err == nil {
		t.Fatalf("expected error for empty registry")
	}
}

func TestPipelinesDescribesSchemas(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	rr := do(srv, http.MethodGet, "/v1/pipelines", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out []struct {
		Variant string `json:"variant"`
		Fields  []struct {
			Name string `json:"name"`
		} `json:"fields"`
		Info pipeline.Info `json:"info"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].Variant != "risk" || out[1].Variant != "stage" {
		t.Fatalf("unexpected pipelines %+v", out)
	}
	if len(out[0].Fields) != 10 || len(out[1].Fields) != 12 {
		t.Fatalf("unexpected field counts %d/%d", len(out[0].Fields), len(out[1].Fields))
	}
	if out[1].Fields[11].Name != "protein" {
		t.Fatalf("stage fields out of order: last is %q", out[1].Fields[11].Name)
	}
}

func TestRequestStatusAfterPrediction(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	body := `{"request_id":"req-42","features":{"age":60}}`
	if rr := do(srv, http.MethodPost, "/v1/predict/risk", body); rr.Code != http.StatusOK {
		t.Fatalf("predict: %d %s", rr.Code, rr.Body.String())
	}

	rr := do(srv, http.MethodGet, "/v1/requests/req-42", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Status     string            `json:"status"`
		Variant    string            `json:"variant"`
		Activation *activation.Event `json:"activation"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.Variant != "risk" || resp.Activation == nil {
		t.Fatalf("unexpected status %+v", resp)
	}
	if resp.Activation.Features != nil {
		t.Fatalf("metadata level must not expose features")
	}

	if rr := do(srv, http.MethodGet, "/v1/requests/unknown", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request, got %d", rr.Code)
	}
}

func TestActivationEventsWritten(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Logging.ActivationLevel = "full"

	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := activation.NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}
	em := activation.NewEmitter(activation.EmitterConfig{QueueSize: 16, Workers: 1, ShutdownTimeout: time.Second}, []activation.Sink{sink})

	srv := newTestServerWith(t, cfg, em, nil)
	if rr := do(srv, http.MethodPost, "/v1/predict/stage", stageBody); rr.Code != http.StatusOK {
		t.Fatalf("predict: %d", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/v1/predict/stage", `{"features":{"age":500}}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	em.Close(context.Background())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}

	var first, second activation.Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Outcome != activation.OutcomePredicted || first.Features["protein"] != 7.0 || first.Source != "api" {
		t.Fatalf("unexpected predicted event %+v", first)
	}
	if second.Outcome != activation.OutcomeRejectedInput || second.Error == "" {
		t.Fatalf("unexpected rejected event %+v", second)
	}
}

func TestMetricsEndpointWhenPrometheusEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	tel, err := telemetry.NewProvider(context.Background(), telemetry.Config{Enabled: true, Protocol: telemetry.ProtocolPrometheus, Service: "liverstage-test"})
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	srv := newTestServerWith(t, cfg, nil, tel)
	if rr := do(srv, http.MethodPost, "/v1/predict/stage", stageBody); rr.Code != http.StatusOK {
		t.Fatalf("predict: %d", rr.Code)
	}

	rr := do(srv, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "liverstage_predictions_total") {
		t.Fatalf("metrics missing prediction counter")
	}
}

func TestMetricsAbsentWithoutTelemetry(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))
	if rr := do(srv, http.MethodGet, "/metrics", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestConsoleMounted(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	if rr := do(srv, http.MethodGet, "/console", ""); rr.Code != http.StatusMovedPermanently {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	rr := do(srv, http.MethodGet, "/console/risk", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `name="albumin_globulin_ratio"`) {
		t.Fatalf("expected risk form, got %d", rr.Code)
	}
}

func TestCrawlerControls(t *testing.T) {
	srv := newTestServer(t, newTestConfig(t))

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		body    string
	}{
		{
			name:    "robots.txt",
			path:    "/robots.txt",
			headers: map[string]string{"Content-Type": "text/plain", "Cache-Control": "no-store"},
			body:    robotsTxt,
		},
		{
			name:    "console index",
			path:    "/console/",
			headers: map[string]string{console.RobotsTagHeader: console.RobotsTagValue},
		},
		{
			name:    "console form",
			path:    "/console/stage",
			headers: map[string]string{console.RobotsTagHeader: console.RobotsTagValue},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, http.MethodGet, tt.path, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			for k, want := range tt.headers {
				if got := rr.Header().Get(k); got != want {
					t.Fatalf("%s = %q, want %q", k, got, want)
				}
			}
			if tt.body != "" && rr.Body.String() != tt.body {
				t.Fatalf("unexpected body %q", rr.Body.String())
			}
		})
	}
}
