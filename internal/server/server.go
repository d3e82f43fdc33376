package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/straja-ai/liverstage/internal/activation"
	"github.com/straja-ai/liverstage/internal/auth"
	"github.com/straja-ai/liverstage/internal/config"
	"github.com/straja-ai/liverstage/internal/console"
	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/redact"
	"github.com/straja-ai/liverstage/internal/schema"
	"github.com/straja-ai/liverstage/internal/telemetry"
)

const robotsTxt = "User-agent: *\nDisallow: /\n"

// Server wraps the HTTP server components for liverstage.
type Server struct {
	mux          *http.ServeMux
	handler      http.Handler
	cfg          *config.Config
	auth         *auth.Auth
	registry     *pipeline.Registry
	activation   *activation.Emitter
	telemetry    *telemetry.Provider
	loggingLevel string
	requestStore *requestStore
	inFlight     chan struct{}
	httpServer   *http.Server
}

// New creates a server with all routes registered. emitter and tel may be nil.
func New(cfg *config.Config, reg *pipeline.Registry, emitter *activation.Emitter, tel *telemetry.Provider) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is nil")
	}
	if reg == nil || reg.Len() == 0 {
		return nil, errors.New("server: no pipelines loaded")
	}

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:          mux,
		cfg:          cfg,
		auth:         authz,
		registry:     reg,
		activation:   emitter,
		telemetry:    tel,
		loggingLevel: strings.ToLower(strings.TrimSpace(cfg.Logging.ActivationLevel)),
		requestStore: newRequestStore(0),
	}
	if n := cfg.Server.MaxInFlightRequests; n > 0 {
		s.inFlight = make(chan struct{}, n)
	}

	con, err := console.New(reg, func(ctx context.Context, variant string, features inference.FeatureVector) (*inference.Result, error) {
		res, _, err := s.predict(ctx, variant, features, "console", "", "")
		return res, err
	})
	if err != nil {
		return nil, err
	}

	// Routes
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/robots.txt", handleRobots)
	mux.HandleFunc("/v1/pipelines", s.handlePipelines)
	mux.HandleFunc("/v1/predict/", s.authenticate(s.limit(s.handlePredict)))
	mux.HandleFunc("/v1/requests/", s.authenticate(s.handleRequestStatus))

	consoleHandler := con.Handler()
	consoleSubmit := s.limit(consoleHandler.ServeHTTP)
	mux.HandleFunc("/console/", func(w http.ResponseWriter, r *http.Request) {
		// Form submissions run a prediction and share the in-flight limit.
		if r.Method == http.MethodPost {
			consoleSubmit(w, r)
			return
		}
		consoleHandler.ServeHTTP(w, r)
	})
	mux.Handle("/console", http.RedirectHandler("/console/", http.StatusMovedPermanently))

	if h := tel.MetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	s.handler = s.withBodyLimit(mux)
	return s, nil
}

// Handler returns the root handler including request body limits.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}
	log.Printf("liverstage running on %s (pipelines: %s)", addr, strings.Join(s.registry.Variants(), ", "))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	limit := s.cfg.Server.MaxRequestBodyBytes
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// limit caps concurrent predictions; excess requests get 429.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.inFlight == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.inFlight <- struct{}{}:
			defer func() { <-s.inFlight }()
			next(w, r)
		default:
			writeError(w, http.StatusTooManyRequests, "Too many concurrent predictions", "rate_limit_error")
		}
	}
}

type healthResponse struct {
	Status    string          `json:"status"`
	Pipelines []pipeline.Info `json:"pipelines"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, v := range s.registry.Variants() {
		p, err := s.registry.Get(v)
		if err != nil {
			continue
		}
		info := p.Info()
		if !info.Scaled && info.ScalerNote != "" {
			resp.Status = "degraded"
		}
		resp.Pipelines = append(resp.Pipelines, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReady reports 503 when a configured pipeline is missing from the registry.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	want := map[string]bool{
		schema.VariantStage: s.cfg.Pipelines.Stage.Enabled,
		schema.VariantRisk:  s.cfg.Pipelines.Risk.Enabled,
	}
	for variant, enabled := range want {
		if !enabled {
			continue
		}
		if _, err := s.registry.Get(variant); err != nil {
			http.Error(w, "pipeline "+variant+" not loaded", http.StatusServiceUnavailable)
			return
		}
	}
	fmt.Fprintln(w, "ready")
}

func handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, robotsTxt)
}

type pipelineDescription struct {
	*schema.Schema
	Info pipeline.Info `json:"info"`
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make([]pipelineDescription, 0, s.registry.Len())
	for _, v := range s.registry.Variants() {
		p, err := s.registry.Get(v)
		if err != nil {
			continue
		}
		out = append(out, pipelineDescription{Schema: p.Schema(), Info: p.Info()})
	}
	writeJSON(w, http.StatusOK, out)
}

type predictRequest struct {
	RequestID string             `json:"request_id,omitempty"`
	Features  map[string]float64 `json:"features,omitempty"`
	Vector    []float64          `json:"vector,omitempty"`
}

type predictResponse struct {
	RequestID string            `json:"request_id"`
	Result    *inference.Result `json:"result"`
	Model     string            `json:"model"`
	Version   string            `json:"model_version,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	variant := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/predict/"), "/")
	p, err := s.registry.Get(variant)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error")
		return
	}

	var body predictRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "invalid_request_error")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error")
		return
	}

	clientID := clientFromContext(r.Context())
	features, err := buildFeatures(p.Schema(), body)
	if err != nil {
		s.reject(r.Context(), p, body.RequestID, clientID, features, err)
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	res, req, err := s.predict(r.Context(), p.Variant(), features, "api", body.RequestID, clientID)
	w.Header().Set("X-Request-Id", req.RequestID)
	if err != nil {
		status, typ := statusForError(err)
		msg := "Prediction failed"
		if status != http.StatusInternalServerError {
			msg = err.Error()
		}
		writeError(w, status, msg, typ)
		return
	}

	info := p.Info()
	writeJSON(w, http.StatusOK, predictResponse{
		RequestID: req.RequestID,
		Result:    res,
		Model:     info.Model,
		Version:   info.ModelVersion,
	})
}

// buildFeatures turns a request body into a vector in schema order. Range
// checks apply only when the length matches; a wrong-length vector is left
// for the pipeline to reject as a contract violation.
func buildFeatures(sch *schema.Schema, body predictRequest) (inference.FeatureVector, error) {
	switch {
	case body.Features != nil && body.Vector != nil:
		return nil, errors.New("set either features or vector, not both")
	case body.Features != nil:
		v, err := sch.Assemble(body.Features)
		if err != nil {
			return nil, err
		}
		if err := sch.CheckRanges(v); err != nil {
			return v, err
		}
		return v, nil
	case body.Vector != nil:
		v := inference.FeatureVector(body.Vector)
		if len(v) == sch.Len() {
			if err := sch.CheckRanges(v); err != nil {
				return v, err
			}
		}
		return v, nil
	default:
		return nil, errors.New("features or vector is required")
	}
}

// predict runs one prediction with timing, telemetry and an audit event.
func (s *Server) predict(ctx context.Context, variant string, features inference.FeatureVector, source, requestID, clientID string) (*inference.Result, *inference.Request, error) {
	req := &inference.Request{
		RequestID: requestID,
		ClientID:  clientID,
		Variant:   variant,
		Features:  features,
		Source:    source,
		Timings:   &inference.Timings{},
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = activation.NewRequestID()
	}

	p, err := s.registry.Get(variant)
	if err != nil {
		return nil, req, err
	}

	ctx, span := s.telemetry.StartPrediction(ctx, variant)
	defer span.End()

	s.requestStore.Start(req.RequestID, variant, clientID)
	res, err := p.PredictTimed(ctx, features, req.Timings)
	if err != nil {
		span.RecordError(err)
		_, kind := statusForError(err)
		s.telemetry.RecordError(ctx, variant, kind)
		redact.Logf("predict %s request_id=%s failed: %v", variant, req.RequestID, err)
	} else {
		s.telemetry.RecordPrediction(ctx, variant, res.Label, res.Scaled, durationMillis(req.Timings.Total))
	}
	s.emitActivation(ctx, p, req, res, err, "")
	return res, req, err
}

// reject audits a request refused before it reached the pipeline.
func (s *Server) reject(ctx context.Context, p *pipeline.Pipeline, requestID, clientID string, features inference.FeatureVector, err error) {
	req := &inference.Request{
		RequestID: requestID,
		ClientID:  clientID,
		Variant:   p.Variant(),
		Features:  features,
		Source:    "api",
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = activation.NewRequestID()
	}
	s.telemetry.RecordError(ctx, p.Variant(), "bad_input")
	s.emitActivation(ctx, p, req, nil, err, activation.OutcomeRejectedInput)
}

func (s *Server) emitActivation(ctx context.Context, p *pipeline.Pipeline, req *inference.Request, res *inference.Result, err error, outcome activation.Outcome) {
	ev := activation.BuildEvent(activation.BuildParams{
		Request:      req,
		Result:       res,
		Info:         p.Info(),
		FeatureNames: p.Schema().Names(),
		Outcome:      outcome,
		Err:          err,
		LoggingLevel: s.loggingLevel,
	})
	s.requestStore.Complete(req.RequestID, req.ClientID, ev)
	if ev == nil {
		return
	}
	s.activation.Emit(ctx, ev)
}

// statusForError maps pipeline errors to HTTP status and an error type.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrUnknownVariant):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, schema.ErrUnknownField), errors.Is(err, schema.ErrDuplicateField), errors.Is(err, schema.ErrOutOfRange):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, pipeline.ErrFeatureCount),
		errors.Is(err, pipeline.ErrUnknownClass),
		errors.Is(err, pipeline.ErrInvalidFlag):
		return http.StatusUnprocessableEntity, "contract_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: typ}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func durationMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
