package main

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/straja-ai/liverstage/internal/config"
	"github.com/straja-ai/liverstage/internal/inference"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/schema"
)

type closeTrackingModel struct {
	closed atomic.Int32
}

func (m *closeTrackingModel) Name() string { return "close-tracking" }
func (m *closeTrackingModel) Close() error { m.closed.Add(1); return nil }
func (m *closeTrackingModel) Predict(context.Context, inference.FeatureVector) (int, error) {
	return 0, nil
}

func newTrackedRegistry(t *testing.T) (*pipeline.Registry, *closeTrackingModel) {
	t.Helper()
	model := &closeTrackingModel{}
	p, err := pipeline.New(pipeline.Config{Schema: schema.Risk(), Model: model})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	reg, err := pipeline.NewRegistry(p)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg, model
}

func TestRunClosesRegistryOnStartupFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *config.Config)
	}{
		{
			name: "telemetry",
			setup: func(cfg *config.Config) {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.Protocol = "carrier-pigeon"
			},
		},
		{
			name: "listener",
			setup: func(cfg *config.Config) {
				cfg.Server.Addr = "127.0.0.1:99999"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("testdata/does-not-exist.yaml")
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			cfg.Pipelines.Stage.Enabled = false
			tt.setup(cfg)

			reg, model := newTrackedRegistry(t)
			if err := run(cfg, reg, make(chan os.Signal)); err == nil {
				t.Fatalf("expected run to fail")
			}
			if got := model.closed.Load(); got != 1 {
				t.Fatalf("expected classifier closed once, got %d", got)
			}
		})
	}
}
