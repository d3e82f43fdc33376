package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/straja-ai/liverstage/internal/activation"
	"github.com/straja-ai/liverstage/internal/artifact"
	"github.com/straja-ai/liverstage/internal/config"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/redact"
	"github.com/straja-ai/liverstage/internal/server"
	"github.com/straja-ai/liverstage/internal/telemetry"
)

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "liverstage.yaml", "Path to liverstage config file")
	demoDir := flag.String("demo-bundles", "", "Write demo bundles into this directory and serve them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}

	if *demoDir != "" {
		for variant, pc := range map[string]*config.PipelineConfig{
			"stage": &cfg.Pipelines.Stage,
			"risk":  &cfg.Pipelines.Risk,
		} {
			dir := filepath.Join(*demoDir, variant)
			if _, err := artifact.WriteDemoBundle(dir, variant); err != nil {
				log.Fatalf("write demo bundle %s: %v", variant, err)
			}
			pc.Enabled = true
			pc.BundleDir = dir
			pc.ModelFormat = artifact.FormatLinear
			pc.PublicKey = ""
		}
		log.Printf("serving demo bundles from %s; predictions are illustrative only", *demoDir)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	reg, err := artifact.LoadRegistry(cfg)
	if err != nil {
		log.Fatalf("failed to load pipelines: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(cfg, reg, sigCh); err != nil {
		redact.Fatalf("%v", err)
	}
}

// run serves until stop fires or the listener fails. It owns reg and closes
// it on every return path.
func run(cfg *config.Config, reg *pipeline.Registry, stop <-chan os.Signal) error {
	defer reg.Close()

	tel, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  os.Getenv("LIVERSTAGE_VERSION"),
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}

	sinks, err := activation.BuildSinks(cfg.Activation.Sinks, cfg.Logging.ActivationLevel)
	if err != nil {
		tel.Shutdown(context.Background())
		return fmt.Errorf("failed to build activation sinks: %w", err)
	}
	em := activation.NewEmitter(activation.EmitterConfig{
		QueueSize:       cfg.Activation.QueueSize,
		Workers:         cfg.Activation.Workers,
		ShutdownTimeout: cfg.Activation.ShutdownTimeout,
	}, sinks)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		em.Close(ctx)
		tel.Shutdown(ctx)
	}()

	srv, err := server.New(cfg, reg, em, tel)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	return nil
}
