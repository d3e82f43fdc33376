package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/straja-ai/liverstage/internal/artifact"
	"github.com/straja-ai/liverstage/internal/config"
	"github.com/straja-ai/liverstage/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", "", "path to config yaml (required)")
	variant := flag.String("variant", "stage", "pipeline to benchmark: stage | risk")
	n := flag.Int("n", 1000, "number of iterations")
	flag.Parse()

	if *cfgPath == "" {
		log.Fatalf("config flag is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var pc config.PipelineConfig
	switch *variant {
	case "stage":
		pc = cfg.Pipelines.Stage
	case "risk":
		pc = cfg.Pipelines.Risk
	default:
		log.Fatalf("unknown variant %q", *variant)
	}

	p, err := artifact.Load(artifact.OptionsFromConfig(*variant, pc, cfg.ONNXRuntime))
	if err != nil {
		log.Fatalf("load %s pipeline: %v", *variant, err)
	}

	if *n <= 0 {
		*n = 1
	}
	durations, label, err := bench(context.Background(), p, *n)
	info := p.Info()
	_ = p.Close()
	if err != nil {
		log.Fatalf("%v", err)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	avg := float64(total.Microseconds()) / 1000.0 / float64(len(durations))
	p50 := float64(durations[len(durations)/2].Microseconds()) / 1000.0
	p95 := float64(durations[int(float64(len(durations))*0.95)].Microseconds()) / 1000.0

	fmt.Printf("bench: variant=%s n=%d avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f model=%s version=%s scaled=%t label=%q\n",
		*variant,
		len(durations),
		avg,
		p50,
		p95,
		info.Model,
		info.ModelVersion,
		info.Scaled,
		label,
	)
}

// bench warms the pipeline up and times n predictions on the schema defaults.
func bench(ctx context.Context, p *pipeline.Pipeline, n int) ([]time.Duration, string, error) {
	input := p.Schema().Defaults()
	for i := 0; i < 5; i++ {
		if _, err := p.Predict(ctx, input); err != nil {
			return nil, "", fmt.Errorf("warmup predict failed: %w", err)
		}
	}

	durations := make([]time.Duration, 0, n)
	var label string
	for i := 0; i < n; i++ {
		start := time.Now()
		res, err := p.Predict(ctx, input)
		if err != nil {
			return nil, "", fmt.Errorf("predict failed: %w", err)
		}
		durations = append(durations, time.Since(start))
		label = res.Label
	}
	return durations, label, nil
}
