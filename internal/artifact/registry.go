package artifact

import (
	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/liverstage/internal/config"
	"github.com/straja-ai/liverstage/internal/pipeline"
	"github.com/straja-ai/liverstage/internal/schema"
)

// OptionsFromConfig maps one pipeline's config section onto load options.
func OptionsFromConfig(variant string, pc config.PipelineConfig, rt config.ONNXRuntimeConfig) Options {
	return Options{
		Variant:        variant,
		BundleDir:      pc.BundleDir,
		ModelFormat:    pc.ModelFormat,
		ScalerPolicy:   pc.Scaler,
		VerifyManifest: pc.VerifyManifest,
		PublicKey:      pc.PublicKey,
		ONNX: ONNXOptions{
			SharedLibraryPath: rt.SharedLibraryPath,
			InputName:         pc.InputName,
			OutputName:        pc.OutputName,
		},
		Colors:       pc.Colors,
		DefaultColor: pc.DefaultColor,
	}
}

// LoadRegistry loads every enabled pipeline concurrently. A failure closes
// whatever did load and aborts.
func LoadRegistry(cfg *config.Config) (*pipeline.Registry, error) {
	sections := []struct {
		variant string
		pc      config.PipelineConfig
	}{
		{schema.VariantStage, cfg.Pipelines.Stage},
		{schema.VariantRisk, cfg.Pipelines.Risk},
	}

	slots := make([]*pipeline.Pipeline, len(sections))
	var g errgroup.Group
	for i, sec := range sections {
		if !sec.pc.Enabled {
			continue
		}
		g.Go(func() error {
			p, err := Load(OptionsFromConfig(sec.variant, sec.pc, cfg.ONNXRuntime))
			if err != nil {
				return err
			}
			slots[i] = p
			return nil
		})
	}

	err := g.Wait()
	var loaded []*pipeline.Pipeline
	for _, p := range slots {
		if p == nil {
			continue
		}
		if err != nil {
			_ = p.Close()
			continue
		}
		loaded = append(loaded, p)
	}
	if err != nil {
		return nil, err
	}
	return pipeline.NewRegistry(loaded...)
}
