package preflight

import (
	"context"

	"atelier/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Model checks are only run when the corresponding model path is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Artifacts directory", cfg.Paths.ArtifactsDir),
		CheckDiskSpace("Artifacts disk space", cfg.Paths.ArtifactsDir),
	}

	if cfg.Paths.ModelsDir != "" {
		results = append(results, CheckDirectoryAccess("Models directory", cfg.Paths.ModelsDir))
	}
	if cfg.Speech.ModelPath != "" {
		results = append(results, CheckModelFile("Speech model", cfg.Speech.ModelPath))
	}
	if cfg.Generation.ModelPath != "" {
		results = append(results, CheckModelFile("Diffusion model", cfg.Generation.ModelPath))
	}

	return results
}
