package preflight

import (
	"context"

	"ledgermark/internal/config"
	"ledgermark/internal/stage"
)

// RunAll checks every directory the configuration writes to.
func RunAll(ctx context.Context, cfg *config.Config) []stage.Health {
	if cfg == nil {
		return nil
	}

	results := []stage.Health{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Storage.Backend == config.StorageBackendLocal {
		results = append(results, CheckDirectoryAccess("Local store", cfg.Storage.LocalDir))
	}
	return results
}
