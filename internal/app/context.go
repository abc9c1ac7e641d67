// Package app resolves the workspace configuration shared by the CLI and
// the API server.
package app

import (
	"context"
	"errors"
	"fmt"

	"bountyline/internal/config"
	"bountyline/internal/repo"
)

// ResolveConfig loads the workspace config from the DB, seeding defaults
// on first use. An explicit file import always wins over the stored copy.
func ResolveConfig(ctx context.Context, r repo.Repo, filePath string) (*config.Config, error) {
	if filePath != "" {
		cfg, err := config.Load(filePath)
		if err != nil {
			return nil, err
		}
		if err := r.UpsertWorkspaceConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store workspace config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := r.GetWorkspaceConfig(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		cfg = config.Default()
		if err := r.UpsertWorkspaceConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("seed workspace config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
