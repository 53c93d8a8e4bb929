package app

import (
	"context"

	"raidline/internal/catalog"
	"raidline/internal/config"
	"raidline/internal/graph"
	"raidline/internal/repo"
)

// TouchActor stamps the actor's system record at request time. System records
// are created implicitly the first time an authenticated actor shows up.
func TouchActor(ctx context.Context, r repo.Repo, actorID, now string) error {
	return r.UpdateSystem(ctx, actorID, map[string]any{"lastSeen": now})
}

// LoaderFromConfig picks the catalog loader the config names. A file path
// wins over a URL so local fixtures override the upstream source.
func LoaderFromConfig(cfg *config.Config) catalog.Loader {
	if cfg.Catalog.Path != "" {
		return catalog.FileLoader{Path: cfg.Catalog.Path}
	}
	return catalog.HTTPLoader{URL: cfg.Catalog.URL}
}

// ResolveGraphs builds the graph service and performs the initial catalog
// load. A failed initial load is not fatal for startup: the service starts
// empty and graph-needing calls fail with a catalog-unavailable condition
// until a later refresh succeeds.
func ResolveGraphs(ctx context.Context, cfg *config.Config) (*graph.Service, error) {
	svc := graph.NewService(LoaderFromConfig(cfg))
	if err := svc.Refresh(ctx); err != nil {
		return svc, err
	}
	return svc, nil
}
