package graph

import (
	"context"
	"sync"

	"raidline/internal/catalog"
)

// Service holds the current catalog snapshot and the graphs derived from it.
// Refresh swaps in a complete new version; readers always see a consistent
// snapshot/graph pair. There is no implicit reactivity: callers re-invoke
// Refresh when the catalog changes.
type Service struct {
	Loader catalog.Loader

	mu      sync.RWMutex
	snap    *catalog.Snapshot
	tasks   *Graph
	hideout *Graph
}

func NewService(loader catalog.Loader) *Service {
	return &Service{Loader: loader}
}

// Refresh loads the catalog and rebuilds both graphs. On failure the
// previous version stays in place.
func (s *Service) Refresh(ctx context.Context) error {
	snap, err := s.Loader.Load(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return catalog.ErrUnavailable
	}
	tasks, err := BuildTaskGraph(ctx, snap)
	if err != nil {
		return err
	}
	hideout, err := BuildHideoutGraph(ctx, snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	s.tasks = tasks
	s.hideout = hideout
	s.mu.Unlock()
	return nil
}

// Current returns the active snapshot and graphs, or ErrUnavailable when no
// catalog has been loaded yet.
func (s *Service) Current() (*catalog.Snapshot, *Graph, *Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, nil, nil, catalog.ErrUnavailable
	}
	return s.snap, s.tasks, s.hideout, nil
}

// SetCurrent installs a pre-built snapshot and graphs. Test helper and seed
// path for embedded fixtures.
func (s *Service) SetCurrent(snap *catalog.Snapshot, tasks, hideout *Graph) {
	s.mu.Lock()
	s.snap = snap
	s.tasks = tasks
	s.hideout = hideout
	s.mu.Unlock()
}
