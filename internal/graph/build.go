package graph

import (
	"context"
	"fmt"

	"raidline/internal/catalog"
	"raidline/internal/ctxlog"
)

// BuildTaskGraph constructs the task prerequisite graph from a snapshot.
// A requirement referencing an unknown task is a data-integrity issue in the
// upstream catalog, not a crash: the edge is logged and skipped so the rest
// of the graph still builds.
func BuildTaskGraph(ctx context.Context, snap *catalog.Snapshot) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := New()
	for _, t := range snap.Tasks {
		g.AddNode(t.ID)
	}
	for _, t := range snap.Tasks {
		for _, req := range t.TaskRequirements {
			if _, ok := snap.TaskByID(req.TaskID); !ok {
				logger.Warn("skipping task requirement: referenced task not in catalog",
					"task", t.ID, "required_task", req.TaskID)
				continue
			}
			if err := g.AddEdge(req.TaskID, t.ID); err != nil {
				logger.Warn("skipping task requirement edge", "task", t.ID, "required_task", req.TaskID, "error", err)
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, fmt.Errorf("task graph: %w", err)
	}
	return g, nil
}

// BuildHideoutGraph constructs the station-level prerequisite graph. Each
// requirement resolves the referenced station's specific level by matching
// the declared level number, not the slice index.
func BuildHideoutGraph(ctx context.Context, snap *catalog.Snapshot) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := New()
	for _, station := range snap.Stations {
		for _, lvl := range station.Levels {
			g.AddNode(lvl.ID)
		}
	}
	for _, station := range snap.Stations {
		for _, lvl := range station.Levels {
			for _, req := range lvl.Requirements {
				requiredID, ok := resolveStationLevel(snap, req.StationID, req.Level)
				if !ok {
					logger.Warn("skipping station requirement: no level match",
						"station", station.ID, "level", lvl.Level,
						"required_station", req.StationID, "required_level", req.Level)
					continue
				}
				if err := g.AddEdge(requiredID, lvl.ID); err != nil {
					logger.Warn("skipping station requirement edge",
						"station", station.ID, "level", lvl.Level, "error", err)
				}
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, fmt.Errorf("hideout graph: %w", err)
	}
	return g, nil
}

func resolveStationLevel(snap *catalog.Snapshot, stationID string, level int) (string, bool) {
	for _, station := range snap.Stations {
		if station.ID != stationID {
			continue
		}
		for _, lvl := range station.Levels {
			if lvl.Level == level {
				return lvl.ID, true
			}
		}
		return "", false
	}
	return "", false
}
