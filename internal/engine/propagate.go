package engine

import (
	"context"

	"raidline/internal/domain"
	"raidline/internal/graph"
)

// Dependency propagation is the second phase of every committed status
// change: walk the dependents of the changed objective and recompute their
// derived invalid flags. The primary mutation has already been durably
// committed by the time this runs, so every failure here is logged with full
// context and swallowed — callers are never blocked on, or informed of,
// derived recomputation. Each invocation recomputes from the current graph
// and the current stored statuses, so reordering between items of a batch is
// self-correcting.

func (e Engine) propagateTask(ctx context.Context, actorID, changedID, requestedState string) {
	_, tasks, _, err := e.Graphs.Current()
	if err != nil {
		e.logger().Warn("propagation skipped: catalog unavailable",
			"actor", actorID, "objective", changedID, "state", requestedState)
		return
	}
	e.propagate(ctx, actorID, tasks, domain.BucketTasks, changedID, requestedState)
}

func (e Engine) propagateHideout(ctx context.Context, actorID, changedID, requestedState string) {
	_, _, hideout, err := e.Graphs.Current()
	if err != nil {
		e.logger().Warn("propagation skipped: catalog unavailable",
			"actor", actorID, "objective", changedID, "state", requestedState)
		return
	}
	e.propagate(ctx, actorID, hideout, domain.BucketHideoutModules, changedID, requestedState)
}

func (e Engine) propagate(ctx context.Context, actorID string, g *graph.Graph, bucket, changedID, requestedState string) {
	logger := e.logger().With("actor", actorID, "objective", changedID, "state", requestedState)

	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		logger.Warn("propagation skipped: progress reload failed", "error", err)
		return
	}
	mode := currentMode(doc)
	entries := bucketEntries(doc, mode, bucket)

	updates := map[string]any{}
	for _, dependent := range g.Descendants(changedID) {
		invalid, decided := recomputeInvalid(g, entries, dependent)
		if !decided {
			continue
		}
		if entryBool(entries, dependent, "invalid") == invalid {
			continue
		}
		updates[entryPath(mode, bucket, dependent, "invalid")] = invalid
	}
	if len(updates) == 0 {
		return
	}
	if err := e.Repo.UpdateProgress(ctx, actorID, updates); err != nil {
		logger.Warn("propagation write failed", "error", err)
	}
}

// recomputeInvalid derives the invalid flag for one objective from its
// direct prerequisites: true if any prerequisite failed, false if all are
// completed. While some prerequisite is still uncompleted the current value
// stands, reported as undecided.
func recomputeInvalid(g *graph.Graph, entries map[string]any, id string) (invalid, decided bool) {
	preds := g.Predecessors(id)
	allCompleted := true
	for _, pred := range preds {
		if entryBool(entries, pred, "failed") {
			return true, true
		}
		if !entryBool(entries, pred, "complete") {
			allCompleted = false
		}
	}
	if allCompleted {
		return false, true
	}
	return false, false
}
