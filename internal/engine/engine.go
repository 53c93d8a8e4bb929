package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"raidline/internal/docstore"
	"raidline/internal/domain"
	"raidline/internal/events"
	"raidline/internal/graph"
	"raidline/internal/repo"
)

// Request-shape validation failures. These surface to the caller immediately
// and abort before any write.
var (
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidCount = errors.New("invalid count")
	ErrEmptyUpdate  = errors.New("empty update")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Graphs *graph.Service
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, graphs *graph.Service) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.New(db),
		Events: events.Writer{DB: db},
		Graphs: graphs,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// progressDoc loads the actor's migrated progress document, substituting the
// default empty dual-mode record when none exists yet. Progress records have
// no explicit create step; they materialize on first write.
func (e Engine) progressDoc(ctx context.Context, actorID string) (map[string]any, error) {
	doc, err := e.Repo.Progress(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return repo.MigrateRecord(map[string]any{}), nil
	}
	return doc, err
}

func currentMode(doc map[string]any) string {
	if mode, ok := doc["currentGameMode"].(string); ok && domain.ValidMode(mode) {
		return mode
	}
	return domain.ModePvP
}

// statusFields returns the field mutations for one bucket entry entering the
// given status. Entering completed or failed stamps the clock; reverting to
// uncompleted removes the timestamp and failed fields entirely.
func (e Engine) statusFields(state string) map[string]any {
	switch state {
	case domain.StatusCompleted:
		return map[string]any{
			"complete":  true,
			"failed":    docstore.Delete,
			"timestamp": e.now().UnixMilli(),
		}
	case domain.StatusFailed:
		return map[string]any{
			"complete":  false,
			"failed":    true,
			"timestamp": e.now().UnixMilli(),
		}
	default: // uncompleted
		return map[string]any{
			"complete":  false,
			"failed":    docstore.Delete,
			"timestamp": docstore.Delete,
		}
	}
}

func entryPath(mode, bucket, id, field string) string {
	return mode + "." + bucket + "." + id + "." + field
}

// SetLevel records the actor's player level in the current game mode.
// Levels start at 1; anything lower is rejected before any write.
func (e Engine) SetLevel(ctx context.Context, actorID string, level int) error {
	if level < 1 {
		return fmt.Errorf("%w: level %d", ErrInvalidCount, level)
	}
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return err
	}
	mode := currentMode(doc)
	if err := e.Repo.UpdateProgress(ctx, actorID, map[string]any{mode + ".level": level}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "progress.level", actorID, "level", "", events.EventPayload{"level": level, "mode": mode}); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	return nil
}

// SetGameMode flips the actor's active progress universe.
func (e Engine) SetGameMode(ctx context.Context, actorID, mode string) error {
	if !domain.ValidMode(mode) {
		return fmt.Errorf("%w: game mode %q", ErrInvalidState, mode)
	}
	return e.Repo.UpdateProgress(ctx, actorID, map[string]any{"currentGameMode": mode})
}

// SetTaskState applies a status transition to one task, then recomputes the
// derived invalid flag on every transitively dependent task. The primary
// write is the source of truth; propagation is best-effort.
func (e Engine) SetTaskState(ctx context.Context, actorID, taskID, state string) error {
	if !domain.ValidStatus(state) {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return err
	}
	mode := currentMode(doc)
	updates := map[string]any{}
	for field, value := range e.statusFields(state) {
		updates[entryPath(mode, domain.BucketTasks, taskID, field)] = value
	}
	if err := e.Repo.UpdateProgress(ctx, actorID, updates); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "progress.task", actorID, "task", taskID, events.EventPayload{"state": state, "mode": mode}); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	e.propagateTask(ctx, actorID, taskID, state)
	return nil
}

// SetTasksState applies a batch of task status transitions. Validation runs
// for every item before anything is written; a single invalid item rejects
// the whole batch. The committed write is one atomic document update, then
// propagation runs independently per item.
func (e Engine) SetTasksState(ctx context.Context, actorID string, states map[string]string) error {
	if len(states) == 0 {
		return ErrEmptyUpdate
	}
	for taskID, state := range states {
		if !domain.ValidStatus(state) {
			return fmt.Errorf("%w: task %s: %q", ErrInvalidState, taskID, state)
		}
	}
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return err
	}
	mode := currentMode(doc)
	updates := map[string]any{}
	for taskID, state := range states {
		for field, value := range e.statusFields(state) {
			updates[entryPath(mode, domain.BucketTasks, taskID, field)] = value
		}
	}
	if err := e.Repo.UpdateProgress(ctx, actorID, updates); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "progress.tasks", actorID, "task", "", events.EventPayload{"states": states, "mode": mode}); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	for taskID, state := range states {
		e.propagateTask(ctx, actorID, taskID, state)
	}
	return nil
}

// ObjectiveUpdate is a partial update to a countable task objective.
type ObjectiveUpdate struct {
	State *string
	Count *int
}

// SetObjective applies a state and/or count change to one task objective.
// An update carrying neither is rejected as empty before any write.
func (e Engine) SetObjective(ctx context.Context, actorID, objectiveID string, update ObjectiveUpdate) error {
	if update.State == nil && update.Count == nil {
		return ErrEmptyUpdate
	}
	if update.State != nil && !domain.ValidStatus(*update.State) {
		return fmt.Errorf("%w: %q", ErrInvalidState, *update.State)
	}
	if update.Count != nil && *update.Count < 0 {
		return fmt.Errorf("%w: count %d", ErrInvalidCount, *update.Count)
	}
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return err
	}
	mode := currentMode(doc)
	updates := map[string]any{}
	if update.State != nil {
		for field, value := range e.statusFields(*update.State) {
			updates[entryPath(mode, domain.BucketTaskObjectives, objectiveID, field)] = value
		}
	}
	if update.Count != nil {
		updates[entryPath(mode, domain.BucketTaskObjectives, objectiveID, "count")] = *update.Count
	}
	if err := e.Repo.UpdateProgress(ctx, actorID, updates); err != nil {
		return err
	}
	payload := events.EventPayload{"mode": mode}
	if update.State != nil {
		payload["state"] = *update.State
	}
	if update.Count != nil {
		payload["count"] = *update.Count
	}
	if err := e.Events.Append(ctx, "progress.objective", actorID, "taskObjective", objectiveID, payload); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	if update.State != nil {
		e.propagateTask(ctx, actorID, objectiveID, *update.State)
	}
	return nil
}

// SetHideoutModule applies a status transition to one hideout station level
// and recomputes derived invalidation across dependent levels.
func (e Engine) SetHideoutModule(ctx context.Context, actorID, levelID, state string) error {
	if !domain.ValidStatus(state) {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return err
	}
	mode := currentMode(doc)
	updates := map[string]any{}
	for field, value := range e.statusFields(state) {
		updates[entryPath(mode, domain.BucketHideoutModules, levelID, field)] = value
	}
	if err := e.Repo.UpdateProgress(ctx, actorID, updates); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "progress.hideout", actorID, "hideoutModule", levelID, events.EventPayload{"state": state, "mode": mode}); err != nil {
		e.logger().Warn("event append failed", "actor", actorID, "error", err)
	}
	e.propagateHideout(ctx, actorID, levelID, state)
	return nil
}

// StationBuildTime sums remaining construction time for a station level over
// the level itself and every unbuilt prerequisite level, counting shared
// prerequisites once. Requires graph structure: a missing catalog is fatal.
func (e Engine) StationBuildTime(ctx context.Context, actorID, levelID string) (int64, error) {
	snap, _, hideout, err := e.Graphs.Current()
	if err != nil {
		return 0, err
	}
	doc, err := e.progressDoc(ctx, actorID)
	if err != nil {
		return 0, err
	}
	entries := bucketEntries(doc, currentMode(doc), domain.BucketHideoutModules)
	total := hideout.SumAttribute(levelID, func(id string) int64 {
		if entryBool(entries, id, "complete") {
			return 0
		}
		lvl, ok := snap.StationLevelByID(id)
		if !ok {
			return 0
		}
		return lvl.ConstructionTime
	})
	return total, nil
}

// bucketEntries returns the entry map for one bucket of one mode, or an
// empty map when absent.
func bucketEntries(doc map[string]any, mode, bucket string) map[string]any {
	modeDoc, ok := doc[mode].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	entries, ok := modeDoc[bucket].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return entries
}

func entryBool(entries map[string]any, id, field string) bool {
	entry, ok := entries[id].(map[string]any)
	if !ok {
		return false
	}
	v, _ := entry[field].(bool)
	return v
}
