package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"raidline/internal/docstore"
	"raidline/internal/domain"
)

// Document collections.
const (
	CollectionProgress = "progress"
	CollectionSystem   = "system"
	CollectionTeam     = "team"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB    *sql.DB
	Store docstore.Store
	Now   func() time.Time
}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Store: docstore.Store{DB: db}}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Progress returns the actor's raw progress document, migrated to the
// dual-mode shape. Migration runs here, before the record reaches any other
// component, and is persisted only when it actually changed the record.
func (r Repo) Progress(ctx context.Context, actorID string) (map[string]any, error) {
	doc, err := r.Store.Get(ctx, CollectionProgress, actorID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if NeedsMigration(doc) {
		doc = MigrateRecord(doc)
		if err := r.Store.Set(ctx, CollectionProgress, actorID, doc, false); err != nil {
			return nil, fmt.Errorf("persist migrated record: %w", err)
		}
	}
	return doc, nil
}

// UpdateProgress applies dotted field paths to the actor's progress document
// atomically, creating it on first write.
func (r Repo) UpdateProgress(ctx context.Context, actorID string, fields map[string]any) error {
	return r.Store.Update(ctx, CollectionProgress, actorID, fields)
}

// SetProgress writes the actor's progress document with merge semantics.
func (r Repo) SetProgress(ctx context.Context, actorID string, fields map[string]any, merge bool) error {
	return r.Store.Set(ctx, CollectionProgress, actorID, fields, merge)
}

// System returns the actor's system record. A missing document yields a zero
// record: system state is created implicitly on first use.
func (r Repo) System(ctx context.Context, actorID string) (domain.SystemRecord, error) {
	var rec domain.SystemRecord
	doc, err := r.Store.Get(ctx, CollectionSystem, actorID)
	if errors.Is(err, docstore.ErrNotFound) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	if err := decodeDoc(doc, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// UpdateSystem applies dotted field paths to the actor's system record.
func (r Repo) UpdateSystem(ctx context.Context, actorID string, fields map[string]any) error {
	return r.Store.Update(ctx, CollectionSystem, actorID, fields)
}

// Team returns a team document by id.
func (r Repo) Team(ctx context.Context, teamID string) (domain.Team, error) {
	var team domain.Team
	doc, err := r.Store.Get(ctx, CollectionTeam, teamID)
	if errors.Is(err, docstore.ErrNotFound) {
		return team, ErrNotFound
	}
	if err != nil {
		return team, err
	}
	if err := decodeDoc(doc, &team); err != nil {
		return team, err
	}
	return team, nil
}

// SaveTeam writes a team document wholesale.
func (r Repo) SaveTeam(ctx context.Context, teamID string, team domain.Team) error {
	doc, err := encodeDoc(team)
	if err != nil {
		return err
	}
	return r.Store.Set(ctx, CollectionTeam, teamID, doc, false)
}

// DeleteTeam removes a team document.
func (r Repo) DeleteTeam(ctx context.Context, teamID string) error {
	return r.Store.Remove(ctx, CollectionTeam, teamID)
}

func decodeDoc(doc map[string]any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func encodeDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
