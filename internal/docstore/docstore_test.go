package docstore_test

import (
	"context"
	"errors"
	"testing"

	"raidline/internal/db"
	"raidline/internal/docstore"
	"raidline/internal/migrate"
)

func newStore(t *testing.T) docstore.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return docstore.Store{DB: conn}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "progress", "nobody")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetMerge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "progress", "u1", map[string]any{"pvp": map[string]any{"level": 5}}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	// merge must not clobber the sibling key
	if err := s.Set(ctx, "progress", "u1", map[string]any{"pvp": map[string]any{"displayName": "rat"}}, true); err != nil {
		t.Fatalf("merge: %v", err)
	}
	doc, err := s.Get(ctx, "progress", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pvp := doc["pvp"].(map[string]any)
	if pvp["level"].(float64) != 5 || pvp["displayName"].(string) != "rat" {
		t.Fatalf("merge lost fields: %v", pvp)
	}
}

func TestSetReplace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "team", "t1", map[string]any{"owner": "a", "password": "x"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "team", "t1", map[string]any{"owner": "b"}, false); err != nil {
		t.Fatalf("replace: %v", err)
	}
	doc, err := s.Get(ctx, "team", "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := doc["password"]; ok {
		t.Fatalf("replace should drop unset fields: %v", doc)
	}
}

func TestUpdateDottedPaths(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	err := s.Update(ctx, "progress", "u1", map[string]any{
		"pvp.taskCompletions.t1.complete": true,
		"pvp.level":                       12,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// second update targets a sibling entry; t1 must survive
	err = s.Update(ctx, "progress", "u1", map[string]any{
		"pvp.taskCompletions.t2.complete": true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := s.Get(ctx, "progress", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pvp := doc["pvp"].(map[string]any)
	tasks := pvp["taskCompletions"].(map[string]any)
	if len(tasks) != 2 {
		t.Fatalf("expected both entries, got %v", tasks)
	}
	if pvp["level"].(float64) != 12 {
		t.Fatalf("level lost: %v", pvp)
	}
}

func TestDeleteSentinel(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	err := s.Update(ctx, "progress", "u1", map[string]any{
		"pvp.taskCompletions.t1.complete": true,
		"pvp.taskCompletions.t1.failed":   true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	err = s.Update(ctx, "progress", "u1", map[string]any{
		"pvp.taskCompletions.t1.failed": docstore.Delete,
	})
	if err != nil {
		t.Fatalf("delete field: %v", err)
	}
	doc, _ := s.Get(ctx, "progress", "u1")
	entry := doc["pvp"].(map[string]any)["taskCompletions"].(map[string]any)["t1"].(map[string]any)
	if _, ok := entry["failed"]; ok {
		t.Fatalf("failed should be removed, got %v", entry)
	}
	if entry["complete"].(bool) != true {
		t.Fatalf("complete should survive, got %v", entry)
	}
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "system", "u1", map[string]any{"team": "t1"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Remove(ctx, "system", "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(ctx, "system", "u1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	// removing again is a no-op
	if err := s.Remove(ctx, "system", "u1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
