// Package docstore provides a small document store on top of SQLite.
// Documents are schemaless JSON objects addressed by (collection, id).
// Writes follow a field-merge contract: concurrent writers resolve
// last-write-wins per field, and dotted field paths target nested keys
// without clobbering siblings.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("document not found")

type deleteSentinel struct{}

// Delete marks a field for removal. A field set to Delete in a merge or
// update payload is removed from the stored document entirely rather than
// being written as null.
var Delete = deleteSentinel{}

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the decoded document, or ErrNotFound.
func (s Store) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT doc FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Set writes a document. With merge=false the stored document is replaced
// wholesale; with merge=true fields are merged recursively into the existing
// document, creating it if absent.
func (s Store) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc := map[string]any{}
	if merge {
		existing, err := getTx(ctx, tx, collection, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			doc = existing
		}
	}
	mergeFields(doc, fields)
	if err := putTx(ctx, tx, collection, id, doc, s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// Update applies a set of dotted field paths to a document atomically,
// creating the document and any missing intermediate objects. All paths in a
// single call land in one transaction; the caller sees all or none of them.
func (s Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc, err := getTx(ctx, tx, collection, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		doc = map[string]any{}
	}
	for path, value := range fields {
		applyPath(doc, strings.Split(path, "."), value)
	}
	if err := putTx(ctx, tx, collection, id, doc, s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes a document. Removing an absent document is a no-op.
func (s Store) Remove(ctx context.Context, collection, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, id)
	return err
}

func getTx(ctx context.Context, tx *sql.Tx, collection, id string) (map[string]any, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT doc FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func putTx(ctx context.Context, tx *sql.Tx, collection, id string, doc map[string]any, now time.Time) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(collection,id,doc,updated_at) VALUES (?,?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		collection, id, string(data), now.UTC().Format(time.RFC3339))
	return err
}

// mergeFields merges src into dst recursively. Map values merge; anything
// else overwrites. A Delete sentinel removes the key.
func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if _, isDelete := v.(deleteSentinel); isDelete {
			delete(dst, k)
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeFields(existing, sub)
				continue
			}
			child := map[string]any{}
			mergeFields(child, sub)
			dst[k] = child
			continue
		}
		dst[k] = v
	}
}

// applyPath sets or deletes the value at the given path, creating missing
// intermediate objects. A non-object in the middle of the path is replaced.
func applyPath(doc map[string]any, path []string, value any) {
	key := path[0]
	if len(path) == 1 {
		if _, isDelete := value.(deleteSentinel); isDelete {
			delete(doc, key)
			return
		}
		doc[key] = value
		return
	}
	child, ok := doc[key].(map[string]any)
	if !ok {
		child = map[string]any{}
		doc[key] = child
	}
	applyPath(child, path[1:], value)
}
