package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Loader fetches a catalog snapshot from an external content source.
// Returning ErrUnavailable (or any error) marks the catalog unavailable for
// the current request only; callers retry on their own schedule.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// FileLoader reads a snapshot from a JSON file on disk.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, l.Path, err)
	}
	return decodeSnapshot(data)
}

// HTTPLoader fetches a snapshot from an upstream content API. The surrounding
// transport bounds the fetch via the client timeout; failures propagate
// upward unmodified as ErrUnavailable.
type HTTPLoader struct {
	URL    string
	Client *http.Client
}

func (l HTTPLoader) Load(ctx context.Context) (*Snapshot, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, l.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrUnavailable, l.URL, res.StatusCode)
	}
	var snap Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	snap.index()
	return &snap, nil
}

// SnapshotFromData builds an indexed snapshot from already-decoded catalog
// content. Used by tests and by callers that embed fixtures.
func SnapshotFromData(tasks []Task, stations []Station) *Snapshot {
	snap := &Snapshot{Tasks: tasks, Stations: stations}
	snap.index()
	return snap
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	snap.index()
	return &snap, nil
}
