package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/store"
)

// CachedSnapshot is a snapshot plus when it was read. Version increases by
// one per refresh of the same model.
type CachedSnapshot struct {
	store.Snapshot
	Version     int64     `json:"version"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// SnapshotCache serves the last refreshed snapshot of each model to
// readers without touching the database.
//
// Cached snapshots are shared between readers and must not be mutated.
type SnapshotCache struct {
	store *store.Store
	now   func() time.Time

	mu    sync.RWMutex
	snaps map[model.ModelRef]CachedSnapshot
}

// NewSnapshotCache creates an empty cache reading from st.
func NewSnapshotCache(st *store.Store) *SnapshotCache {
	return &SnapshotCache{
		store: st,
		now:   time.Now,
		snaps: make(map[model.ModelRef]CachedSnapshot),
	}
}

// RefreshSnapshot re-reads ref from the store. Safe to call concurrently
// and repeatedly.
func (c *SnapshotCache) RefreshSnapshot(ctx context.Context, ref model.ModelRef) error {
	snap, err := c.store.Snapshot(ctx, string(ref))
	if err != nil {
		return fmt.Errorf("refresh snapshot %s: %w", ref, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.snaps[ref]
	c.snaps[ref] = CachedSnapshot{
		Snapshot:    snap,
		Version:     prev.Version + 1,
		RefreshedAt: c.now(),
	}
	return nil
}

// Snapshot returns the cached snapshot of ref, or false if it was never
// refreshed.
func (c *SnapshotCache) Snapshot(ref model.ModelRef) (CachedSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snaps[ref]
	return s, ok
}
