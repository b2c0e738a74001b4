package store

import (
	"context"
	"slices"
	"sync"

	"github.com/moyoez/readersync/types"
)

// Memory is an in-process Store, used by tests and by nodes started without a database.
type Memory struct {
	mu         sync.Mutex
	deviceID   string
	books      map[string]types.BookEntry
	progress   map[string]types.ProgressEntry
	categories map[string]types.CategoryEntry
	log        []types.SyncLogEntry
	lastSync   map[string]int64
}

func NewMemory(deviceID string) *Memory {
	return &Memory{
		deviceID:   deviceID,
		books:      make(map[string]types.BookEntry),
		progress:   make(map[string]types.ProgressEntry),
		categories: make(map[string]types.CategoryEntry),
		lastSync:   make(map[string]int64),
	}
}

func (m *Memory) Snapshot(ctx context.Context) (types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := types.Snapshot{DeviceID: m.deviceID}
	for _, b := range m.books {
		s.Books = append(s.Books, b)
	}
	for _, p := range m.progress {
		s.Progress = append(s.Progress, p)
	}
	for _, c := range m.categories {
		c.Categories = slices.Clone(c.Categories)
		s.Categories = append(s.Categories, c)
	}
	sortSnapshot(&s)
	return s, nil
}

func (m *Memory) Apply(ctx context.Context, changes types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(changes); err != nil {
		return types.StorageError("invalid change set", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range changes.Books {
		m.books[b.Key] = b
	}
	for _, p := range changes.Progress {
		m.progress[p.BookKey] = p
	}
	for _, c := range changes.Categories {
		c.Categories = slices.Clone(c.Categories)
		m.categories[c.BookKey] = c
	}
	return nil
}

func (m *Memory) RecordSync(_ context.Context, entry types.SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, entry)
	if entry.Status == types.PhaseCompleted {
		m.lastSync[entry.DeviceID] = entry.Timestamp
	}
	return nil
}

func (m *Memory) LastSyncTime(_ context.Context, deviceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.lastSync[deviceID]
	if !ok {
		return 0, ErrNotFound
	}
	return ts, nil
}

// SyncLog returns the newest entries first.
func (m *Memory) SyncLog(_ context.Context, limit int) ([]types.SyncLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.log)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
