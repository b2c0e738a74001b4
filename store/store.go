// Package store persists the syncable library state and the sync history.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/moyoez/readersync/types"
)

// ErrNotFound is returned when a device has no recorded sync.
var ErrNotFound = errors.New("store: not found")

// Store is the local storage collaborator of a sync session.
// Apply writes every entity of changes in one transaction or none of them.
type Store interface {
	Snapshot(ctx context.Context) (types.Snapshot, error)
	Apply(ctx context.Context, changes types.Snapshot) error
	RecordSync(ctx context.Context, entry types.SyncLogEntry) error
	LastSyncTime(ctx context.Context, deviceID string) (int64, error)
	SyncLog(ctx context.Context, limit int) ([]types.SyncLogEntry, error)
	Close() error
}

func validate(changes types.Snapshot) error {
	for _, b := range changes.Books {
		if strings.TrimSpace(b.Key) == "" {
			return fmt.Errorf("book entry without key")
		}
		switch b.Membership {
		case "", types.MembershipInLibrary, types.MembershipRemoved:
		default:
			return fmt.Errorf("book %s: invalid membership %q", b.Key, b.Membership)
		}
	}
	for _, p := range changes.Progress {
		if strings.TrimSpace(p.BookKey) == "" {
			return fmt.Errorf("progress entry without book key")
		}
	}
	for _, c := range changes.Categories {
		if strings.TrimSpace(c.BookKey) == "" {
			return fmt.Errorf("category entry without book key")
		}
	}
	return nil
}

func sortSnapshot(s *types.Snapshot) {
	slices.SortFunc(s.Books, func(a, b types.BookEntry) int { return strings.Compare(a.Key, b.Key) })
	slices.SortFunc(s.Progress, func(a, b types.ProgressEntry) int { return strings.Compare(a.BookKey, b.BookKey) })
	slices.SortFunc(s.Categories, func(a, b types.CategoryEntry) int { return strings.Compare(a.BookKey, b.BookKey) })
}
