package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/readersync/types"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "sync.db"), "dev-a")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Store{
		"memory": NewMemory("dev-a"),
		"sqlite": db,
	}
}

func sample() types.Snapshot {
	return types.Snapshot{
		Books: []types.BookEntry{
			{Key: "b2", Title: "Dune", Author: "Herbert", Membership: types.MembershipInLibrary, UpdatedAt: 20},
			{Key: "b1", Title: "Emma", Author: "Austen", Membership: types.MembershipRemoved, UpdatedAt: 10},
		},
		Progress: []types.ProgressEntry{
			{BookKey: "b2", CurrentChapter: "ch-3", Position: 0.42, UpdatedAt: 21},
		},
		Categories: []types.CategoryEntry{
			{BookKey: "b2", Categories: []string{"scifi", "classic"}, UpdatedAt: 22},
		},
	}
}

func TestApplyAndSnapshot(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Apply(ctx, sample()))

			snap, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, "dev-a", snap.DeviceID)
			require.Len(t, snap.Books, 2)
			assert.Equal(t, "b1", snap.Books[0].Key)
			assert.Equal(t, types.MembershipRemoved, snap.Books[0].Membership)
			require.Len(t, snap.Progress, 1)
			assert.InDelta(t, 0.42, snap.Progress[0].Position, 1e-9)
			require.Len(t, snap.Categories, 1)
			assert.Equal(t, []string{"scifi", "classic"}, snap.Categories[0].Categories)

			update := types.Snapshot{Progress: []types.ProgressEntry{{BookKey: "b2", CurrentChapter: "ch-4", Position: 0.5, UpdatedAt: 30}}}
			require.NoError(t, s.Apply(ctx, update))
			snap, err = s.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, "ch-4", snap.Progress[0].CurrentChapter)
			assert.Len(t, snap.Books, 2)
		})
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Apply(ctx, sample()))
			before, err := s.Snapshot(ctx)
			require.NoError(t, err)

			bad := types.Snapshot{
				Books:    []types.BookEntry{{Key: "b3", Title: "New", Membership: types.MembershipInLibrary, UpdatedAt: 1}},
				Progress: []types.ProgressEntry{{BookKey: "", CurrentChapter: "x"}},
			}
			err = s.Apply(ctx, bad)
			require.Error(t, err)
			assert.ErrorIs(t, err, &types.SyncError{Kind: types.ErrKindStorageFailed})

			after, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestSyncHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LastSyncTime(ctx, "dev-b")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.RecordSync(ctx, types.SyncLogEntry{
				SyncID: "s1", DeviceID: "dev-b", DeviceName: "Pixel", Status: types.PhaseCompleted,
				ItemsSynced: 4, DurationMs: 120, Timestamp: 1000,
			}))
			require.NoError(t, s.RecordSync(ctx, types.SyncLogEntry{
				SyncID: "s2", DeviceID: "dev-b", DeviceName: "Pixel", Status: types.PhaseFailed,
				Error: "Connection lost", Timestamp: 2000,
			}))

			ts, err := s.LastSyncTime(ctx, "dev-b")
			require.NoError(t, err)
			assert.Equal(t, int64(1000), ts)

			log, err := s.SyncLog(ctx, 10)
			require.NoError(t, err)
			require.Len(t, log, 2)
			assert.Equal(t, "s2", log[0].SyncID)
			assert.Equal(t, types.PhaseFailed, log[0].Status)

			log, err = s.SyncLog(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, log, 1)
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sync.db")

	db, err := OpenSQLite(path, "dev-a")
	require.NoError(t, err)
	require.NoError(t, db.Apply(ctx, sample()))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path, "dev-a")
	require.NoError(t, err)
	defer db.Close()
	snap, err := db.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Len())
}

func TestImportLibrary(t *testing.T) {
	const doc = `
books:
  - key: b1
    title: Emma
    author: Austen
progress:
  - bookKey: b1
    currentChapter: ch-2
    position: 0.1
    updatedAt: 5
`
	now := time.UnixMilli(9000)
	s := NewMemory("dev-a")
	n, err := ImportLibrary(context.Background(), s, strings.NewReader(doc), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.MembershipInLibrary, snap.Books[0].Membership)
	assert.Equal(t, int64(9000), snap.Books[0].UpdatedAt)
	assert.Equal(t, int64(5), snap.Progress[0].UpdatedAt)
}

func TestImportLibraryRejectsMissingKey(t *testing.T) {
	_, err := ReadLibraryYAML(strings.NewReader("books:\n  - title: Nameless\n"), time.Now())
	assert.Error(t, err)
}
