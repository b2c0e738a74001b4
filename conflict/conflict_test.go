package conflict

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/readersync/types"
)

func snapshots() (types.Snapshot, types.Snapshot) {
	local := types.Snapshot{
		DeviceID: "local",
		Books: []types.BookEntry{
			{Key: "b1", Title: "Emma", Membership: types.MembershipInLibrary, UpdatedAt: 100},
			{Key: "b2", Title: "Dune", Membership: types.MembershipInLibrary, UpdatedAt: 100},
			{Key: "only-local", Title: "Local", Membership: types.MembershipInLibrary, UpdatedAt: 50},
		},
		Progress: []types.ProgressEntry{
			{BookKey: "b1", CurrentChapter: "ch-2", Position: 0.3, UpdatedAt: 200},
		},
		Categories: []types.CategoryEntry{
			{BookKey: "b1", Categories: []string{"classic", "romance"}, UpdatedAt: 10},
		},
	}
	remote := types.Snapshot{
		DeviceID: "remote",
		Books: []types.BookEntry{
			{Key: "b1", Title: "Emma", Membership: types.MembershipRemoved, UpdatedAt: 300},
			{Key: "b2", Title: "Dune", Membership: types.MembershipInLibrary, UpdatedAt: 100},
			{Key: "only-remote", Title: "Remote", Membership: types.MembershipInLibrary, UpdatedAt: 60},
		},
		Progress: []types.ProgressEntry{
			{BookKey: "b1", CurrentChapter: "ch-5", Position: 0.3, UpdatedAt: 150},
		},
		Categories: []types.CategoryEntry{
			{BookKey: "b1", Categories: []string{"romance", "classic"}, UpdatedAt: 20},
		},
	}
	return local, remote
}

func TestDetect(t *testing.T) {
	local, remote := snapshots()
	got := Detect(local, remote, types.AllCapabilities)
	require.Len(t, got, 2)

	assert.Equal(t, types.ConflictLibraryMembership, got[0].ConflictType)
	assert.Equal(t, "b1", got[0].EntityKey)
	assert.Equal(t, types.MembershipInLibrary, got[0].LocalData)
	assert.Equal(t, types.MembershipRemoved, got[0].RemoteData)
	assert.Equal(t, int64(100), got[0].LocalModified)
	assert.Equal(t, int64(300), got[0].RemoteModified)

	assert.Equal(t, types.ConflictReadingProgress, got[1].ConflictType)
	assert.Equal(t, types.FieldCurrentChapter, got[1].ConflictField)

	again := Detect(local, remote, types.AllCapabilities)
	assert.Equal(t, got, again)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestDetectIgnoresOneSidedAndOutOfScope(t *testing.T) {
	local := types.Snapshot{Progress: []types.ProgressEntry{{BookKey: "b1", CurrentChapter: "ch-1", UpdatedAt: 1}}}
	remote := types.Snapshot{Progress: []types.ProgressEntry{{BookKey: "b1", Position: 0.8, UpdatedAt: 2}}}
	assert.Empty(t, Detect(local, remote, types.AllCapabilities))

	l, r := snapshots()
	assert.Empty(t, Detect(l, r, []string{types.CapabilityCategories}))
	assert.Empty(t, Detect(types.Snapshot{}, types.Snapshot{}, types.AllCapabilities))
}

func TestResolveStrategies(t *testing.T) {
	local, remote := snapshots()
	conflicts := Detect(local, remote, types.AllCapabilities)
	r := NewResolver()

	got, err := r.Resolve(conflicts, types.StrategyLocalWins)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, types.SourceLocal, e.Source)
	}

	got, err = r.Resolve(conflicts, types.StrategyRemoteWins)
	require.NoError(t, err)
	assert.Equal(t, types.MembershipRemoved, got[0].Value)

	got, err = r.Resolve(conflicts, types.StrategyNewestWins)
	require.NoError(t, err)
	assert.Equal(t, types.SourceRemote, got[0].Source, "remote membership is newer")
	assert.Equal(t, types.SourceLocal, got[1].Source, "local progress is newer")
	assert.Equal(t, "ch-2", got[1].Value)
}

func TestResolveNewestWinsTieAndMissingTimestamp(t *testing.T) {
	tie := types.DataConflict{ID: "tie", LocalData: "a", RemoteData: "b", LocalModified: 5, RemoteModified: 5}
	missing := types.DataConflict{ID: "missing", LocalData: "a", RemoteData: "b", LocalModified: 5}

	got, err := NewResolver().Resolve([]types.DataConflict{tie, missing}, types.StrategyNewestWins)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Value)

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "missing", ce.ConflictID)
}

func TestResolveEmptyAndManual(t *testing.T) {
	r := NewResolver()
	got, err := r.Resolve(nil, types.StrategyManual)
	assert.NoError(t, err)
	assert.Empty(t, got)

	c := []types.DataConflict{{ID: "c1", LocalData: "a", RemoteData: "b"}, {ID: "c2", LocalData: "x", RemoteData: "y"}}
	_, err = r.Resolve(c, types.StrategyManual)
	assert.ErrorIs(t, err, ErrManualResolution)

	got, err = r.ResolveManual(c, map[string]types.ResolutionChoice{"c1": types.ChooseRemote})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Value)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "c2", ce.ConflictID)
}

func TestUnresolvedCarriesReasons(t *testing.T) {
	c := []types.DataConflict{
		{ID: "c1", LocalData: "a", RemoteData: "b"},
		{ID: "c2", LocalData: "x", RemoteData: "y"},
		{ID: "c3", LocalData: "p", RemoteData: "q"},
	}
	got, err := NewResolver().ResolveManual(c, map[string]types.ResolutionChoice{"c1": types.ChooseLocal, "c3": "both"})

	left := Unresolved(c, got, err)
	require.Len(t, left, 2)
	assert.Equal(t, "c2", left[0].ID)
	assert.Equal(t, "no choice submitted", left[0].Reason)
	assert.Equal(t, "c3", left[1].ID)
	assert.Equal(t, `invalid choice "both"`, left[1].Reason)

	assert.Empty(t, Unresolved(c[:1], got, nil))
}

func TestMergeNewestWins(t *testing.T) {
	local, remote := snapshots()
	conflicts := Detect(local, remote, types.AllCapabilities)
	resolved, err := NewResolver().Resolve(conflicts, types.StrategyNewestWins)
	require.NoError(t, err)

	plan := Merge(local, remote, resolved, types.AllCapabilities)

	// local: b1 becomes removed, only-remote is copied in
	require.Len(t, plan.LocalChanges.Books, 2)
	assert.Equal(t, "b1", plan.LocalChanges.Books[0].Key)
	assert.Equal(t, types.MembershipRemoved, plan.LocalChanges.Books[0].Membership)
	assert.Equal(t, "only-remote", plan.LocalChanges.Books[1].Key)
	assert.Empty(t, plan.LocalChanges.Progress)

	// remote: only-local is copied out, progress takes the local chapter
	require.Len(t, plan.RemoteChanges.Books, 1)
	assert.Equal(t, "only-local", plan.RemoteChanges.Books[0].Key)
	require.Len(t, plan.RemoteChanges.Progress, 1)
	assert.Equal(t, "ch-2", plan.RemoteChanges.Progress[0].CurrentChapter)
	assert.Equal(t, int64(200), plan.RemoteChanges.Progress[0].UpdatedAt)

	// category order differences are not changes
	assert.Empty(t, plan.LocalChanges.Categories)
	assert.Empty(t, plan.RemoteChanges.Categories)
	assert.Equal(t, 4, plan.ItemCount())
}

func TestMergeUnresolvedKeepsEachSide(t *testing.T) {
	local, remote := snapshots()
	plan := Merge(local, remote, nil, []string{types.CapabilityProgress})
	assert.True(t, plan.IsEmpty())
}

func TestMergeFillsOneSidedFields(t *testing.T) {
	local := types.Snapshot{Progress: []types.ProgressEntry{{BookKey: "b1", CurrentChapter: "ch-1", UpdatedAt: 1}}}
	remote := types.Snapshot{Progress: []types.ProgressEntry{{BookKey: "b1", Position: 0.8, UpdatedAt: 2}}}
	plan := Merge(local, remote, nil, types.AllCapabilities)

	want := types.ProgressEntry{BookKey: "b1", CurrentChapter: "ch-1", Position: 0.8, UpdatedAt: 2}
	assert.Equal(t, []types.ProgressEntry{want}, plan.LocalChanges.Progress)
	assert.Equal(t, []types.ProgressEntry{want}, plan.RemoteChanges.Progress)
}
