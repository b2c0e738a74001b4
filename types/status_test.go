package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalAndBusy(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted{}))
	assert.True(t, IsTerminal(StatusFailed{}))
	assert.True(t, IsTerminal(StatusCancelled{}))
	assert.False(t, IsTerminal(StatusSyncing{}))
	assert.False(t, IsTerminal(StatusIdle{}))

	assert.True(t, IsBusy(StatusSyncing{}))
	assert.True(t, IsBusy(StatusConflictPending{}))
	assert.False(t, IsBusy(StatusDiscovering{}))
}

func TestViewOf(t *testing.T) {
	v := ViewOf(StatusFailed{DeviceName: "Pixel", Error: NetworkError("", nil)})
	assert.Equal(t, PhaseFailed, v.Phase)
	assert.Equal(t, "Pixel", v.DeviceName)
	assert.Equal(t, "Connection lost", v.Error.Message)
	assert.NotEmpty(t, v.Suggestion)

	v = ViewOf(StatusCompleted{DeviceName: "Pixel", ItemsSynced: 3, DurationMs: 40})
	assert.Equal(t, 1.0, v.Progress)
	assert.Equal(t, 3, v.ItemsSynced)

	assert.Equal(t, PhaseDiscovering, ViewOf(StatusDiscovering{}).Phase)
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]ConflictResolutionStrategy{
		"LOCAL_WINS":       StrategyLocalWins,
		"remote":           StrategyRemoteWins,
		"newest-wins":      StrategyNewestWins,
		"LATEST_TIMESTAMP": StrategyNewestWins,
		" manual ":         StrategyManual,
	} {
		got, err := ParseStrategy(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("coin_flip")
	assert.Error(t, err)
}

func TestSnapshotScopedAndClone(t *testing.T) {
	s := Snapshot{
		Books:      []BookEntry{{Key: "b1"}},
		Progress:   []ProgressEntry{{BookKey: "b1"}},
		Categories: []CategoryEntry{{BookKey: "b1", Categories: []string{"a"}}},
	}
	scoped := s.Scoped([]string{CapabilityProgress})
	assert.Empty(t, scoped.Books)
	assert.Len(t, scoped.Progress, 1)
	assert.Equal(t, 1, scoped.Len())

	c := s.Clone()
	c.Categories[0].Categories[0] = "changed"
	assert.Equal(t, "a", s.Categories[0].Categories[0])
	assert.True(t, Snapshot{}.IsEmpty())
}
