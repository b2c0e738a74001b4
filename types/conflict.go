package types

import (
	"fmt"
	"strings"
)

// ConflictType names the syncable entity family a conflict belongs to.
type ConflictType string

const (
	ConflictReadingProgress    ConflictType = "READING_PROGRESS"
	ConflictLibraryMembership  ConflictType = "LIBRARY_MEMBERSHIP"
	ConflictCategoryAssignment ConflictType = "CATEGORY_ASSIGNMENT"
)

// Conflict fields inside the sync scope.
const (
	FieldMembership     = "membership"
	FieldCurrentChapter = "currentChapter"
	FieldPosition       = "position"
	FieldCategories     = "categories"
)

// DataConflict is a field-level divergence between local and remote state.
// It carries both values and both modification times so every strategy can be
// applied without going back to the network.
type DataConflict struct {
	ID             string       `json:"id"`
	ConflictType   ConflictType `json:"conflictType"`
	EntityKey      string       `json:"entityKey"`
	ConflictField  string       `json:"conflictField"`
	LocalData      string       `json:"localData"`
	RemoteData     string       `json:"remoteData"`
	LocalModified  int64        `json:"localModified,omitempty"`
	RemoteModified int64        `json:"remoteModified,omitempty"`
}

// UnresolvedConflict is a conflict a session could not decide. Both devices
// keep their own value for it.
type UnresolvedConflict struct {
	DataConflict
	Reason string `json:"reason"`
}

// ConflictResolutionStrategy is supplied at resolution time, never stored on a conflict.
type ConflictResolutionStrategy string

const (
	StrategyLocalWins  ConflictResolutionStrategy = "LOCAL_WINS"
	StrategyRemoteWins ConflictResolutionStrategy = "REMOTE_WINS"
	StrategyNewestWins ConflictResolutionStrategy = "NEWEST_WINS"
	StrategyManual     ConflictResolutionStrategy = "MANUAL"
)

// ParseStrategy accepts the enum names and a few lower-case aliases.
func ParseStrategy(s string) (ConflictResolutionStrategy, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "LOCAL_WINS", "LOCAL", "CLIENT":
		return StrategyLocalWins, nil
	case "REMOTE_WINS", "REMOTE", "SERVER":
		return StrategyRemoteWins, nil
	case "NEWEST_WINS", "NEWEST", "NEWER", "LATEST_TIMESTAMP":
		return StrategyNewestWins, nil
	case "MANUAL":
		return StrategyManual, nil
	}
	return "", fmt.Errorf("unknown conflict resolution strategy %q", s)
}

// ResolutionChoice is a manual decision for one conflict.
type ResolutionChoice string

const (
	ChooseLocal  ResolutionChoice = "local"
	ChooseRemote ResolutionChoice = "remote"
)

// Winning side of a reconciled value.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// ReconciledEntity is the post-resolution value of one conflicting field.
type ReconciledEntity struct {
	ConflictID   string       `json:"conflictId"`
	ConflictType ConflictType `json:"conflictType"`
	EntityKey    string       `json:"entityKey"`
	Field        string       `json:"field"`
	Value        string       `json:"value"`
	UpdatedAt    int64        `json:"updatedAt,omitempty"`
	Source       string       `json:"source"`
}
