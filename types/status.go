package types

// SyncPhase tags the active SyncStatus variant.
type SyncPhase string

const (
	PhaseIdle            SyncPhase = "idle"
	PhaseDiscovering     SyncPhase = "discovering"
	PhaseSyncing         SyncPhase = "syncing"
	PhaseConflictPending SyncPhase = "conflict_pending"
	PhaseCompleted       SyncPhase = "completed"
	PhaseFailed          SyncPhase = "failed"
	PhaseCancelled       SyncPhase = "cancelled"
)

// SyncStatus is a closed set of variants; only this package can add one.
type SyncStatus interface {
	Phase() SyncPhase
	isSyncStatus()
}

type StatusIdle struct{}

type StatusDiscovering struct{}

type StatusSyncing struct {
	DeviceName  string  `json:"deviceName"`
	Progress    float64 `json:"progress"`
	CurrentItem string  `json:"currentItem"`
}

// StatusConflictPending waits for manual per-conflict choices.
type StatusConflictPending struct {
	DeviceName string         `json:"deviceName"`
	Conflicts  []DataConflict `json:"conflicts"`
}

type StatusCompleted struct {
	DeviceName  string `json:"deviceName"`
	ItemsSynced int    `json:"itemsSynced"`
	DurationMs  int64  `json:"durationMs"`
	// Unresolved lists conflicts the strategy could not decide; both sides kept their value.
	Unresolved []UnresolvedConflict `json:"unresolved,omitempty"`
}

type StatusFailed struct {
	DeviceName string     `json:"deviceName"`
	Error      *SyncError `json:"error"`
}

type StatusCancelled struct {
	DeviceName string `json:"deviceName"`
}

func (StatusIdle) Phase() SyncPhase            { return PhaseIdle }
func (StatusDiscovering) Phase() SyncPhase     { return PhaseDiscovering }
func (StatusSyncing) Phase() SyncPhase         { return PhaseSyncing }
func (StatusConflictPending) Phase() SyncPhase { return PhaseConflictPending }
func (StatusCompleted) Phase() SyncPhase       { return PhaseCompleted }
func (StatusFailed) Phase() SyncPhase          { return PhaseFailed }
func (StatusCancelled) Phase() SyncPhase       { return PhaseCancelled }

func (StatusIdle) isSyncStatus()            {}
func (StatusDiscovering) isSyncStatus()     {}
func (StatusSyncing) isSyncStatus()         {}
func (StatusConflictPending) isSyncStatus() {}
func (StatusCompleted) isSyncStatus()       {}
func (StatusFailed) isSyncStatus()          {}
func (StatusCancelled) isSyncStatus()       {}

// IsTerminal reports whether s ends a session.
func IsTerminal(s SyncStatus) bool {
	switch s.Phase() {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// IsBusy reports whether a session currently owns the status.
func IsBusy(s SyncStatus) bool {
	switch s.Phase() {
	case PhaseSyncing, PhaseConflictPending:
		return true
	}
	return false
}

// StatusView is the JSON shape of a SyncStatus for the control API and notifications.
type StatusView struct {
	Phase       SyncPhase            `json:"phase"`
	DeviceName  string               `json:"deviceName,omitempty"`
	Progress    float64              `json:"progress,omitempty"`
	CurrentItem string               `json:"currentItem,omitempty"`
	ItemsSynced int                  `json:"itemsSynced,omitempty"`
	DurationMs  int64                `json:"durationMs,omitempty"`
	Conflicts   []DataConflict       `json:"conflicts,omitempty"`
	Unresolved  []UnresolvedConflict `json:"unresolved,omitempty"`
	Error       *SyncError           `json:"error,omitempty"`
	Suggestion  string               `json:"suggestion,omitempty"`
	// Seq orders statuses; see status.Publisher.CurrentSeq.
	Seq uint64 `json:"seq,omitempty"`
}

// ViewOf flattens a SyncStatus.
func ViewOf(s SyncStatus) StatusView {
	switch v := s.(type) {
	case StatusIdle, StatusDiscovering:
		return StatusView{Phase: v.Phase()}
	case StatusSyncing:
		return StatusView{Phase: v.Phase(), DeviceName: v.DeviceName, Progress: v.Progress, CurrentItem: v.CurrentItem}
	case StatusConflictPending:
		return StatusView{Phase: v.Phase(), DeviceName: v.DeviceName, Conflicts: v.Conflicts}
	case StatusCompleted:
		return StatusView{Phase: v.Phase(), DeviceName: v.DeviceName, ItemsSynced: v.ItemsSynced, DurationMs: v.DurationMs, Progress: 1, Unresolved: v.Unresolved}
	case StatusFailed:
		view := StatusView{Phase: v.Phase(), DeviceName: v.DeviceName, Error: v.Error}
		if v.Error != nil {
			view.Suggestion = v.Error.Suggestion()
		}
		return view
	case StatusCancelled:
		return StatusView{Phase: v.Phase(), DeviceName: v.DeviceName}
	}
	return StatusView{Phase: PhaseIdle}
}
