package conflict

import (
	"errors"
	"fmt"

	"github.com/moyoez/readersync/types"
)

// ErrManualResolution is returned by Resolve for the MANUAL strategy; use ResolveManual.
var ErrManualResolution = errors.New("conflict: manual resolution requires per-conflict choices")

// ConflictError reports a single conflict the strategy could not decide.
type ConflictError struct {
	ConflictID string
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict %s: %s", e.ConflictID, e.Reason)
}

// Resolver applies a resolution strategy to detected conflicts.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

// Resolve returns one reconciled entity per decided conflict. Undecidable
// conflicts are joined into the returned error; the decided ones are still returned.
func (r *Resolver) Resolve(conflicts []types.DataConflict, strategy types.ConflictResolutionStrategy) ([]types.ReconciledEntity, error) {
	if len(conflicts) == 0 {
		return []types.ReconciledEntity{}, nil
	}
	if strategy == types.StrategyManual {
		return nil, ErrManualResolution
	}
	out := make([]types.ReconciledEntity, 0, len(conflicts))
	var errs []error
	for _, c := range conflicts {
		var local bool
		switch strategy {
		case types.StrategyLocalWins:
			local = true
		case types.StrategyRemoteWins:
			local = false
		case types.StrategyNewestWins:
			if c.LocalModified == 0 || c.RemoteModified == 0 {
				errs = append(errs, &ConflictError{ConflictID: c.ID, Reason: "missing modification time"})
				continue
			}
			// ties keep the local value
			local = c.LocalModified >= c.RemoteModified
		default:
			return nil, fmt.Errorf("unsupported strategy %q", strategy)
		}
		out = append(out, reconcile(c, local))
	}
	return out, errors.Join(errs...)
}

// ResolveManual applies an explicit choice per conflict id.
func (r *Resolver) ResolveManual(conflicts []types.DataConflict, choices map[string]types.ResolutionChoice) ([]types.ReconciledEntity, error) {
	out := make([]types.ReconciledEntity, 0, len(conflicts))
	var errs []error
	for _, c := range conflicts {
		switch choices[c.ID] {
		case types.ChooseLocal:
			out = append(out, reconcile(c, true))
		case types.ChooseRemote:
			out = append(out, reconcile(c, false))
		case "":
			errs = append(errs, &ConflictError{ConflictID: c.ID, Reason: "no choice submitted"})
		default:
			errs = append(errs, &ConflictError{ConflictID: c.ID, Reason: fmt.Sprintf("invalid choice %q", choices[c.ID])})
		}
	}
	return out, errors.Join(errs...)
}

// Unresolved lists the conflicts missing from resolved, with the reason taken
// from the matching *ConflictError in err.
func Unresolved(conflicts []types.DataConflict, resolved []types.ReconciledEntity, err error) []types.UnresolvedConflict {
	decided := make(map[string]bool, len(resolved))
	for _, e := range resolved {
		decided[e.ConflictID] = true
	}
	reasons := map[string]string{}
	for _, e := range flatten(err) {
		var ce *ConflictError
		if errors.As(e, &ce) {
			reasons[ce.ConflictID] = ce.Reason
		}
	}
	var out []types.UnresolvedConflict
	for _, c := range conflicts {
		if decided[c.ID] {
			continue
		}
		reason, ok := reasons[c.ID]
		if !ok {
			reason = "not decided"
		}
		out = append(out, types.UnresolvedConflict{DataConflict: c, Reason: reason})
	}
	return out
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func reconcile(c types.DataConflict, local bool) types.ReconciledEntity {
	e := types.ReconciledEntity{
		ConflictID:   c.ID,
		ConflictType: c.ConflictType,
		EntityKey:    c.EntityKey,
		Field:        c.ConflictField,
	}
	if local {
		e.Value, e.UpdatedAt, e.Source = c.LocalData, c.LocalModified, types.SourceLocal
	} else {
		e.Value, e.UpdatedAt, e.Source = c.RemoteData, c.RemoteModified, types.SourceRemote
	}
	return e
}
