package conflict

import (
	"slices"

	"github.com/moyoez/readersync/types"
)

// Plan holds what a session writes on each side.
type Plan struct {
	LocalChanges  types.Snapshot
	RemoteChanges types.Snapshot
}

// ItemCount is the number of entities the plan writes on both sides.
func (p Plan) ItemCount() int {
	return p.LocalChanges.Len() + p.RemoteChanges.Len()
}

func (p Plan) IsEmpty() bool { return p.ItemCount() == 0 }

type fieldKey struct {
	t     types.ConflictType
	key   string
	field string
}

type merger struct {
	resolved map[fieldKey]string
}

// pick returns the value each side should end up with. Conflicts without a
// resolution keep each side's own value.
func (m merger) pick(t types.ConflictType, key, field, l, r string) (string, string) {
	switch {
	case l == r:
		return l, l
	case l == "":
		return r, r
	case r == "":
		return l, l
	}
	if v, ok := m.resolved[fieldKey{t, key, field}]; ok {
		return v, v
	}
	return l, r
}

// Merge builds the change sets for both sides from the two snapshots and the
// resolved conflicts. Entities known to one side only are copied to the other.
func Merge(local, remote types.Snapshot, resolved []types.ReconciledEntity, scope []string) Plan {
	m := merger{resolved: make(map[fieldKey]string, len(resolved))}
	for _, r := range resolved {
		m.resolved[fieldKey{r.ConflictType, r.EntityKey, r.Field}] = r.Value
	}
	plan := Plan{
		LocalChanges:  types.Snapshot{DeviceID: local.DeviceID},
		RemoteChanges: types.Snapshot{DeviceID: remote.DeviceID},
	}
	if slices.Contains(scope, types.CapabilityLibrary) {
		m.mergeBooks(&plan, local.Books, remote.Books)
	}
	if slices.Contains(scope, types.CapabilityProgress) {
		m.mergeProgress(&plan, local.Progress, remote.Progress)
	}
	if slices.Contains(scope, types.CapabilityCategories) {
		m.mergeCategories(&plan, local.Categories, remote.Categories)
	}
	return plan
}

func (m merger) mergeBooks(plan *Plan, local, remote []types.BookEntry) {
	li, ri := indexBooks(local), indexBooks(remote)
	for _, key := range unionKeys(li, ri) {
		l, lok := li[key]
		r, rok := ri[key]
		switch {
		case !rok:
			plan.RemoteChanges.Books = append(plan.RemoteChanges.Books, l)
			continue
		case !lok:
			plan.LocalChanges.Books = append(plan.LocalChanges.Books, r)
			continue
		}
		newer := max(l.UpdatedAt, r.UpdatedAt)
		lNewer := l.UpdatedAt >= r.UpdatedAt
		title := newerNonEmpty(l.Title, r.Title, lNewer)
		author := newerNonEmpty(l.Author, r.Author, lNewer)
		ml, mr := m.pick(types.ConflictLibraryMembership, key, types.FieldMembership, l.Membership, r.Membership)

		nl := types.BookEntry{Key: key, Title: title, Author: author, Membership: ml, UpdatedAt: l.UpdatedAt}
		if nl != l {
			nl.UpdatedAt = newer
			plan.LocalChanges.Books = append(plan.LocalChanges.Books, nl)
		}
		nr := types.BookEntry{Key: key, Title: title, Author: author, Membership: mr, UpdatedAt: r.UpdatedAt}
		if nr != r {
			nr.UpdatedAt = newer
			plan.RemoteChanges.Books = append(plan.RemoteChanges.Books, nr)
		}
	}
}

func (m merger) mergeProgress(plan *Plan, local, remote []types.ProgressEntry) {
	li, ri := indexProgress(local), indexProgress(remote)
	for _, key := range unionKeys(li, ri) {
		l, lok := li[key]
		r, rok := ri[key]
		switch {
		case !rok:
			plan.RemoteChanges.Progress = append(plan.RemoteChanges.Progress, l)
			continue
		case !lok:
			plan.LocalChanges.Progress = append(plan.LocalChanges.Progress, r)
			continue
		}
		newer := max(l.UpdatedAt, r.UpdatedAt)
		cl, cr := m.pick(types.ConflictReadingProgress, key, types.FieldCurrentChapter, l.CurrentChapter, r.CurrentChapter)
		pl, pr := m.pick(types.ConflictReadingProgress, key, types.FieldPosition, formatPosition(l.Position), formatPosition(r.Position))

		nl := types.ProgressEntry{BookKey: key, CurrentChapter: cl, Position: parsePosition(pl), UpdatedAt: l.UpdatedAt}
		if nl != l {
			nl.UpdatedAt = newer
			plan.LocalChanges.Progress = append(plan.LocalChanges.Progress, nl)
		}
		nr := types.ProgressEntry{BookKey: key, CurrentChapter: cr, Position: parsePosition(pr), UpdatedAt: r.UpdatedAt}
		if nr != r {
			nr.UpdatedAt = newer
			plan.RemoteChanges.Progress = append(plan.RemoteChanges.Progress, nr)
		}
	}
}

func (m merger) mergeCategories(plan *Plan, local, remote []types.CategoryEntry) {
	li, ri := indexCategories(local), indexCategories(remote)
	for _, key := range unionKeys(li, ri) {
		l, lok := li[key]
		r, rok := ri[key]
		switch {
		case !rok:
			l.Categories = slices.Clone(l.Categories)
			plan.RemoteChanges.Categories = append(plan.RemoteChanges.Categories, l)
			continue
		case !lok:
			r.Categories = slices.Clone(r.Categories)
			plan.LocalChanges.Categories = append(plan.LocalChanges.Categories, r)
			continue
		}
		newer := max(l.UpdatedAt, r.UpdatedAt)
		lv, rv := formatCategories(l.Categories), formatCategories(r.Categories)
		cl, cr := m.pick(types.ConflictCategoryAssignment, key, types.FieldCategories, lv, rv)
		if cl != lv {
			plan.LocalChanges.Categories = append(plan.LocalChanges.Categories,
				types.CategoryEntry{BookKey: key, Categories: parseCategories(cl), UpdatedAt: newer})
		}
		if cr != rv {
			plan.RemoteChanges.Categories = append(plan.RemoteChanges.Categories,
				types.CategoryEntry{BookKey: key, Categories: parseCategories(cr), UpdatedAt: newer})
		}
	}
}

func newerNonEmpty(l, r string, lNewer bool) string {
	switch {
	case l == "":
		return r
	case r == "":
		return l
	case lNewer:
		return l
	}
	return r
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
