// Package conflict detects, resolves and merges divergent sync state.
package conflict

import (
	"slices"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/moyoez/readersync/types"
)

var conflictNamespace = uuid.MustParse("9b3c6f1e-2d4a-4c55-9e0a-5f3f0b6c7d21")

// conflictID is stable for a (type, entity, field) triple so repeated diffs name the same conflict.
func conflictID(t types.ConflictType, key, field string) string {
	return uuid.NewSHA1(conflictNamespace, []byte(string(t)+"\x00"+key+"\x00"+field)).String()
}

// Detect lists every field that both sides hold with different non-default values.
// One-sided entities and one-sided fields are not conflicts. The result is sorted
// by type, entity key and field.
func Detect(local, remote types.Snapshot, scope []string) []types.DataConflict {
	var out []types.DataConflict
	add := func(t types.ConflictType, key, field, l, r string, lm, rm int64) {
		if l == "" || r == "" || l == r {
			return
		}
		out = append(out, types.DataConflict{
			ID:             conflictID(t, key, field),
			ConflictType:   t,
			EntityKey:      key,
			ConflictField:  field,
			LocalData:      l,
			RemoteData:     r,
			LocalModified:  lm,
			RemoteModified: rm,
		})
	}

	if slices.Contains(scope, types.CapabilityLibrary) {
		remoteBooks := indexBooks(remote.Books)
		for _, l := range local.Books {
			if r, ok := remoteBooks[l.Key]; ok {
				add(types.ConflictLibraryMembership, l.Key, types.FieldMembership, l.Membership, r.Membership, l.UpdatedAt, r.UpdatedAt)
			}
		}
	}
	if slices.Contains(scope, types.CapabilityProgress) {
		remoteProgress := indexProgress(remote.Progress)
		for _, l := range local.Progress {
			if r, ok := remoteProgress[l.BookKey]; ok {
				add(types.ConflictReadingProgress, l.BookKey, types.FieldCurrentChapter, l.CurrentChapter, r.CurrentChapter, l.UpdatedAt, r.UpdatedAt)
				add(types.ConflictReadingProgress, l.BookKey, types.FieldPosition, formatPosition(l.Position), formatPosition(r.Position), l.UpdatedAt, r.UpdatedAt)
			}
		}
	}
	if slices.Contains(scope, types.CapabilityCategories) {
		remoteCats := indexCategories(remote.Categories)
		for _, l := range local.Categories {
			if r, ok := remoteCats[l.BookKey]; ok {
				add(types.ConflictCategoryAssignment, l.BookKey, types.FieldCategories, formatCategories(l.Categories), formatCategories(r.Categories), l.UpdatedAt, r.UpdatedAt)
			}
		}
	}

	slices.SortFunc(out, func(a, b types.DataConflict) int {
		if c := strings.Compare(string(a.ConflictType), string(b.ConflictType)); c != 0 {
			return c
		}
		if c := strings.Compare(a.EntityKey, b.EntityKey); c != 0 {
			return c
		}
		return strings.Compare(a.ConflictField, b.ConflictField)
	})
	return out
}

// formatPosition renders the zero position as "" so it counts as unset.
func formatPosition(p float64) string {
	if p == 0 {
		return ""
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func parsePosition(s string) float64 {
	if s == "" {
		return 0
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return p
}

// formatCategories is order-insensitive: ["b","a"] and ["a","b"] render the same.
func formatCategories(cats []string) string {
	if len(cats) == 0 {
		return ""
	}
	sorted := slices.Clone(cats)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	s, err := sonic.MarshalString(sorted)
	if err != nil {
		return strings.Join(sorted, ",")
	}
	return s
}

func parseCategories(s string) []string {
	if s == "" {
		return nil
	}
	var cats []string
	if err := sonic.UnmarshalString(s, &cats); err != nil {
		return strings.Split(s, ",")
	}
	return cats
}

func indexBooks(in []types.BookEntry) map[string]types.BookEntry {
	m := make(map[string]types.BookEntry, len(in))
	for _, b := range in {
		m[b.Key] = b
	}
	return m
}

func indexProgress(in []types.ProgressEntry) map[string]types.ProgressEntry {
	m := make(map[string]types.ProgressEntry, len(in))
	for _, p := range in {
		m[p.BookKey] = p
	}
	return m
}

func indexCategories(in []types.CategoryEntry) map[string]types.CategoryEntry {
	m := make(map[string]types.CategoryEntry, len(in))
	for _, c := range in {
		m[c.BookKey] = c
	}
	return m
}
