package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/readersync/types"
)

// ReadLibraryYAML decodes a library file into a change set. Entries without
// a timestamp are stamped with now so they take part in newest-wins resolution.
func ReadLibraryYAML(r io.Reader, now time.Time) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil && err != io.EOF {
		return snap, fmt.Errorf("decode library: %w", err)
	}
	ms := now.UnixMilli()
	for i := range snap.Books {
		if snap.Books[i].Membership == "" {
			snap.Books[i].Membership = types.MembershipInLibrary
		}
		if snap.Books[i].UpdatedAt == 0 {
			snap.Books[i].UpdatedAt = ms
		}
	}
	for i := range snap.Progress {
		if snap.Progress[i].UpdatedAt == 0 {
			snap.Progress[i].UpdatedAt = ms
		}
	}
	for i := range snap.Categories {
		if snap.Categories[i].UpdatedAt == 0 {
			snap.Categories[i].UpdatedAt = ms
		}
	}
	if err := validate(snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// ImportLibrary reads a YAML library file and applies it to s. It returns the number of entities written.
func ImportLibrary(ctx context.Context, s Store, r io.Reader, now time.Time) (int, error) {
	snap, err := ReadLibraryYAML(r, now)
	if err != nil {
		return 0, err
	}
	if err := s.Apply(ctx, snap); err != nil {
		return 0, err
	}
	return snap.Len(), nil
}
