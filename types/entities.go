package types

import "slices"

// Capabilities a node can sync; each maps to one entity family of Snapshot.
const (
	CapabilityLibrary    = "library"
	CapabilityProgress   = "progress"
	CapabilityCategories = "categories"
)

// AllCapabilities is the full sync scope.
var AllCapabilities = []string{CapabilityLibrary, CapabilityProgress, CapabilityCategories}

// Library membership states. The empty string means the device never touched it.
const (
	MembershipInLibrary = "in_library"
	MembershipRemoved   = "removed"
)

// Snapshot is the syncable state of one device, keyed by stable identifiers.
type Snapshot struct {
	DeviceID   string          `json:"deviceId" yaml:"deviceId,omitempty"`
	TakenAt    int64           `json:"takenAt" yaml:"takenAt,omitempty"`
	Books      []BookEntry     `json:"books" yaml:"books"`
	Progress   []ProgressEntry `json:"progress" yaml:"progress"`
	Categories []CategoryEntry `json:"categories" yaml:"categories"`
}

type BookEntry struct {
	Key        string `json:"key" yaml:"key"`
	Title      string `json:"title,omitempty" yaml:"title"`
	Author     string `json:"author,omitempty" yaml:"author"`
	Membership string `json:"membership,omitempty" yaml:"membership"`
	UpdatedAt  int64  `json:"updatedAt" yaml:"updatedAt"`
}

type ProgressEntry struct {
	BookKey        string  `json:"bookKey" yaml:"bookKey"`
	CurrentChapter string  `json:"currentChapter,omitempty" yaml:"currentChapter"`
	Position       float64 `json:"position,omitempty" yaml:"position"`
	UpdatedAt      int64   `json:"updatedAt" yaml:"updatedAt"`
}

type CategoryEntry struct {
	BookKey    string   `json:"bookKey" yaml:"bookKey"`
	Categories []string `json:"categories,omitempty" yaml:"categories"`
	UpdatedAt  int64    `json:"updatedAt" yaml:"updatedAt"`
}

// Len counts all entities.
func (s Snapshot) Len() int {
	return len(s.Books) + len(s.Progress) + len(s.Categories)
}

// IsEmpty reports whether the snapshot has no entities.
func (s Snapshot) IsEmpty() bool { return s.Len() == 0 }

// Scoped drops the entity families outside scope.
func (s Snapshot) Scoped(scope []string) Snapshot {
	out := Snapshot{DeviceID: s.DeviceID, TakenAt: s.TakenAt}
	if slices.Contains(scope, CapabilityLibrary) {
		out.Books = s.Books
	}
	if slices.Contains(scope, CapabilityProgress) {
		out.Progress = s.Progress
	}
	if slices.Contains(scope, CapabilityCategories) {
		out.Categories = s.Categories
	}
	return out
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		DeviceID:   s.DeviceID,
		TakenAt:    s.TakenAt,
		Books:      slices.Clone(s.Books),
		Progress:   slices.Clone(s.Progress),
		Categories: make([]CategoryEntry, len(s.Categories)),
	}
	for i, c := range s.Categories {
		c.Categories = slices.Clone(c.Categories)
		out.Categories[i] = c
	}
	if s.Categories == nil {
		out.Categories = nil
	}
	return out
}
