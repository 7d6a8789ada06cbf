package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source connects to an LMS and hands back a Client.
// Implementations live in etl/sources/, one file per source type.
//
// Pattern: Airbyte connector protocol (spec → connect → read).

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "number" | "password" | "duration" | "dir"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type: its label and config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every LMS source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Connect validates cfg and returns a client bound to it.
	Connect(ctx context.Context, cfg SourceConfig) (Client, error)
}

// Client reads course data from an LMS.
// Lists are fully paginated before they are returned.
type Client interface {
	Course(ctx context.Context, courseID string) (Record, error)
	// Modules lists a course's modules with their items. A non-empty studentID
	// returns the modules as seen by that student (state and completion).
	Modules(ctx context.Context, courseID, studentID string) ([]Record, error)
	Students(ctx context.Context, courseID string) ([]Record, error)
	Enrollments(ctx context.Context, courseID string) ([]Record, error)
}

var (
	// ErrInvalidAccessToken means the credentials are rejected outright.
	// It aborts a whole run rather than a single course.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrUnauthorized means the user may not read the requested course.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the course (or a sub-resource) does not exist.
	ErrNotFound = errors.New("not found")
)

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}
