package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/nvdmirror/nvdsync/internal/feed"
)

// State is the sync state of a shard record.
type State int

const (
	// Current means the local payload matches LastModified.
	Current State = 0
	// Stale means a newer LastModified has been observed but the payload
	// has not been re-imported yet.
	Stale State = 1
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Current:
		return "current"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState parses "current" or "stale" (case insensitive).
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "current":
		return Current, nil
	case "stale":
		return Stale, nil
	default:
		return 0, fmt.Errorf("invalid state %q (valid: current, stale)", s)
	}
}

// Shard is one row of the shards table.
type Shard struct {
	Name         string
	LastModified time.Time

	// Opaque descriptor fields, copied verbatim.
	FileSize string
	ZipSize  string
	GzSize   string
	SHA256   string

	State State

	CheckedAt  *time.Time
	ImportedAt *time.Time
}

// Validate checks that the record can be inserted.
func (s *Shard) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.LastModified.IsZero() {
		return fmt.Errorf("last_modified is required")
	}
	if s.State != Current && s.State != Stale {
		return fmt.Errorf("invalid state %d", int(s.State))
	}
	return nil
}

// FromDescriptor builds a CURRENT record from a descriptor.
func FromDescriptor(d *feed.Descriptor) *Shard {
	return &Shard{
		Name:         d.Name,
		LastModified: d.LastModified,
		FileSize:     d.Size,
		ZipSize:      d.ZipSize,
		GzSize:       d.GzSize,
		SHA256:       d.SHA256,
		State:        Current,
	}
}
