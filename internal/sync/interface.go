package sync

import (
	"context"
	"time"

	"github.com/nvdmirror/nvdsync/internal/feed"
	"github.com/nvdmirror/nvdsync/internal/store"
)

// Store is the slice of the metadata store the controller needs.
// *store.Store implements it.
type Store interface {
	// ListContext returns shard names in the given state, sorted by name.
	ListContext(ctx context.Context, state store.State) ([]string, error)

	// GetLastModifiedContext returns the stored timestamp for a shard, or
	// an error matching store.ErrNotFound.
	GetLastModifiedContext(ctx context.Context, name string) (time.Time, error)

	// MarkStaleWithContext flags a shard STALE and advances its timestamp
	// to d.LastModified. Returns store.ErrStaleWrite if that would not
	// advance the stored value.
	MarkStaleWithContext(ctx context.Context, d *feed.Descriptor) error

	// MarkCurrentContext flags a shard CURRENT after a successful import.
	MarkCurrentContext(ctx context.Context, name string) error

	// TouchCheckedContext records an unchanged descriptor check.
	TouchCheckedContext(ctx context.Context, name string) error
}

// Fetcher downloads a URL. Errors are transport failures; the controller
// skips the shard and retries on the next run.
//
// *transport.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DescriptorWriter persists the raw descriptor for a shard, replacing any
// earlier one.
//
// *archive.Archive implements it.
type DescriptorWriter interface {
	WriteDescriptor(name string, raw []byte) error
}

// Importer consumes a downloaded payload. Returning nil means the shard's
// local data now matches the descriptor that marked it stale.
//
// *archive.Archive implements it.
type Importer interface {
	Import(ctx context.Context, name string, payload []byte) error
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(ctx context.Context, name string, payload []byte) error

// Import calls f(ctx, name, payload).
func (f ImporterFunc) Import(ctx context.Context, name string, payload []byte) error {
	return f(ctx, name, payload)
}
