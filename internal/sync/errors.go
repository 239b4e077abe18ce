package sync

import "errors"

var (
	// ErrStore marks a metadata store failure that is not scoped to one
	// shard. It aborts the run.
	ErrStore = errors.New("metadata store failure")

	// ErrImport marks an importer rejection. The shard stays STALE.
	ErrImport = errors.New("import failed")

	// ErrDescriptorWrite marks a failure to persist a descriptor. The
	// shard stays CURRENT and is checked again next run.
	ErrDescriptorWrite = errors.New("descriptor write failed")
)

// IsShardError reports whether err only affects a single shard, so the run
// continues with the next one.
func IsShardError(err error) bool {
	return err != nil && !errors.Is(err, ErrStore)
}
