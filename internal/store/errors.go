package store

import "errors"

// Errors returned by Store operations. Check them with errors.Is:
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // unknown shard name
//	}
var (
	// ErrNotFound is returned when an operation names a shard that has no
	// record. Records are only created by seeding, so this indicates a
	// programming or data error rather than a remote condition.
	ErrNotFound = errors.New("shard not found")

	// ErrStaleWrite is returned by MarkStale when the new timestamp is not
	// strictly newer than the stored one. The record is left unchanged.
	ErrStaleWrite = errors.New("last_modified would not advance")
)

// IsShardError reports whether err is scoped to a single record (unknown
// shard, rejected write) as opposed to a failure of the database itself.
func IsShardError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleWrite)
}
