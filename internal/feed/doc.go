// Package feed models the NVD JSON feed layout: shard descriptors, the
// timestamps they carry, and the staleness rule that drives incremental sync.
//
// # Descriptors
//
// Every importable shard (for example nvdcve-1.1-2023) is published as two
// files under the feed base URL:
//
//	{base}/{name}.meta      small descriptor, fetched on every check
//	{base}/{name}.json.gz   full payload, fetched only when stale
//
// A descriptor is a handful of key:value lines:
//
//	lastModifiedDate:2023-08-04T03:01:58-04:00
//	size:107434436
//	zipSize:5451290
//	gzSize:5451154
//	sha256:2B4D27AB9C6A1F0E...
//
// Values may themselves contain colons, so each line is split on the first
// colon only. ParseDescriptor decodes the text once into a Descriptor.
//
// # Timestamps
//
// ParseTimestamp is the only place timestamp strings are turned into
// time.Time values. It accepts the descriptor layout and the older stored
// layout that uses a space instead of "T", and rejects strings that carry no
// zone offset with ErrClockSkew.
//
// # Staleness
//
// IsStale reports whether a remote timestamp is strictly newer than the
// stored one:
//
//	stale, err := feed.IsStale(desc.LastModified, stored)
//	if errors.Is(err, feed.ErrClockSkew) {
//	    // skip this shard for this run
//	}
package feed
