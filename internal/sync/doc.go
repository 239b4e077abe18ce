// Package sync provides the incremental synchronization controller that
// mirrors feed shards into local storage.
//
// # Overview
//
// Each shard record in the metadata store is either CURRENT or STALE. A run
// has two phases:
//
//	Detect (CURRENT shards)            Fetch (STALE shards)
//	     fetch {name}.meta                  fetch {name}.json.gz
//	            ↓                                  ↓
//	  remote ts > stored ts?                  Importer.Import
//	            ↓ yes                              ↓ ok
//	  save descriptor, MarkStale            MarkCurrent
//
// Fetch runs only after Detect has finished, so everything Detect flags is
// fetched in the same run. Either phase can also run on its own: after a
// crash between phases, calling Fetch alone drains the shards left STALE.
//
// # State machine
//
//	CURRENT --[remote ts > stored ts, descriptor saved]--> STALE
//	STALE   --[payload fetched and imported]-------------> CURRENT
//	(any)   --[transport or import failure]--------------> unchanged
//
// The stored lastModifiedDate advances at the CURRENT -> STALE transition.
// A STALE shard therefore always remembers which remote version it is
// waiting for, even across restarts.
//
// # Usage
//
//	st, err := store.Open("db/nvd-metadata.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	arch, err := archive.Open("data")
//	if err != nil {
//	    return err
//	}
//
//	ctrl, err := sync.New(st, transport.New(nil), arch, arch, nil)
//	if err != nil {
//	    return err
//	}
//	report, err := ctrl.Run(ctx)
//
// # Error Handling
//
// The controller is resilient to individual shard failures:
//
//   - Transport failures (non-200, timeouts) skip the shard for this run
//   - Malformed descriptors and ambiguous timestamps skip the shard
//   - Importer failures leave the shard STALE until an import succeeds
//   - Unknown shards (store.ErrNotFound) are reported, never swallowed
//   - Any other store error aborts the run and is returned
//
// Skipped shards are listed in PhaseReport.Failures.
//
// # Concurrency
//
// Shards are processed sequentially. Rate limiting is the Fetcher's job;
// transport.Client serializes requests with a cooldown after each one.
package sync
