package sync

import (
	"fmt"
	"time"
)

// Phase names a controller phase.
type Phase string

const (
	// PhaseDetect checks descriptors of CURRENT shards.
	PhaseDetect Phase = "detect"
	// PhaseFetch downloads and imports payloads of STALE shards.
	PhaseFetch Phase = "fetch"
)

// ShardFailure records a shard skipped during a phase. The shard keeps its
// state and is retried on the next run.
type ShardFailure struct {
	Shard string
	Phase Phase
	Err   error
}

func (f ShardFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Phase, f.Shard, f.Err)
}

func (f ShardFailure) Unwrap() error {
	return f.Err
}

// PhaseReport summarizes one phase.
type PhaseReport struct {
	Phase Phase

	// Targets is the number of shards the phase set out to process.
	Targets int

	// Changed counts state transitions: CURRENT -> STALE in detect,
	// STALE -> CURRENT in fetch.
	Changed int

	// Unchanged counts detect checks that found no newer descriptor.
	Unchanged int

	// Failures lists shards skipped for this run.
	Failures []ShardFailure

	Duration time.Duration
}

func (r *PhaseReport) fail(name string, err error) {
	r.Failures = append(r.Failures, ShardFailure{Shard: name, Phase: r.Phase, Err: err})
}

// Report summarizes a full run.
type Report struct {
	Detect *PhaseReport
	Fetch  *PhaseReport
}

// Failures returns the failures of both phases.
func (r *Report) Failures() []ShardFailure {
	var out []ShardFailure
	if r.Detect != nil {
		out = append(out, r.Detect.Failures...)
	}
	if r.Fetch != nil {
		out = append(out, r.Fetch.Failures...)
	}
	return out
}
