package lib

import (
	"sync/atomic"
	"time"
)

// RunStats accumulates counters across all workers of a run. All fields
// are updated with atomic increments; no broader lock is needed.
type RunStats struct {
	processed   atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	races       atomic.Int64
	bytesHashed atomic.Int64
	started     time.Time
}

// NewRunStats starts a counter set for a run beginning now.
func NewRunStats() *RunStats {
	return &RunStats{started: time.Now()}
}

// AddProcessed records one successfully hashed file of the given size.
func (s *RunStats) AddProcessed(bytes int64) {
	s.processed.Add(1)
	s.bytesHashed.Add(bytes)
}

// AddFailed records one terminally failed file.
func (s *RunStats) AddFailed() { s.failed.Add(1) }

// AddSkipped records one file skipped because the log already records it.
func (s *RunStats) AddSkipped() { s.skipped.Add(1) }

// AddRace records one detected race condition.
func (s *RunStats) AddRace() { s.races.Add(1) }

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Processed   int64
	Failed      int64
	Skipped     int64
	Races       int64
	BytesHashed int64
	Elapsed     time.Duration
}

// Snapshot returns the current counter values.
func (s *RunStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Processed:   s.processed.Load(),
		Failed:      s.failed.Load(),
		Skipped:     s.skipped.Load(),
		Races:       s.races.Load(),
		BytesHashed: s.bytesHashed.Load(),
		Elapsed:     time.Since(s.started),
	}
}
