// Package types defines the value types shared between the treesum core
// services. They carry no behavior beyond simple predicates so that the
// lib, discovery and commands packages can exchange them without import
// cycles.
package types

import (
	"io/fs"
	"time"
)

// ErrorCategory classifies a hashing failure. The category decides both
// the retry policy (see Retriable) and how the failure is rendered in the
// result log.
type ErrorCategory string

const (
	CategoryFileNotFound       ErrorCategory = "FileNotFound"
	CategoryDirectoryNotFound  ErrorCategory = "DirectoryNotFound"
	CategoryAccessDenied       ErrorCategory = "AccessDenied"
	CategoryIntegrity          ErrorCategory = "Integrity"
	CategoryIO                 ErrorCategory = "IO"
	CategoryCircuitBreakerOpen ErrorCategory = "CircuitBreakerOpen"
	CategoryUnknown            ErrorCategory = "Unknown"
)

// Retriable reports whether a failure of this category may be retried
// within the same computeHash call. Only transient I/O trouble and
// unclassified errors qualify; everything else stops the attempt loop
// immediately.
func (c ErrorCategory) Retriable() bool {
	return c == CategoryIO || c == CategoryUnknown
}

// ParseCategory maps a category name from a log line back to its typed
// value. Unknown names parse as CategoryUnknown with ok=false so that a
// log written by a newer version still replays.
func ParseCategory(s string) (ErrorCategory, bool) {
	switch ErrorCategory(s) {
	case CategoryFileNotFound, CategoryDirectoryNotFound, CategoryAccessDenied,
		CategoryIntegrity, CategoryIO, CategoryCircuitBreakerOpen, CategoryUnknown:
		return ErrorCategory(s), true
	}
	return CategoryUnknown, false
}

// FileDescriptor describes one file produced by discovery. It is
// immutable once produced; the hash engine re-stats the file itself and
// never trusts these fields beyond using Size as the corruption bound.
type FileDescriptor struct {
	Path      string
	Size      int64
	ModTime   time.Time // always UTC
	Mode      fs.FileMode
	IsSymlink bool
}

// IntegritySnapshot captures the externally observable metadata of a file
// at a point in time. Snapshots taken before and after hashing are
// compared to detect concurrent modification.
type IntegritySnapshot struct {
	Size     int64
	ModTime  time.Time // always UTC
	Mode     fs.FileMode
	ReadOnly bool
	TakenAt  time.Time // always UTC
	PathID   uint64    // identity hash of the path string
}

// Matches reports whether two snapshots describe the same file state.
// The capture timestamp and path identity are excluded: only size,
// modification time, mode and the read-only flag participate.
func (s IntegritySnapshot) Matches(other IntegritySnapshot) bool {
	return s.Size == other.Size &&
		s.ModTime.Equal(other.ModTime) &&
		s.Mode == other.Mode &&
		s.ReadOnly == other.ReadOnly
}

// HashResult is the outcome of hashing a single file. Invariant: Hash is
// non-empty only when Success is true.
type HashResult struct {
	Path          string
	Success       bool
	Hash          string // lowercase hex digest, empty on failure
	Size          int64
	ErrorCategory ErrorCategory
	ErrorMessage  string
	// Cancelled marks a run cut short by context cancellation. It is not
	// a verdict about the file: the result must not be written to the log,
	// so a resumed run processes the file again.
	Cancelled         bool
	Attempts          int
	Elapsed           time.Duration
	RaceDetected      bool
	IntegrityVerified bool
}

// LogEntry is one line of the resumable result log. Entries are
// append-only: they are never mutated or deleted once written.
type LogEntry struct {
	Path          string
	Success       bool
	Hash          string // set on success
	Size          int64
	ErrorCategory ErrorCategory // set on failure
	ErrorMessage  string        // set on failure
}

// EntryFromResult converts a hash result into its durable log form.
func EntryFromResult(r HashResult) LogEntry {
	if r.Success {
		return LogEntry{Path: r.Path, Success: true, Hash: r.Hash, Size: r.Size}
	}
	return LogEntry{
		Path:          r.Path,
		Size:          r.Size,
		ErrorCategory: r.ErrorCategory,
		ErrorMessage:  r.ErrorMessage,
	}
}

// CircuitBreakerState is a point-in-time copy of one breaker's state,
// exposed for logging and tests. Invariant: Open implies FailureCount
// reached the breaker's threshold at some point since the last success.
type CircuitBreakerState struct {
	FailureCount int
	LastFailure  time.Time
	Open         bool
}

// DirectoryIntegrityResult is the deterministic composite hash over all
// per-file hashes of a run, plus basic performance metadata. It is
// derived from the log and never persisted on its own.
type DirectoryIntegrityResult struct {
	CompositeHash  string
	FileCount      int
	TotalBytes     int64
	Algorithm      string
	Elapsed        time.Duration
	FilesPerSecond float64
	ComputedAt     time.Time // UTC
}
