package lib

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/treesum/treesum/internal/treesum/logger"
	"github.com/treesum/treesum/internal/treesum/types"
)

// ToolVersion is written into log headers so a log can be traced back to
// the build that produced it.
const ToolVersion = "1.0.0"

// LogHeader is the comment block written at the top of each run's section
// of the result log. All header lines start with '#' and are skipped on
// replay.
type LogHeader struct {
	Algorithm  string
	Root       string
	Started    time.Time
	FileCount  int
	TotalBytes int64
}

// WriterOptions tunes the batching and locking behavior of a log writer.
type WriterOptions struct {
	// BatchSize triggers a flush when the pending queue reaches it.
	// Zero disables the size trigger.
	BatchSize int
	// MaxFlush caps how many entries one flush dequeues. Zero means no cap.
	MaxFlush int
	// FlushInterval starts a background periodic flush. Zero disables it.
	FlushInterval time.Duration
	// LockRetries and LockRetryDelay bound the sentinel-lock acquisition.
	LockRetries    int
	LockRetryDelay time.Duration
	// LockStaleAfter breaks a leftover lock file older than this age, on
	// the assumption that its owner crashed without removing it. Zero
	// disables breaking.
	LockStaleAfter time.Duration
}

// DefaultWriterOptions are the production settings: flush every 64
// entries or 2 seconds, whichever comes first.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		BatchSize:      64,
		MaxFlush:       512,
		FlushInterval:  2 * time.Second,
		LockRetries:    10,
		LockRetryDelay: 50 * time.Millisecond,
		LockStaleAfter: time.Minute,
	}
}

// LogWriter is the durable, append-only record of per-file outcomes.
// Entries are either appended directly or placed on a pending queue that
// is flushed in batches. Writes go through a sentinel lock file so that a
// concurrent process (or a crashed predecessor's leftover lock) cannot
// interleave partial lines. Entries that fail to flush are re-enqueued:
// the log may duplicate an entry after a crash but never silently drops
// one.
type LogWriter struct {
	path string
	opts WriterOptions
	log  logger.Logger

	mu      sync.Mutex // guards queue
	queue   []types.LogEntry
	flushMu sync.Mutex // serializes file appends

	done     chan struct{}
	wg       sync.WaitGroup
	closedMu sync.Mutex
	closed   bool
}

// NewLogWriter opens (or creates) the result log at path, appends the run
// header, and starts the periodic flush goroutine if configured. A log
// that already has entries is simply appended to: resume runs add a new
// header block below the previous run's entries.
func NewLogWriter(path string, header LogHeader, log logger.Logger, opts WriterOptions) (*LogWriter, error) {
	if log == nil {
		log = logger.Nop()
	}
	w := &LogWriter{
		path: path,
		opts: opts,
		log:  logger.Component(log, "result-log"),
		done: make(chan struct{}),
	}

	if err := w.appendLines(headerLines(header)); err != nil {
		return nil, fmt.Errorf("failed to initialize result log %s: %w", path, err)
	}

	if opts.FlushInterval > 0 {
		w.wg.Add(1)
		go w.flushLoop()
	}
	return w, nil
}

// headerLines renders the run header as comment lines.
func headerLines(h LogHeader) []string {
	started := h.Started
	if started.IsZero() {
		started = time.Now().UTC()
	}
	return []string{
		fmt.Sprintf("# treesum %s", ToolVersion),
		fmt.Sprintf("# started: %s", started.UTC().Format(time.RFC3339)),
		fmt.Sprintf("# algorithm: %s", h.Algorithm),
		fmt.Sprintf("# root: %s", h.Root),
		fmt.Sprintf("# discovered: %d files, %d bytes", h.FileCount, h.TotalBytes),
	}
}

// FormatEntry renders one entry in the stable log line grammar:
//
//	<path> = <hexhash>, size: <bytes>
//	<path> = ERROR(<Category>): <message>, size: <bytes>
func FormatEntry(e types.LogEntry) string {
	if e.Success {
		return fmt.Sprintf("%s = %s, size: %d", e.Path, e.Hash, e.Size)
	}
	// Newlines inside a message would corrupt the line-oriented format.
	msg := strings.ReplaceAll(e.ErrorMessage, "\n", " ")
	return fmt.Sprintf("%s = ERROR(%s): %s, size: %d", e.Path, e.ErrorCategory, msg, e.Size)
}

// Append records one outcome. With useBatching the entry is queued and
// flushed once the queue reaches the batch size; without it the entry is
// written through immediately.
func (w *LogWriter) Append(e types.LogEntry, useBatching bool) error {
	if !useBatching {
		return w.appendLines([]string{FormatEntry(e)})
	}

	w.mu.Lock()
	w.queue = append(w.queue, e)
	shouldFlush := w.opts.BatchSize > 0 && len(w.queue) >= w.opts.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush()
	}
	return nil
}

// Flush drains up to MaxFlush queued entries and appends them to the log
// file in one write. On failure the dequeued entries are put back at the
// head of the queue and the error is returned; durability is
// at-least-once, never silent loss.
func (w *LogWriter) Flush() error {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return nil
	}
	n := len(w.queue)
	if w.opts.MaxFlush > 0 && n > w.opts.MaxFlush {
		n = w.opts.MaxFlush
	}
	batch := w.queue[:n]
	w.queue = w.queue[n:]
	w.mu.Unlock()

	lines := make([]string, len(batch))
	for i, e := range batch {
		lines[i] = FormatEntry(e)
	}

	if err := w.appendLines(lines); err != nil {
		// Put the batch back in front so ordering is preserved for the
		// next flush attempt.
		w.mu.Lock()
		w.queue = append(append([]types.LogEntry{}, batch...), w.queue...)
		w.mu.Unlock()
		w.log.Error("flush failed, entries re-enqueued", "count", len(batch), "error", err)
		return err
	}
	return nil
}

// Pending returns the number of queued, not yet durable entries.
func (w *LogWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close stops the periodic flusher and performs one final flush. It is
// safe to call more than once.
func (w *LogWriter) Close() error {
	w.closedMu.Lock()
	if w.closed {
		w.closedMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.closedMu.Unlock()

	w.wg.Wait()

	// Drain everything, not just one batch.
	for {
		if err := w.Flush(); err != nil {
			return err
		}
		if w.Pending() == 0 {
			return nil
		}
	}
}

// flushLoop is the timer-driven flush trigger.
func (w *LogWriter) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.log.Warn("periodic flush failed", "error", err)
			}
		}
	}
}

// appendLines joins the lines with newlines and appends them to the log
// file under the sentinel lock.
func (w *LogWriter) appendLines(lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	unlock, err := w.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// acquireLock takes the sentinel lock file next to the log, retrying with
// a fixed delay for bounded contention. The lock exists to serialize
// appends with any other process writing the same log. A lock older than
// LockStaleAfter is treated as a crash leftover and broken, so a resume
// run after a hard crash is not blocked by its predecessor's sentinel.
func (w *LogWriter) acquireLock() (func(), error) {
	lockPath := w.path + ".lock"
	attempts := w.opts.LockRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if w.opts.LockStaleAfter > 0 {
			if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > w.opts.LockStaleAfter {
				w.log.Warn("breaking stale result log lock",
					"lock", lockPath, "age", time.Since(info.ModTime()).Round(time.Second))
				os.Remove(lockPath)
				continue
			}
		}
		if i < attempts-1 {
			time.Sleep(w.opts.LockRetryDelay)
		}
	}
	return nil, fmt.Errorf("result log locked by another writer: %s", lockPath)
}
