package lib

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/treesum/treesum/internal/treesum/logger"
	"github.com/treesum/treesum/internal/treesum/types"
)

// DefaultLargeFileThreshold switches the engine from the tuned-buffer
// read path to fixed-chunk streaming. Files at or above it are processed
// in LargeFileChunkSize pieces with the digest state carried across
// chunks.
const DefaultLargeFileThreshold = 64 << 20 // 64 MiB

// errSizeExceeded signals that a file yielded more bytes than its
// recorded size, which we treat as a corruption signal rather than a
// transient read problem.
var errSizeExceeded = errors.New("file larger than recorded size")

// errProbeTimeout signals that the accessibility probe gave up waiting
// for the file to become readable.
var errProbeTimeout = errors.New("file not readable")

// HashRequest carries the per-file parameters of one computeHash call.
type HashRequest struct {
	Path       string
	Algorithm  string
	RetryCount int
	// Timeout bounds the accessibility probe within a single attempt. The
	// probe's internal polling does not consume the retry budget.
	Timeout            time.Duration
	VerifyIntegrity    bool
	StrictMode         bool
	PreSnapshot        *types.IntegritySnapshot
	LargeFileThreshold int64 // 0 means DefaultLargeFileThreshold
}

// Engine computes per-file content hashes with streaming I/O, bounded
// retry, and race detection between snapshot and read. All attempts are
// gated by a circuit breaker so that a dead mount fails fast instead of
// timing out once per file.
type Engine struct {
	breakers  *BreakerSet
	log       logger.Logger
	component string

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	probeBaseDelay time.Duration
	probeMaxDelay  time.Duration

	// openFile is swapped out by tests to inject transient open failures.
	openFile func(string) (*os.File, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithComponentTag sets the circuit-breaker component tag the engine
// reports under.
func WithComponentTag(tag string) EngineOption {
	return func(e *Engine) { e.component = tag }
}

// WithRetryDelays sets the inter-attempt backoff. The delay for attempt n
// is min(base * 2^(n-1), max).
func WithRetryDelays(base, max time.Duration) EngineOption {
	return func(e *Engine) {
		e.retryBaseDelay = base
		e.retryMaxDelay = max
	}
}

// WithProbeDelays sets the polling backoff of the accessibility probe.
func WithProbeDelays(base, max time.Duration) EngineOption {
	return func(e *Engine) {
		e.probeBaseDelay = base
		e.probeMaxDelay = max
	}
}

// NewEngine creates a hash engine reporting to the given breaker set.
// A nil logger is replaced with a no-op logger.
func NewEngine(breakers *BreakerSet, log logger.Logger, opts ...EngineOption) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		breakers:       breakers,
		log:            logger.Component(log, "hash-engine"),
		component:      "hash-engine",
		retryBaseDelay: 500 * time.Millisecond,
		retryMaxDelay:  10 * time.Second,
		probeBaseDelay: 50 * time.Millisecond,
		probeMaxDelay:  2 * time.Second,
		openFile:       os.Open,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ComputeHash hashes one file according to the request. It never panics
// and never returns an error: every outcome, including cancellation, is
// folded into the returned HashResult so the caller can log it verbatim.
func (e *Engine) ComputeHash(ctx context.Context, req HashRequest) types.HashResult {
	start := time.Now()
	res := types.HashResult{Path: req.Path}

	fail := func(cat types.ErrorCategory, err error) types.HashResult {
		res.Success = false
		res.Hash = ""
		res.ErrorCategory = cat
		res.ErrorMessage = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	// Capture the integrity baseline before the first attempt. If the
	// caller already holds a snapshot (taken at discovery time), use it;
	// otherwise failing to take one is fatal for this file, because no
	// integrity statement can be made without a baseline.
	needVerify := req.StrictMode || req.VerifyIntegrity
	baseline := req.PreSnapshot
	if needVerify && baseline == nil {
		snap, err := TakeSnapshot(req.Path)
		if err != nil {
			return fail(types.CategoryIntegrity, fmt.Errorf("pre-hash snapshot failed: %w", err))
		}
		baseline = &snap
	}

	retries := req.RetryCount
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		res.Attempts = attempt

		var cat types.ErrorCategory
		var err error
		baseline, cat, err = e.attempt(ctx, req, baseline, &res)
		if err == nil {
			e.breakers.Report(e.component, false)
			res.Success = true
			res.Elapsed = time.Since(start)
			return res
		}

		// Cancellation is not a file outcome. Mark it and skip the breaker
		// report: the caller leaves the result out of the log so a resumed
		// run processes the file again.
		if ctx.Err() != nil {
			res.Cancelled = true
			return fail(cat, err)
		}

		// A breaker short-circuit means nothing was attempted, so there is
		// no outcome to report. The caller may retry the whole file later.
		if cat == types.CategoryCircuitBreakerOpen {
			return fail(cat, err)
		}
		if !cat.Retriable() {
			return fail(cat, err)
		}

		e.breakers.Report(e.component, true)
		if attempt == retries {
			return fail(cat, err)
		}

		delay := backoffDelay(e.retryBaseDelay, e.retryMaxDelay, attempt)
		e.log.Debug("transient failure, retrying",
			"path", req.Path, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			res.Cancelled = true
			return fail(cat, err)
		case <-time.After(delay):
		}
	}

	// The loop always returns; this is unreachable but keeps the compiler
	// satisfied about the return path.
	return fail(types.CategoryUnknown, errors.New("retry loop exited unexpectedly"))
}

// attempt performs one pass of the hashing algorithm. It returns the
// (possibly adopted) baseline snapshot, and on failure a category plus
// the underlying error.
func (e *Engine) attempt(ctx context.Context, req HashRequest, baseline *types.IntegritySnapshot, res *types.HashResult) (*types.IntegritySnapshot, types.ErrorCategory, error) {
	if err := ctx.Err(); err != nil {
		return baseline, types.CategoryIO, fmt.Errorf("attempt cancelled: %w", err)
	}

	if !e.breakers.Allow(e.component) {
		return baseline, types.CategoryCircuitBreakerOpen,
			fmt.Errorf("circuit breaker open for component %q", e.component)
	}

	path := NormalizePath(req.Path)

	// Existence check. A missing parent directory is reported as its own
	// category so a whole vanished subtree is distinguishable from one
	// deleted file.
	if _, err := os.Lstat(path); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if _, derr := os.Lstat(filepath.Dir(path)); derr != nil && errors.Is(derr, fs.ErrNotExist) {
				return baseline, types.CategoryDirectoryNotFound, err
			}
			return baseline, types.CategoryFileNotFound, err
		case errors.Is(err, fs.ErrPermission):
			return baseline, types.CategoryAccessDenied, err
		default:
			return baseline, types.CategoryIO, err
		}
	}

	f, err := e.waitReadable(ctx, path, req.Timeout)
	if err != nil {
		return baseline, classify(err), err
	}
	defer f.Close()

	// Race check: the file may have changed between the baseline snapshot
	// and the moment we finally got a readable handle.
	if baseline != nil {
		current, serr := TakeSnapshot(path)
		if serr != nil {
			return baseline, types.CategoryIntegrity, fmt.Errorf("re-snapshot failed: %w", serr)
		}
		if !current.Matches(*baseline) {
			if req.StrictMode {
				return baseline, types.CategoryIntegrity,
					fmt.Errorf("file changed between snapshot and read (size %d -> %d, modtime %s -> %s)",
						baseline.Size, current.Size, baseline.ModTime, current.ModTime)
			}
			res.RaceDetected = true
			e.log.Warn("race condition detected, adopting new baseline",
				"path", req.Path, "old_size", baseline.Size, "new_size", current.Size)
			baseline = &current
		}
	}

	info, err := f.Stat()
	if err != nil {
		return baseline, types.CategoryIO, err
	}

	digest, read, err := e.streamDigest(ctx, f, req.Algorithm, info.Size(), req.LargeFileThreshold)
	if err != nil {
		switch {
		case errors.Is(err, errSizeExceeded):
			return baseline, types.CategoryIntegrity, err
		case ctx.Err() != nil:
			return baseline, types.CategoryIO, err
		default:
			return baseline, classify(err), err
		}
	}

	// Post-hash verification against the adopted baseline.
	if req.StrictMode || req.VerifyIntegrity {
		post, serr := TakeSnapshot(path)
		if serr != nil {
			return baseline, types.CategoryIntegrity, fmt.Errorf("post-hash snapshot failed: %w", serr)
		}
		if !post.Matches(*baseline) {
			return baseline, types.CategoryIntegrity,
				fmt.Errorf("file changed during hashing (size %d -> %d)", baseline.Size, post.Size)
		}
		res.IntegrityVerified = true
	}

	res.Hash = digest
	res.Size = read
	return baseline, "", nil
}

// waitReadable probes the file with a shared-read open in a polling loop
// with capped exponential backoff until it succeeds or the timeout
// expires. The probe's polling never consumes the attempt-level retry
// budget; a timeout surfaces as one transient IO failure.
func (e *Engine) waitReadable(ctx context.Context, path string, timeout time.Duration) (*os.File, error) {
	deadline := time.Now().Add(timeout)
	delay := e.probeBaseDelay
	for {
		f, err := e.openFile(path)
		if err == nil {
			return f, nil
		}
		// Waiting will not cure a denied or vanished file.
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s: %v", errProbeTimeout, timeout, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > e.probeMaxDelay {
			delay = e.probeMaxDelay
		}
	}
}

// streamDigest feeds the file through an incremental digest. Zero-byte
// files short-circuit to the algorithm's empty-input digest. Reading more
// bytes than the recorded size fails with errSizeExceeded. Cancellation
// is checked between reads so large files stop promptly.
func (e *Engine) streamDigest(ctx context.Context, r io.Reader, algorithm string, expected, largeThreshold int64) (string, int64, error) {
	if expected == 0 {
		digest, err := EmptyDigest(algorithm)
		return digest, 0, err
	}

	h, err := NewDigest(algorithm)
	if err != nil {
		return "", 0, err
	}

	if largeThreshold <= 0 {
		largeThreshold = DefaultLargeFileThreshold
	}
	var buf []byte
	if expected >= largeThreshold {
		buf = make([]byte, LargeFileChunkSize)
	} else {
		buf = make([]byte, bufferSize(algorithm, expected))
	}

	var total int64
	for {
		if cerr := ctx.Err(); cerr != nil {
			return "", total, cerr
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > expected {
				return "", total, fmt.Errorf("%w: read %d bytes, recorded size %d", errSizeExceeded, total, expected)
			}
			h.Write(buf[:n])
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return "", total, rerr
		}
	}

	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// backoffDelay computes min(base * 2^(attempt-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// classify maps an OS-level error to an error category. Anything not
// positively identified is Unknown, which remains retriable.
func classify(err error) types.ErrorCategory {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return types.CategoryFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return types.CategoryAccessDenied
	case errors.Is(err, errProbeTimeout):
		return types.CategoryIO
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.CategoryIO
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return types.CategoryIO
	}
	return types.CategoryUnknown
}
