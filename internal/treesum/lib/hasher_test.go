package lib

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/treesum/treesum/internal/treesum/types"
)

// writeTestFile creates a file with the given content in a fresh temp
// directory and returns its path.
func writeTestFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testfile.dat")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	return path
}

// newTestEngine builds an engine with fast delays so retry paths run in
// milliseconds.
func newTestEngine() *Engine {
	breakers := NewBreakerSet(100, time.Minute)
	return NewEngine(breakers, nil,
		WithRetryDelays(time.Millisecond, 4*time.Millisecond),
		WithProbeDelays(time.Millisecond, 2*time.Millisecond),
	)
}

func TestComputeHash(t *testing.T) {
	// Known MD5 digest of the bytes "abc".
	const abcMD5 = "900150983cd24fb0d6963f7d28e17f72"
	// Known MD5 digest of empty input.
	const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

	t.Run("MD5 of a file containing abc", func(t *testing.T) {
		// Arrange
		path := writeTestFile(t, []byte("abc"))
		e := newTestEngine()

		// Act
		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 3, Timeout: time.Second,
		})

		// Assert
		if !res.Success {
			t.Fatalf("ComputeHash failed unexpectedly: %s (%s)", res.ErrorMessage, res.ErrorCategory)
		}
		if res.Hash != abcMD5 {
			t.Errorf("ComputeHash was incorrect, got: %s, want: %s", res.Hash, abcMD5)
		}
		if res.Size != 3 {
			t.Errorf("Size was incorrect, got: %d, want: 3", res.Size)
		}
		if res.Attempts != 1 {
			t.Errorf("Attempts was incorrect, got: %d, want: 1", res.Attempts)
		}
	})

	t.Run("MD5 of a zero-byte file", func(t *testing.T) {
		path := writeTestFile(t, []byte{})
		e := newTestEngine()

		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 1, Timeout: time.Second,
		})

		if !res.Success {
			t.Fatalf("ComputeHash failed unexpectedly: %s", res.ErrorMessage)
		}
		if res.Hash != emptyMD5 {
			t.Errorf("ComputeHash for empty file was incorrect, got: %s, want: %s", res.Hash, emptyMD5)
		}
	})

	t.Run("missing file is FileNotFound and not retried", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "does_not_exist.txt")
		e := newTestEngine()

		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgSHA256, RetryCount: 5, Timeout: time.Second,
		})

		if res.Success {
			t.Fatal("Expected a failure for a missing file, but got success")
		}
		if res.ErrorCategory != types.CategoryFileNotFound {
			t.Errorf("ErrorCategory was incorrect, got: %s, want: %s", res.ErrorCategory, types.CategoryFileNotFound)
		}
		if res.Attempts != 1 {
			t.Errorf("A non-retriable failure must stop the loop, got %d attempts", res.Attempts)
		}
		if res.Hash != "" {
			t.Errorf("Hash must be empty on failure, got: %s", res.Hash)
		}
	})

	t.Run("missing parent directory is DirectoryNotFound", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gone", "file.txt")
		e := newTestEngine()

		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgSHA256, RetryCount: 1, Timeout: time.Second,
		})

		if res.ErrorCategory != types.CategoryDirectoryNotFound {
			t.Errorf("ErrorCategory was incorrect, got: %s, want: %s", res.ErrorCategory, types.CategoryDirectoryNotFound)
		}
	})

	t.Run("transient open failures are retried and then succeed", func(t *testing.T) {
		// Arrange: the first two opens fail with a transient error; with a
		// zero probe timeout each failed open burns exactly one attempt.
		path := writeTestFile(t, []byte("abc"))
		e := newTestEngine()
		calls := 0
		e.openFile = func(p string) (*os.File, error) {
			calls++
			if calls <= 2 {
				return nil, &fs.PathError{Op: "open", Path: p, Err: errors.New("injected transient error")}
			}
			return os.Open(p)
		}

		// Act
		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 5, Timeout: 0,
		})

		// Assert
		if !res.Success {
			t.Fatalf("Expected success after retries, got: %s (%s)", res.ErrorMessage, res.ErrorCategory)
		}
		if res.Attempts != 3 {
			t.Errorf("Attempts was incorrect, got: %d, want: 3", res.Attempts)
		}
		if res.Hash != abcMD5 {
			t.Errorf("Hash was incorrect after retry, got: %s, want: %s", res.Hash, abcMD5)
		}
	})

	t.Run("exhausted retries return the last transient failure", func(t *testing.T) {
		path := writeTestFile(t, []byte("abc"))
		e := newTestEngine()
		e.openFile = func(p string) (*os.File, error) {
			return nil, &fs.PathError{Op: "open", Path: p, Err: errors.New("injected transient error")}
		}

		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 3, Timeout: 0,
		})

		if res.Success {
			t.Fatal("Expected failure when every attempt fails")
		}
		if res.ErrorCategory != types.CategoryIO {
			t.Errorf("ErrorCategory was incorrect, got: %s, want: %s", res.ErrorCategory, types.CategoryIO)
		}
		if res.Attempts != 3 {
			t.Errorf("Attempts was incorrect, got: %d, want: 3", res.Attempts)
		}
	})

	t.Run("race detection adopts the new baseline outside strict mode", func(t *testing.T) {
		// Arrange: snapshot the file, then grow it so the snapshot is stale.
		path := writeTestFile(t, []byte("original"))
		pre, err := TakeSnapshot(path)
		if err != nil {
			t.Fatalf("TakeSnapshot failed: %v", err)
		}
		if err := os.WriteFile(path, []byte("original plus more"), 0644); err != nil {
			t.Fatalf("Failed to mutate test file: %v", err)
		}

		e := newTestEngine()

		// Act
		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 1, Timeout: time.Second,
			VerifyIntegrity: true, PreSnapshot: &pre,
		})

		// Assert
		if !res.Success {
			t.Fatalf("Expected success with an adopted baseline, got: %s (%s)", res.ErrorMessage, res.ErrorCategory)
		}
		if !res.RaceDetected {
			t.Error("Expected RaceDetected to be true")
		}
		if !res.IntegrityVerified {
			t.Error("Expected IntegrityVerified to be true after the post-check passed")
		}
	})

	t.Run("race detection fails hard in strict mode", func(t *testing.T) {
		path := writeTestFile(t, []byte("original"))
		pre, err := TakeSnapshot(path)
		if err != nil {
			t.Fatalf("TakeSnapshot failed: %v", err)
		}
		if err := os.WriteFile(path, []byte("original plus more"), 0644); err != nil {
			t.Fatalf("Failed to mutate test file: %v", err)
		}

		e := newTestEngine()

		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 1, Timeout: time.Second,
			StrictMode: true, PreSnapshot: &pre,
		})

		if res.Success {
			t.Fatal("Expected a strict-mode race to fail")
		}
		if res.ErrorCategory != types.CategoryIntegrity {
			t.Errorf("ErrorCategory was incorrect, got: %s, want: %s", res.ErrorCategory, types.CategoryIntegrity)
		}
	})

	t.Run("open breaker short-circuits without attempting", func(t *testing.T) {
		path := writeTestFile(t, []byte("abc"))
		breakers := NewBreakerSet(1, time.Hour)
		breakers.Report("hash-engine", true) // trip it

		e := NewEngine(breakers, nil, WithRetryDelays(time.Millisecond, time.Millisecond))

		res := e.ComputeHash(context.Background(), HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 5, Timeout: time.Second,
		})

		if res.Success {
			t.Fatal("Expected the open breaker to short-circuit the call")
		}
		if res.ErrorCategory != types.CategoryCircuitBreakerOpen {
			t.Errorf("ErrorCategory was incorrect, got: %s, want: %s", res.ErrorCategory, types.CategoryCircuitBreakerOpen)
		}
		if res.Attempts != 1 {
			t.Errorf("A short-circuit must not loop, got %d attempts", res.Attempts)
		}
	})

	t.Run("cancelled context stops the run without a terminal verdict", func(t *testing.T) {
		path := writeTestFile(t, []byte("abc"))
		breakers := NewBreakerSet(100, time.Minute)
		e := NewEngine(breakers, nil,
			WithRetryDelays(time.Millisecond, 4*time.Millisecond),
			WithProbeDelays(time.Millisecond, 2*time.Millisecond),
		)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := e.ComputeHash(ctx, HashRequest{
			Path: path, Algorithm: AlgMD5, RetryCount: 3, Timeout: time.Second,
		})

		if res.Success {
			t.Fatal("Expected a cancelled context to fail the call")
		}
		if !res.Cancelled {
			t.Error("Expected Cancelled to be set so the caller can withhold the result from the log")
		}
		if got := breakers.For("hash-engine").State().FailureCount; got != 0 {
			t.Errorf("A cancellation must not count against the breaker, got %d failures", got)
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{9, time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(base, max, c.attempt); got != c.want {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}
