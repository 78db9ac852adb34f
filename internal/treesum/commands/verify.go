// Package commands implements the verbs behind the treesum CLI. Each
// function is a thin orchestration layer over the core services in lib.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/treesum/treesum/internal/treesum/config"
	"github.com/treesum/treesum/internal/treesum/discovery"
	"github.com/treesum/treesum/internal/treesum/history"
	"github.com/treesum/treesum/internal/treesum/lib"
	"github.com/treesum/treesum/internal/treesum/logger"
	"github.com/treesum/treesum/internal/treesum/types"
)

// DefaultLogName is the result log created inside the verified root when
// no explicit path is given. The name matches the discovery package's
// default ignore patterns, so the log never hashes itself.
const DefaultLogName = "verify.treesum.log"

// VerifyOptions carries everything a verification run needs. The config
// is validated before use; the zero Logger is replaced with a no-op one.
type VerifyOptions struct {
	Root    string
	LogPath string // empty means <root>/DefaultLogName
	Resume  bool
	Config  config.Config
	Logger  logger.Logger
}

// VerifySummary reports the outcome of a run.
type VerifySummary struct {
	Root        string
	LogPath     string
	Discovered  int
	Skipped     int64
	Processed   int64
	Failed      int64
	Races       int64
	BytesHashed int64
	Elapsed     time.Duration
	Composite   *types.DirectoryIntegrityResult
	Interrupted bool
}

// Verify hashes every file under the root, appends each outcome to the
// result log, and derives the composite directory hash once every
// dispatched file has a durably logged outcome. With Resume set, files
// already recorded in an existing log are skipped and their hashes still
// contribute to the composite.
func Verify(ctx context.Context, opts VerifyOptions) (*VerifySummary, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve absolute path for %s: %w", opts.Root, err)
	}

	// Reachability probe: one bounded stat before committing to a full
	// walk, so a dead network mount fails in seconds rather than once
	// per file.
	if _, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("root not reachable: %w", err)
	}

	logPath := opts.LogPath
	if logPath == "" {
		logPath = filepath.Join(absRoot, DefaultLogName)
	}

	started := time.Now()

	// 1. Discovery.
	walker, err := discovery.NewWalker(absRoot, discovery.Options{
		IncludeSymlinks: cfg.IncludeSymlinks,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up discovery: %w", err)
	}
	files, err := walker.Walk(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	var discoveredBytes int64
	for _, f := range files {
		discoveredBytes += f.Size
	}
	log.Info("discovery complete", "root", absRoot, "files", len(files), "bytes", discoveredBytes)

	// 2. Resume state. Files already recorded (success or terminal
	// failure) are skipped; a file that crashed mid-hash is absent from
	// the log and gets reprocessed, which is exactly the whole-file
	// idempotence we want.
	sums := make(map[string]lib.FileSum)
	recorded := make(map[string]struct{})
	if opts.Resume {
		if _, serr := os.Stat(logPath); serr == nil {
			replay, rerr := lib.LoadExisting(logPath, log)
			if rerr != nil {
				return nil, fmt.Errorf("failed to replay existing log: %w", rerr)
			}
			for path, e := range replay.Processed {
				recorded[path] = struct{}{}
				sums[path] = lib.FileSum{Hash: e.Hash, Size: e.Size}
			}
			for path := range replay.Failed {
				recorded[path] = struct{}{}
			}
			log.Info("resuming from existing log",
				"log", logPath, "processed", len(replay.Processed),
				"failed", len(replay.Failed), "skipped_lines", replay.Skipped)
		}
	}

	// 3. Result log. Failure to open it is the one run-aborting error.
	writerOpts := lib.DefaultWriterOptions()
	writerOpts.BatchSize = cfg.LogBatchSize
	writerOpts.FlushInterval = cfg.FlushInterval()
	writer, err := lib.NewLogWriter(logPath, lib.LogHeader{
		Algorithm:  cfg.Algorithm,
		Root:       absRoot,
		Started:    started.UTC(),
		FileCount:  len(files),
		TotalBytes: discoveredBytes,
	}, log, writerOpts)
	if err != nil {
		return nil, err
	}

	// 4. Worker pool. Disjoint subsets of descriptors are hashed
	// concurrently; each file is sequential internally.
	breakers := lib.NewBreakerSet(cfg.BreakerThreshold, cfg.BreakerReset())
	engine := lib.NewEngine(breakers, log)
	stats := lib.NewRunStats()

	numWorkers := cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	jobs := make(chan types.FileDescriptor, numWorkers)
	results := make(chan types.HashResult, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fd := range jobs {
				results <- engine.ComputeHash(ctx, lib.HashRequest{
					Path:               fd.Path,
					Algorithm:          cfg.Algorithm,
					RetryCount:         cfg.RetryCount,
					Timeout:            cfg.AttemptTimeout(),
					VerifyIntegrity:    cfg.VerifyIntegrity,
					StrictMode:         cfg.StrictMode,
					LargeFileThreshold: cfg.LargeFileThresholdBytes,
				})
			}
		}()
	}

	// Feed the pool. On cancellation undispatched files are simply never
	// logged, so a resumed run picks them up.
	go func() {
		defer close(jobs)
		for _, fd := range files {
			if _, ok := recorded[fd.Path]; ok {
				stats.AddSkipped()
				continue
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- fd:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// 5. Collect and log outcomes. Append errors are logged but not
	// fatal here: the writer re-enqueues and the final flush retries.
	for res := range results {
		// A cancelled attempt is not an outcome. Nothing is logged for the
		// file, so a resumed run picks it up again.
		if res.Cancelled {
			continue
		}
		if aerr := writer.Append(types.EntryFromResult(res), true); aerr != nil {
			log.Error("failed to append log entry", "path", res.Path, "error", aerr)
		}
		if res.RaceDetected {
			stats.AddRace()
		}
		if res.Success {
			stats.AddProcessed(res.Size)
			sums[res.Path] = lib.FileSum{Hash: res.Hash, Size: res.Size}
		} else {
			stats.AddFailed()
			log.Warn("file failed",
				"path", res.Path, "category", res.ErrorCategory,
				"attempts", res.Attempts, "error", res.ErrorMessage)
		}
	}

	// 6. Barrier: all workers have produced an outcome; make them
	// durable before aggregating.
	if cerr := writer.Close(); cerr != nil {
		return nil, fmt.Errorf("final log flush failed: %w", cerr)
	}

	snap := stats.Snapshot()
	summary := &VerifySummary{
		Root:        absRoot,
		LogPath:     logPath,
		Discovered:  len(files),
		Skipped:     snap.Skipped,
		Processed:   snap.Processed,
		Failed:      snap.Failed,
		Races:       snap.Races,
		BytesHashed: snap.BytesHashed,
		Elapsed:     snap.Elapsed,
	}

	if ctx.Err() != nil {
		summary.Interrupted = true
		recordHistory(cfg, log, summary, started, history.StatusInterrupted)
		return summary, fmt.Errorf("run interrupted: %w", ctx.Err())
	}

	// 7. Aggregate. Zero discovered files is an explicit nothing-to-hash
	// outcome; zero valid hashes despite completed files is corrupt input
	// and aborts.
	composite, err := lib.Combine(sums, cfg.Algorithm, lib.CombineOptions{
		Root:      absRoot,
		Streaming: true,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	if composite == nil {
		log.Info("nothing to hash", "root", absRoot)
	}
	summary.Composite = composite

	status := history.StatusComplete
	if snap.Failed > 0 {
		status = history.StatusPartial
	}
	recordHistory(cfg, log, summary, started, status)

	return summary, nil
}

// recordHistory appends the run to the audit trail when one is
// configured. History failures are logged, never fatal: the result log
// already holds the ground truth.
func recordHistory(cfg config.Config, log logger.Logger, s *VerifySummary, started time.Time, status string) {
	if cfg.HistoryPath == "" {
		return
	}
	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		log.Warn("failed to open history store", "error", err)
		return
	}
	defer store.Close()

	rec := history.RunRecord{
		Root:         s.Root,
		Algorithm:    cfg.Algorithm,
		Started:      started.UTC(),
		Finished:     time.Now().UTC(),
		Status:       status,
		FilesHashed:  s.Processed,
		FilesFailed:  s.Failed,
		FilesSkipped: s.Skipped,
		BytesHashed:  s.BytesHashed,
	}
	if s.Composite != nil {
		rec.CompositeHash = s.Composite.CompositeHash
	}
	if _, err := store.SaveRun(rec); err != nil {
		log.Warn("failed to record run history", "error", err)
	}
}
