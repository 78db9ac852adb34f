package commands

import (
	"fmt"

	"github.com/treesum/treesum/internal/treesum/lib"
	"github.com/treesum/treesum/internal/treesum/logger"
	"github.com/treesum/treesum/internal/treesum/types"
)

// RecomputeOptions selects the log and combination parameters for a
// composite-hash recomputation.
type RecomputeOptions struct {
	LogPath   string
	Algorithm string
	// Root relativizes the sort keys; it should match the root the log
	// was produced from. Empty keeps absolute paths as keys.
	Root string
	// LegacyBaseNameKey reproduces the legacy filename-only sort order.
	LegacyBaseNameKey bool
	Logger            logger.Logger
}

// RecomputeResult pairs the recomputed composite with the replay counts
// it was derived from.
type RecomputeResult struct {
	Composite *types.DirectoryIntegrityResult
	Processed int
	Failed    int
	Skipped   int
}

// Recompute re-derives the composite directory hash from an existing
// result log, without touching the filesystem the log describes. This is
// the "recomputable from the log at any time" property made operational.
func Recompute(opts RecomputeOptions) (*RecomputeResult, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	replay, err := lib.LoadExisting(opts.LogPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to replay log %s: %w", opts.LogPath, err)
	}

	sums := make(map[string]lib.FileSum, len(replay.Processed))
	for path, e := range replay.Processed {
		sums[path] = lib.FileSum{Hash: e.Hash, Size: e.Size}
	}

	sortKey := lib.SortKeyRelPath
	if opts.LegacyBaseNameKey {
		sortKey = lib.SortKeyBaseName
	}
	composite, err := lib.Combine(sums, opts.Algorithm, lib.CombineOptions{
		Root:      opts.Root,
		SortKey:   sortKey,
		Streaming: true,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	return &RecomputeResult{
		Composite: composite,
		Processed: len(replay.Processed),
		Failed:    len(replay.Failed),
		Skipped:   replay.Skipped,
	}, nil
}
