package lib

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/treesum/treesum/internal/treesum/types"
)

// FileSum is one aggregator input: the per-file digest and size as
// recorded in the result log.
type FileSum struct {
	Hash string
	Size int64
}

// SortKeyMode selects the stable key entries are sorted by before
// combination.
type SortKeyMode int

const (
	// SortKeyRelPath sorts by the normalized, case-insensitive relative
	// path. This is the default: it is collision-free for distinct files.
	SortKeyRelPath SortKeyMode = iota
	// SortKeyBaseName sorts by filename only, for exact compatibility
	// with the legacy scheme. It silently collides for files with equal
	// basenames in different subdirectories; do not use it unless the
	// legacy output must be reproduced.
	SortKeyBaseName
)

// CombineOptions configures the aggregation.
type CombineOptions struct {
	// Root, when set, makes sort keys relative to it. Paths outside the
	// root keep their absolute form.
	Root string
	// SortKey selects the ordering key. Zero value is SortKeyRelPath.
	SortKey SortKeyMode
	// Streaming feeds the sorted hex digests into one incremental digest
	// instead of concatenating them into a single string first. The
	// output is byte-identical to the concatenating mode; only peak
	// memory differs.
	Streaming bool
}

// Combine derives the deterministic composite hash over all per-file
// hashes. The result is identical regardless of discovery or processing
// order: entries are sorted by a stable key, then their lowercase hex
// digests are hashed back to back with no separator.
//
// Empty input returns (nil, nil): nothing to hash is a valid outcome,
// not an error. Input with entries but zero valid digests is structurally
// corrupt and returns an error.
func Combine(files map[string]FileSum, algorithm string, opts CombineOptions) (*types.DirectoryIntegrityResult, error) {
	if len(files) == 0 {
		return nil, nil
	}

	start := time.Now()

	type keyed struct {
		key  string
		path string
		sum  FileSum
	}
	entries := make([]keyed, 0, len(files))
	var totalBytes int64
	for path, sum := range files {
		if sum.Hash == "" {
			continue
		}
		entries = append(entries, keyed{
			key:  sortKey(path, opts.Root, opts.SortKey),
			path: path,
			sum:  sum,
		})
		totalBytes += sum.Size
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("aggregator input holds %d entries but no valid hashes", len(files))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key != entries[j].key {
			return entries[i].key < entries[j].key
		}
		// Tie-break on the full path so equal keys (possible in basename
		// mode) still order deterministically.
		return entries[i].path < entries[j].path
	})

	h, err := NewDigest(algorithm)
	if err != nil {
		return nil, err
	}

	if opts.Streaming {
		for _, e := range entries {
			h.Write([]byte(e.sum.Hash))
		}
	} else {
		var sb strings.Builder
		for _, e := range entries {
			sb.WriteString(e.sum.Hash)
		}
		h.Write([]byte(sb.String()))
	}

	elapsed := time.Since(start)
	filesPerSecond := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		filesPerSecond = float64(len(entries)) / secs
	}

	return &types.DirectoryIntegrityResult{
		CompositeHash:  fmt.Sprintf("%x", h.Sum(nil)),
		FileCount:      len(entries),
		TotalBytes:     totalBytes,
		Algorithm:      algorithm,
		Elapsed:        elapsed,
		FilesPerSecond: filesPerSecond,
		ComputedAt:     time.Now().UTC(),
	}, nil
}

// sortKey builds the stable ordering key for one path: NFC-normalized,
// slash-separated, lowercased, and relative to the root when possible.
func sortKey(path, root string, mode SortKeyMode) string {
	if mode == SortKeyBaseName {
		return strings.ToLower(norm.NFC.String(filepath.Base(path)))
	}
	p := path
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	return strings.ToLower(norm.NFC.String(filepath.ToSlash(p)))
}
