// Package lib contains the core, reusable services for the treesum
// application: the hash engine, the circuit breaker, the resumable result
// log and the directory aggregator.
package lib

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"github.com/zeebo/blake3"
)

// Supported hash algorithm identifiers. These names appear in the config,
// in log headers and in DirectoryIntegrityResult, so they are part of the
// stable on-disk surface.
const (
	AlgMD5    = "md5"
	AlgSHA1   = "sha1"
	AlgSHA256 = "sha256"
	AlgSHA512 = "sha512"
	AlgBLAKE3 = "blake3"
)

// DefaultAlgorithm is used when the config does not name one.
const DefaultAlgorithm = AlgSHA256

// newDigestFuncs maps each identifier to its constructor. blake3.New
// returns a *blake3.Hasher which satisfies hash.Hash with a 32-byte sum.
var newDigestFuncs = map[string]func() hash.Hash{
	AlgMD5:    md5.New,
	AlgSHA1:   sha1.New,
	AlgSHA256: sha256.New,
	AlgSHA512: sha512.New,
	AlgBLAKE3: func() hash.Hash { return blake3.New() },
}

// SupportedAlgorithms returns the identifiers accepted by NewDigest, in
// stable order.
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(newDigestFuncs))
	for name := range newDigestFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDigest returns a fresh incremental hash state for the given
// algorithm identifier. The state is fed chunk by chunk and finalized
// exactly once at end of stream.
func NewDigest(algorithm string) (hash.Hash, error) {
	fn, ok := newDigestFuncs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm %q (supported: %v)", algorithm, SupportedAlgorithms())
	}
	return fn(), nil
}

// EmptyDigest returns the lowercase hex digest of empty input for the
// given algorithm. Zero-byte files take this shortcut instead of opening
// a read loop.
func EmptyDigest(algorithm string) (string, error) {
	h, err := NewDigest(algorithm)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LargeFileChunkSize is the fixed chunk size used for files at or above
// the configured large-file threshold. The digest state is carried across
// chunks, so the chunk size only affects memory and cancellation
// granularity, never the resulting hash.
const LargeFileChunkSize = 4 << 20 // 4 MiB

// bufferSize picks a read buffer for files below the large-file
// threshold. Bigger files get bigger buffers; algorithms with slower
// compression functions or larger digests get the next size down, since
// the transform rather than the read dominates for them.
func bufferSize(algorithm string, fileSize int64) int {
	sizes := []int{4 << 10, 32 << 10, 128 << 10, 512 << 10, 1 << 20}

	tier := 0
	switch {
	case fileSize >= 64<<20:
		tier = 4
	case fileSize >= 8<<20:
		tier = 3
	case fileSize >= 1<<20:
		tier = 2
	case fileSize >= 64<<10:
		tier = 1
	}

	switch algorithm {
	case AlgSHA512, AlgBLAKE3:
		if tier > 0 {
			tier--
		}
	}

	return sizes[tier]
}
