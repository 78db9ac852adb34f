package lib

import (
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/treesum/treesum/internal/treesum/types"
)

// TakeSnapshot captures the integrity-relevant metadata of a file. The
// engine takes one snapshot before reading and one after; a mismatch
// between them means the file changed underneath the hash.
func TakeSnapshot(path string) (types.IntegritySnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.IntegritySnapshot{}, err
	}
	return types.IntegritySnapshot{
		Size:     info.Size(),
		ModTime:  info.ModTime().UTC(),
		Mode:     info.Mode(),
		ReadOnly: info.Mode().Perm()&0200 == 0,
		TakenAt:  time.Now().UTC(),
		PathID:   xxhash.Sum64String(path),
	}, nil
}
