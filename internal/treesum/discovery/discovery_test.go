package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTree builds a small directory tree:
//
//	root/
//	  a.txt
//	  sub/b.txt
//	  .git/config
//	  skipme.tmp
func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bbbb"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config"), []byte("[core]"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skipme.tmp"), []byte("tmp"), 0644))
	return root
}

func names(t *testing.T, root string, paths []string) []string {
	t.Helper()
	var rels []string
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		rels = append(rels, filepath.ToSlash(rel))
	}
	return rels
}

func TestWalker(t *testing.T) {
	t.Run("finds regular files and skips VCS metadata", func(t *testing.T) {
		root := setupTree(t)
		w, err := NewWalker(root, Options{})
		require.NoError(t, err)

		files, err := w.Walk(context.Background())
		require.NoError(t, err)

		var paths []string
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		rels := names(t, w.Root(), paths)
		assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt", "skipme.tmp"}, rels)
	})

	t.Run("descriptors carry size and UTC modtime", func(t *testing.T) {
		root := setupTree(t)
		w, err := NewWalker(root, Options{})
		require.NoError(t, err)

		files, err := w.Walk(context.Background())
		require.NoError(t, err)

		for _, f := range files {
			if filepath.Base(f.Path) == "a.txt" {
				assert.Equal(t, int64(3), f.Size)
				assert.Equal(t, f.ModTime.UTC(), f.ModTime)
				assert.False(t, f.IsSymlink)
				return
			}
		}
		t.Fatal("a.txt was not discovered")
	})

	t.Run("honors the ignore file", func(t *testing.T) {
		root := setupTree(t)
		require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFilename),
			[]byte("# temp files\n*.tmp\nsub/\n"), 0644))

		w, err := NewWalker(root, Options{})
		require.NoError(t, err)

		files, err := w.Walk(context.Background())
		require.NoError(t, err)

		var rels []string
		for _, f := range files {
			rel, _ := filepath.Rel(w.Root(), f.Path)
			rels = append(rels, filepath.ToSlash(rel))
		}
		assert.ElementsMatch(t, []string{"a.txt"}, rels,
			"*.tmp and sub/ must be ignored, and the ignore file never hashes itself")
	})

	t.Run("symlinks are excluded by default", func(t *testing.T) {
		root := setupTree(t)
		linkPath := filepath.Join(root, "link-to-a")
		if err := os.Symlink(filepath.Join(root, "a.txt"), linkPath); err != nil {
			t.Skipf("symlinks not supported here: %v", err)
		}

		w, err := NewWalker(root, Options{})
		require.NoError(t, err)
		files, err := w.Walk(context.Background())
		require.NoError(t, err)

		for _, f := range files {
			assert.NotEqual(t, linkPath, f.Path, "symlink must not be discovered by default")
		}
	})

	t.Run("symlinks are flagged when included", func(t *testing.T) {
		root := setupTree(t)
		linkPath := filepath.Join(root, "link-to-a")
		if err := os.Symlink(filepath.Join(root, "a.txt"), linkPath); err != nil {
			t.Skipf("symlinks not supported here: %v", err)
		}

		w, err := NewWalker(root, Options{IncludeSymlinks: true})
		require.NoError(t, err)
		files, err := w.Walk(context.Background())
		require.NoError(t, err)

		found := false
		for _, f := range files {
			if f.Path == linkPath {
				found = true
				assert.True(t, f.IsSymlink)
			}
		}
		assert.True(t, found, "symlink must be discovered with IncludeSymlinks")
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		root := setupTree(t)
		w, err := NewWalker(root, Options{})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = w.Walk(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing root is an error", func(t *testing.T) {
		_, err := NewWalker(filepath.Join(t.TempDir(), "missing"), Options{})
		assert.Error(t, err)
	})
}
