// Package discovery enumerates the files under a root path and produces
// the immutable FileDescriptor values the core consumes. The core never
// walks directories itself; this package is its only producer.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/denormal/go-gitignore"

	"github.com/treesum/treesum/internal/treesum/logger"
	"github.com/treesum/treesum/internal/treesum/types"
)

// IgnoreFilename is the name of the file containing user-defined ignore
// patterns, read from the root of the walked tree.
const IgnoreFilename = ".treesumignore"

// defaultIgnorePatterns are always applied so that the tool's own
// artifacts and VCS metadata never end up in the hash set.
var defaultIgnorePatterns = []string{
	".git/**",
	IgnoreFilename,
	"*.treesum.log",
	"*.treesum.log.lock",
}

// Options configures a Walker.
type Options struct {
	// IncludeSymlinks emits descriptors for symlinks (flagged, never
	// followed). Off by default: a symlink's target may live outside the
	// tree and its content hash would not describe the tree itself.
	IncludeSymlinks bool
	Logger          logger.Logger
}

// Walker enumerates one root. The ignore matcher is compiled once per
// instance; there is no shared package-level cache, so concurrent walkers
// over different roots do not contend.
type Walker struct {
	root    string
	matcher gitignore.GitIgnore
	opts    Options
	log     logger.Logger
}

// NewWalker resolves the root to an absolute path and compiles its ignore
// patterns (defaults plus .treesumignore, if present).
func NewWalker(root string, opts Options) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Walker{
		root:    absRoot,
		matcher: compileIgnoreMatcher(absRoot),
		opts:    opts,
		log:     logger.Component(log, "discovery"),
	}, nil
}

// Root returns the absolute root path the walker enumerates.
func (w *Walker) Root() string { return w.root }

// Walk traverses the tree and returns a descriptor for every regular file
// that is not ignored. Modification times are normalized to UTC. The walk
// checks the context between entries and stops early when cancelled.
func (w *Walker) Walk(ctx context.Context) ([]types.FileDescriptor, error) {
	var files []types.FileDescriptor

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable subdirectory should not sink the whole run;
			// the files under it simply go undiscovered and the operator
			// sees the warning.
			w.log.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if path == w.root {
			return nil
		}

		if w.isIgnored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !w.opts.IncludeSymlinks {
				return nil
			}
			info, ierr := os.Lstat(path)
			if ierr != nil {
				w.log.Warn("skipping unstatable symlink", "path", path, "error", ierr)
				return nil
			}
			files = append(files, descriptorFromInfo(path, info, true))
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			w.log.Warn("skipping unstatable file", "path", path, "error", ierr)
			return nil
		}
		files = append(files, descriptorFromInfo(path, info, false))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func descriptorFromInfo(path string, info fs.FileInfo, symlink bool) types.FileDescriptor {
	return types.FileDescriptor{
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime().UTC(),
		Mode:      info.Mode(),
		IsSymlink: symlink,
	}
}

// isIgnored checks a path against the compiled matcher. The gitignore
// library expects slash-separated paths relative to the root.
func (w *Walker) isIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	match := w.matcher.Match(filepath.ToSlash(rel))
	if match == nil {
		// Some pattern shapes only match against the absolute form.
		match = w.matcher.Match(path)
	}
	if match == nil {
		return false
	}
	return match.Ignore()
}

// compileIgnoreMatcher merges the default patterns with the root's
// .treesumignore (comments and blank lines stripped) into one matcher.
// A matcher that fails to compile degrades to ignoring nothing.
func compileIgnoreMatcher(root string) gitignore.GitIgnore {
	patterns := make([]string, len(defaultIgnorePatterns))
	copy(patterns, defaultIgnorePatterns)

	if content, err := os.ReadFile(filepath.Join(root, IgnoreFilename)); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			// Directory patterns become glob patterns for the matcher.
			if strings.HasSuffix(trimmed, "/") {
				trimmed += "**"
			}
			patterns = append(patterns, trimmed)
		}
	}

	matcher := gitignore.New(
		strings.NewReader(strings.Join(patterns, "\n")),
		root,
		func(err gitignore.Error) bool { return false },
	)
	if matcher == nil {
		return gitignore.New(strings.NewReader(""), root, nil)
	}
	return matcher
}
