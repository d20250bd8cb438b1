package engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/franksops/rftp/provider"
)

// Entry is a leaf of a source tree: a file or an empty directory.
type Entry struct {
	// Path is the provider path to read the entry from.
	Path string
	// RelPath is slash separated and relative to the walked root's parent
	// directory for a file root, or to the root itself otherwise.
	RelPath string
	IsDir   bool
	Size    int64
}

// Walker enumerates the leaves of a source tree iteratively.
// It avoids deep recursion to prevent stack overflows on very deep directory structures.
type Walker struct {
	Source  provider.Provider
	Exclude []string
	Log     logrus.FieldLogger
}

// NewWalker creates a new iterative directory walker.
func NewWalker(src provider.Provider, exclude []string, log logrus.FieldLogger) *Walker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Walker{
		Source:  src,
		Exclude: exclude,
		Log:     log,
	}
}

// Walk calls fn for every leaf under root. Directories that cannot be listed
// are logged and skipped. A missing root is returned as an error. When the
// source can resolve links, a directory reached a second time (a symlink
// cycle or two links to one tree) is logged and not descended again.
func (w *Walker) Walk(ctx context.Context, root string, fn func(Entry) error) error {
	stat, err := w.Source.Stat(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to stat source %s: %w", root, err)
	}

	// If the root itself is just a file, report it under its base name.
	if !stat.IsDir() {
		return fn(Entry{
			Path:    root,
			RelPath: path.Base(filepath.ToSlash(root)),
			Size:    stat.Size(),
		})
	}

	resolver, _ := w.Source.(provider.RealPather)
	visited := make(map[string]struct{})

	stack := []string{""}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Pop item
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dir := root
		if rel != "" {
			dir = filepath.Join(root, filepath.FromSlash(rel))
		}

		if resolver != nil {
			canonical, err := resolver.RealPath(ctx, dir)
			if err != nil {
				w.Log.WithError(err).WithField("path", dir).Error("failed to resolve directory, skipping")
				continue
			}
			if _, seen := visited[canonical]; seen {
				w.Log.WithFields(logrus.Fields{"path": dir, "target": canonical}).Warn("directory already walked, skipping link")
				continue
			}
			visited[canonical] = struct{}{}
		}

		entries, err := w.Source.List(ctx, dir)
		if err != nil {
			w.Log.WithError(err).WithField("path", dir).Error("failed to list directory, skipping")
			continue
		}

		kept := 0
		for _, entry := range entries {
			entryRel := path.Join(rel, entry.Name())
			if w.excluded(entry.Name(), entryRel) {
				w.Log.WithField("path", entryRel).Debug("excluded")
				continue
			}
			kept++

			if entry.IsDir() {
				stack = append(stack, entryRel)
				continue
			}
			err := fn(Entry{
				Path:    filepath.Join(root, filepath.FromSlash(entryRel)),
				RelPath: entryRel,
				Size:    entry.Size(),
			})
			if err != nil {
				return err
			}
		}

		if kept == 0 {
			leaf := rel
			if leaf == "" {
				leaf = "."
			}
			if err := fn(Entry{Path: dir, RelPath: leaf, IsDir: true}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *Walker) excluded(name, rel string) bool {
	for _, pattern := range w.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
