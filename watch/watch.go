/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package watch reports file changes under a project directory in debounced
// batches, for the compiler's watch mode.
package watch

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for more events before it
// reports a batch.
const DefaultDebounce = 100 * time.Millisecond

// Directories that are never watched.
var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	"node_modules": {},
}

// Batch is the set of paths that changed during one debounce window. A path
// is in at most one of the lists, according to its last event.
type Batch struct {
	Modified []string
	Removed  []string
}

// Empty reports whether the batch holds no changes.
func (b Batch) Empty() bool {
	return len(b.Modified) == 0 && len(b.Removed) == 0
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Ignore holds doublestar globs, relative to the root, of paths to skip.
	Ignore []string
	// GitIgnore also skips the paths matched by the root's .gitignore.
	GitIgnore bool
	Logger    *zap.Logger
}

// Watcher watches a directory tree.
type Watcher struct {
	root      string
	fsw       *fsnotify.Watcher
	gitignore *ignore.GitIgnore
	opts      Options
	logger    *zap.Logger
	batches   chan Batch
}

// New starts watching every directory under root that is not ignored.
func New(root string, opts Options) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, pattern := range opts.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		root:    root,
		fsw:     fsw,
		opts:    opts,
		logger:  logger.Named("watch"),
		batches: make(chan Batch),
	}
	if opts.GitIgnore {
		if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			w.gitignore = gi
		}
	}
	if _, err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Batches returns the channel batches are sent on. It is closed when Run
// returns.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Run delivers events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.batches)
	var pending debouncer
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event, &pending) {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			b := pending.flush()
			if b.Empty() {
				continue
			}
			select {
			case w.batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// handle records event and reports whether it was relevant.
func (w *Watcher) handle(event fsnotify.Event, pending *debouncer) bool {
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.ignored(event.Name, false) {
			return false
		}
		pending.remove(event.Name)
		return true

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			// files created before the new directory was watched have no
			// events of their own
			files, err := w.addTree(event.Name)
			if err != nil {
				w.logger.Warn("failed to watch directory", zap.String("dir", event.Name), zap.Error(err))
			}
			for _, f := range files {
				pending.modify(f)
			}
			return len(files) > 0
		}
		if w.ignored(event.Name, false) {
			return false
		}
		pending.modify(event.Name)
		return true
	}
	return false
}

// addTree watches dir and its subdirectories and returns the files found.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if !w.ignored(p, false) {
				files = append(files, p)
			}
			return nil
		}
		if _, skip := skipDirs[d.Name()]; skip || (p != w.root && w.ignored(p, true)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
	return files, err
}

func (w *Watcher) ignored(p string, dir bool) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if dir {
		rel += "/"
	}
	if w.gitignore != nil && w.gitignore.MatchesPath(rel) {
		return true
	}
	for _, pattern := range w.opts.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if dir {
			if ok, _ := doublestar.Match(pattern, rel[:len(rel)-1]); ok {
				return true
			}
		}
	}
	return false
}

// debouncer collects the last event kind of each path.
type debouncer struct {
	changes map[string]bool // path -> removed
}

func (d *debouncer) set(p string, removed bool) {
	if d.changes == nil {
		d.changes = make(map[string]bool)
	}
	d.changes[p] = removed
}

func (d *debouncer) modify(p string) { d.set(p, false) }
func (d *debouncer) remove(p string) { d.set(p, true) }

func (d *debouncer) flush() Batch {
	var b Batch
	for _, p := range slices.Sorted(maps.Keys(d.changes)) {
		if d.changes[p] {
			b.Removed = append(b.Removed, p)
		} else {
			b.Modified = append(b.Modified, p)
		}
	}
	clear(d.changes)
	return b
}
