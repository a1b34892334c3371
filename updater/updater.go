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

package updater

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/hook"
	"bennypowers.dev/fardel/loader"
	"bennypowers.dev/fardel/resolve"
)

// Options configures an Updater.
type Options struct {
	// Parallelism bounds concurrent resolve and build work. Defaults to
	// GOMAXPROCS.
	Parallelism int
	// Bail turns the first resolve or build error into an error returned by
	// Update. Remaining work is abandoned.
	Bail bool
	// LazyCompilation defers dynamic imports until UnlazyDependencies
	// requests them.
	LazyCompilation bool
	Logger          *zap.Logger
}

// RevokedModulesArgs is passed to the RevokedModules hook.
type RevokedModulesArgs struct {
	// Graph is the module graph before repair.
	Graph   *graph.ModuleGraph
	Modules []graph.ModuleIdentifier
}

// Hooks are the updater's extension points.
type Hooks struct {
	// RevokedModules is called before repair with the modules whose current
	// state is about to be discarded.
	RevokedModules hook.Series[*RevokedModulesArgs]
}

// Updater applies UpdateParams to artifacts.
type Updater struct {
	fs       fs.FileSystem
	resolver resolve.Resolver
	loader   loader.Loader
	ids      *graph.IDAllocator
	opts     Options
	logger   *zap.Logger

	Hooks Hooks
}

// New creates an updater. ids is shared with every other updater working on
// the same artifact so dependency ids stay unique.
func New(fsys fs.FileSystem, resolver resolve.Resolver, l loader.Loader, ids *graph.IDAllocator, opts Options) *Updater {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		fs:       fsys,
		resolver: resolver,
		loader:   l,
		ids:      ids,
		opts:     opts,
		logger:   logger.Named("updater"),
	}
}

// Update applies params to a, which must not have an update in flight. Resolve
// and build errors are recorded as diagnostics in the graph; the returned
// error is non-nil only for bail, hook failures, or a context that was done
// before the update started. The artifact is committed in every case.
func (u *Updater) Update(ctx context.Context, a *Artifact, params ...UpdateParam) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.Begin()
	r := newRepair(u, a, newScheduler(ctx, u.opts.Parallelism))
	defer a.Commit()

	r.resumeInterrupted()
	for _, p := range params {
		r.cutout(p)
	}
	if doomed := sorted(r.doomed); len(doomed) > 0 {
		args := &RevokedModulesArgs{Graph: a.graph, Modules: doomed}
		if err := u.Hooks.RevokedModules.Call(args); err != nil {
			return fmt.Errorf("revoked modules hook: %w", err)
		}
	}

	r.sched.drain(r.dispatch)
	if len(r.candidates) > 0 {
		r.sched.push(&cleanTask{modules: sorted(r.candidates)})
		r.sched.drain(r.dispatch)
		r.sweep()
	}
	if r.err != nil {
		r.interrupt()
	}
	r.fixBuildMeta()
	a.hasModuleGraphChange = r.graphChanged()

	u.logger.Debug("update finished",
		zap.Int("params", len(params)),
		zap.Int("tasks", r.sched.count),
		zap.Int("built", len(a.built)),
		zap.Int("revoked", len(a.revoked)),
		zap.Bool("graphChanged", a.hasModuleGraphChange))
	return r.err
}

func contentHash(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}
