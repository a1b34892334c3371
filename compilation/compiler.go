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

package compilation

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache"
	"bennypowers.dev/fardel/chunk"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/hook"
	"bennypowers.dev/fardel/loader"
	"bennypowers.dev/fardel/packagejson"
	"bennypowers.dev/fardel/resolve"
	"bennypowers.dev/fardel/updater"
	"bennypowers.dev/fardel/watch"
)

// Compiler runs compilations for one configuration. Compilations are
// serialized; it is safe to call Build and Rebuild from several goroutines.
type Compiler struct {
	fs       fs.FileSystem
	opts     Options
	slot     *updater.Slot
	cache    cache.Cache
	packages *packagejson.MemoryCache
	updater  *updater.Updater
	splitter *chunk.Splitter

	generator codegen.Generator
	renderer  codegen.Renderer
	logger    *zap.Logger

	Hooks Hooks

	mu         sync.Mutex
	chunkGraph *chunk.ChunkGraph
	entrySig   string
	// unchunkedMakes counts module graph updates since the last chunk pass.
	unchunkedMakes int
	emitted        map[string]uint64
}

// New creates a compiler and opens its cache.
func New(ctx context.Context, fsys fs.FileSystem, opts Options, logger *zap.Logger) (*Compiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !path.IsAbs(opts.Context) {
		return nil, fmt.Errorf("context %q is not an absolute path", opts.Context)
	}
	opts = opts.withDefaults()

	loaders := loader.NewRegistry()
	for _, rule := range opts.Loaders {
		if err := loaders.Add(rule.Test, rule.Loader); err != nil {
			return nil, err
		}
	}

	// the id allocator starts at zero; a persistent cache moves it past the
	// ids it restores
	ids := graph.NewIDAllocator()
	c, err := cache.Open(ctx, fsys, ids, opts.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	packages := packagejson.NewMemoryCache()
	resolver := resolve.New(fsys, opts.Resolve).WithPackageCache(packages)
	u := updater.New(fsys, c.WrapResolver(resolver), loaders, ids, updater.Options{
		Parallelism:     opts.Parallelism,
		Bail:            opts.Bail,
		LazyCompilation: opts.LazyCompilation,
		Logger:          logger,
	})

	compiler := &Compiler{
		fs:        fsys,
		opts:      opts,
		slot:      updater.NewSlot(nil),
		cache:     c,
		packages:  packages,
		updater:   u,
		splitter:  chunk.NewSplitter(chunk.Options{Incremental: opts.Incremental, Logger: logger}),
		generator: c.WrapGenerator(opts.Generator),
		renderer:  c.WrapRenderer(opts.Renderer),
		logger:    logger.Named("compiler"),
		Hooks:     newHooks(u),
	}
	compiler.Hooks.FinishModules.TapStage("InferAsyncModules", hook.StageEarly, func(comp *Compilation) error {
		if n := inferAsync(comp.ModuleGraph()); n > 0 {
			comp.logger.Debug("async modules changed", zap.Int("modules", n))
		}
		return nil
	})
	return compiler, nil
}

// Build compiles, letting the cache work out what changed since the last
// compilation.
func (c *Compiler) Build(ctx context.Context) (*Stats, error) {
	return c.compile(ctx, nil, false)
}

// Rebuild compiles after the given files changed.
func (c *Compiler) Rebuild(ctx context.Context, modified, removed []string) (*Stats, error) {
	for _, p := range slices.Concat(modified, removed) {
		if path.Base(p) == "package.json" {
			c.packages.Invalidate(p)
		}
	}
	var params []updater.UpdateParam
	if len(modified) > 0 {
		params = append(params, updater.ModifiedFiles(modified...))
	}
	if len(removed) > 0 {
		params = append(params, updater.RemovedFiles(removed...))
	}
	return c.compile(ctx, params, true)
}

// Unlazy compiles after building the given lazy dependencies.
func (c *Compiler) Unlazy(ctx context.Context, deps ...graph.DependencyID) (*Stats, error) {
	return c.compile(ctx, []updater.UpdateParam{updater.UnlazyDependencies(deps...)}, true)
}

// Watch builds, then rebuilds for every batch of changes, calling report
// after each compilation. It returns nil once batches is closed and the
// context's error once ctx is done.
func (c *Compiler) Watch(ctx context.Context, batches <-chan watch.Batch, report func(*Stats, error)) error {
	report(c.Build(ctx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			if b.Empty() {
				continue
			}
			c.logger.Debug("files changed",
				zap.Int("modified", len(b.Modified)),
				zap.Int("removed", len(b.Removed)))
			stats, err := c.Rebuild(ctx, b.Modified, b.Removed)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report(stats, err)
		}
	}
}

// Artifact returns the artifact of the last compilation. Nil before the
// first one.
func (c *Compiler) Artifact() *updater.Artifact {
	return c.slot.Read()
}

// Close closes the cache.
func (c *Compiler) Close() error {
	return c.cache.Close()
}

func (c *Compiler) compile(ctx context.Context, params []updater.UpdateParam, knownChanges bool) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	comp := newCompilation(ctx, uuid.NewString(), c.logger)
	if err := c.makeModules(comp, params, knownChanges); err != nil {
		return nil, fmt.Errorf("make: %w", err)
	}
	passes := []struct {
		name string
		run  func(*Compilation) error
	}{
		{"finish modules", c.finishModules},
		{"seal", c.seal},
		{"build chunk graph", c.buildChunkGraph},
		{"code generation", c.codeGeneration},
		{"render", c.render},
		{"process assets", c.processAssets},
	}
	for _, p := range passes {
		if err := p.run(comp); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	written, err := c.emit(comp)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	if err := c.cache.AfterCompile(ctx); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	stats := c.stats(comp, written, time.Since(start))
	comp.logger.Debug("compilation finished",
		zap.Duration("duration", stats.Duration),
		zap.Int("modules", stats.Modules),
		zap.Int("built", stats.BuiltModules),
		zap.Int("chunks", stats.Chunks),
		zap.Int("emitted", len(written)))
	if err := c.Hooks.Done.Call(stats); err != nil {
		return stats, fmt.Errorf("done hook: %w", err)
	}
	return stats, nil
}
