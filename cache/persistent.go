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

package cache

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache/occasion"
	"bennypowers.dev/fardel/cache/snapshot"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/resolve"
	"bennypowers.dev/fardel/storage"
	"bennypowers.dev/fardel/updater"
)

// Persistent stores the artifact and step results in a storage.Storage, so a
// new process resumes from the last build. A snapshot of every path the build
// read tells the recovered artifact what changed in between. Storage failures
// are logged and cost only the cached data.
type Persistent struct {
	st      storage.Storage
	helper  *snapshot.Helper
	ids     *graph.IDAllocator
	tracker *snapshot.Tracker

	make    *occasion.Make
	resolve *occasion.Resolve
	codegen *occasion.Codegen
	render  *occasion.ChunkRender
	logger  *zap.Logger

	// paths found changed on recovery, snapshotted again after make.
	modified []string
	deleted  []string
}

var _ Cache = (*Persistent)(nil)

// NewPersistent creates a persistent cache over st. ids is the compiler's
// dependency id allocator; recovery advances it past the stored ids.
func NewPersistent(st storage.Storage, helper *snapshot.Helper, ids *graph.IDAllocator, logger *zap.Logger) *Persistent {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cache")
	return &Persistent{
		st:      st,
		helper:  helper,
		ids:     ids,
		tracker: snapshot.NewTracker(helper, st, occasion.ScopeSnapshot),
		make:    occasion.NewMake(st, logger),
		resolve: occasion.NewResolve(occasion.NewStorageStore[occasion.ResolveRecord](st, occasion.ScopeResolve, logger), helper, logger),
		codegen: occasion.NewCodegen(occasion.NewStorageStore[codegen.ModuleCode](st, occasion.ScopeCodegen, logger)),
		render:  occasion.NewChunkRender(occasion.NewStorageStore[[]byte](st, occasion.ScopeChunkRender, logger)),
		logger:  logger,
	}
}

// BeforeMake recovers the stored artifact on the first build and turns the
// snapshot changes into ModifiedFiles and RemovedFiles params. A store that
// cannot be read gives a cold start.
func (c *Persistent) BeforeMake(ctx context.Context, current *updater.Artifact, knownChanges bool) (*updater.Artifact, []updater.UpdateParam, error) {
	c.helper.ResetVersions()
	if current != nil {
		a, params := reuse(current, knownChanges)
		return a, params, nil
	}

	a, err := c.make.Recover(ctx, c.ids)
	if err != nil {
		c.logger.Warn("discarding cached module graph", zap.Error(err))
		return updater.NewArtifact(), nil, nil
	}
	if a == nil {
		c.logger.Debug("no cached module graph")
		return updater.NewArtifact(), nil, nil
	}
	modified, deleted, err := c.tracker.Changes(ctx)
	if err != nil {
		c.logger.Warn("discarding cached module graph", zap.Error(err))
		return updater.NewArtifact(), nil, nil
	}
	c.modified, c.deleted = modified, deleted

	var params []updater.UpdateParam
	if len(modified) > 0 {
		params = append(params, updater.ModifiedFiles(modified...))
	}
	if len(deleted) > 0 {
		params = append(params, updater.RemovedFiles(deleted...))
	}
	c.logger.Debug("recovered module graph",
		zap.Int("modified", len(modified)),
		zap.Int("deleted", len(deleted)))
	return a, params, nil
}

// AfterMake stores the modules the update changed and snapshots the paths
// they read.
func (c *Persistent) AfterMake(ctx context.Context, a *updater.Artifact) error {
	c.make.Save(ctx, a, c.ids)

	g := a.Graph()
	var removed []string
	for _, id := range a.RevokedModules() {
		if !id.IsExternal() {
			removed = append(removed, string(id))
		}
	}
	removed = append(removed, c.deleted...)
	c.tracker.Remove(removed)

	paths := slices.Clone(c.modified)
	addDep := func(dep graph.DependencyID) {
		if info := g.Dependency(dep).FactorizeInfo; info != nil {
			paths = append(paths, info.FileDependencies...)
			paths = append(paths, info.MissingDependencies...)
		}
	}
	for _, id := range a.DirtyModules() {
		m := g.Module(id)
		if m == nil || m.External {
			continue
		}
		paths = append(paths, m.Resource)
		paths = append(paths, m.BuildInfo.FileDependencies...)
		paths = append(paths, m.BuildInfo.ContextDependencies...)
		paths = append(paths, m.BuildInfo.MissingDependencies...)
		for _, dep := range m.Dependencies {
			addDep(dep)
		}
	}
	for _, dep := range a.EntryDependencies() {
		addDep(dep)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)
	if err := c.tracker.Add(paths); err != nil {
		c.logger.Warn("failed to snapshot build inputs", zap.Error(err))
	}
	c.modified, c.deleted = nil, nil
	return nil
}

func (c *Persistent) WrapResolver(r resolve.Resolver) resolve.Resolver { return c.resolve.Wrap(r) }
func (c *Persistent) WrapGenerator(g codegen.Generator) codegen.Generator { return c.codegen.Wrap(g) }
func (c *Persistent) WrapRenderer(r codegen.Renderer) codegen.Renderer { return c.render.Wrap(r) }

// AfterCompile flushes the storage.
func (c *Persistent) AfterCompile(ctx context.Context) error {
	if err := c.st.Save(ctx); err != nil {
		c.logger.Warn("failed to save cache", zap.Error(err))
	}
	return nil
}

func (c *Persistent) Close() error {
	return c.st.Close()
}

// Stats returns the lookup counts of the resolve, codegen and render
// occasions.
func (c *Persistent) Stats() map[string]occasion.Stats {
	return map[string]occasion.Stats{
		"resolve": c.resolve.Stats(),
		"codegen": c.codegen.Stats(),
		"render":  c.render.Stats(),
	}
}
