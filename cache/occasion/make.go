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

package occasion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache/codec"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/storage"
	"bennypowers.dev/fardel/updater"
)

const metaKey = "meta"

// makeMeta is the artifact state not owned by any module.
type makeMeta struct {
	Entries           map[string][]graph.DependencyID `json:"entries"`
	EntryDependencies []*graph.Dependency             `json:"entryDependencies,omitempty"`
	EntryConnections  []graph.Connection              `json:"entryConnections,omitempty"`
	Unlazied          []string                        `json:"unlazied,omitempty"`
	NextDependencyID  graph.DependencyID              `json:"nextDependencyId"`
}

// moduleRecord is one module with the dependencies it declares.
type moduleRecord struct {
	Module       *graph.Module       `json:"module"`
	Dependencies []*graph.Dependency `json:"dependencies,omitempty"`
	Connections  []graph.Connection  `json:"connections,omitempty"`
}

// Make persists the module graph artifact between processes. Only modules
// touched by the last update are written.
type Make struct {
	st      storage.Storage
	meta    Store[makeMeta]
	modules Store[moduleRecord]
	logger  *zap.Logger
	// synced is set once storage holds exactly the artifact's modules.
	synced bool
}

// NewMake creates a make occasion.
func NewMake(st storage.Storage, logger *zap.Logger) *Make {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("make")
	return &Make{
		st:      st,
		meta:    NewStorageStore[makeMeta](st, ScopeMakeMeta, logger),
		modules: NewStorageStore[moduleRecord](st, ScopeMakeModules, logger),
		logger:  logger,
	}
}

// Save writes the modules a's last update changed, removes revoked ones, and
// records the entries and the next dependency id. The first save of a
// process that did not recover also removes records of modules no longer in
// the graph.
func (o *Make) Save(ctx context.Context, a *updater.Artifact, ids *graph.IDAllocator) {
	g := a.Graph()
	if !o.synced {
		o.removeStale(ctx, g)
	}
	for _, id := range a.RevokedModules() {
		o.modules.Remove(string(id))
	}
	for _, id := range a.DirtyModules() {
		m := g.Module(id)
		if m == nil {
			continue
		}
		rec := moduleRecord{Module: m.Clone()}
		for _, dep := range m.Dependencies {
			rec.Dependencies = append(rec.Dependencies, g.Dependency(dep).Clone())
			if c := g.ConnectionByDependency(dep); c != nil {
				rec.Connections = append(rec.Connections, *c)
			}
		}
		o.modules.Set(string(id), rec)
	}

	meta := makeMeta{
		Entries:          a.Entries(),
		Unlazied:         a.Unlazied(),
		NextDependencyID: ids.Peek(),
	}
	for _, dep := range a.EntryDependencies() {
		meta.EntryDependencies = append(meta.EntryDependencies, g.Dependency(dep).Clone())
		if c := g.ConnectionByDependency(dep); c != nil {
			meta.EntryConnections = append(meta.EntryConnections, *c)
		}
	}
	o.meta.Set(metaKey, meta)
	o.synced = true
}

func (o *Make) removeStale(ctx context.Context, g *graph.ModuleGraph) {
	items, err := o.st.Load(ctx, ScopeMakeModules)
	if err != nil {
		o.logger.Warn("failed to list cached modules", zap.Error(err))
		return
	}
	for _, item := range items {
		if !g.HasModule(graph.ModuleIdentifier(item.Key)) {
			o.modules.Remove(string(item.Key))
		}
	}
}

// Recover rebuilds the artifact saved by an earlier process. It returns nil
// without error when nothing was saved. The allocator is advanced past every
// recovered dependency id.
func (o *Make) Recover(ctx context.Context, ids *graph.IDAllocator) (*updater.Artifact, error) {
	meta, ok := o.meta.Get(ctx, metaKey)
	if !ok {
		return nil, nil
	}
	items, err := o.st.Load(ctx, ScopeMakeModules)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached modules: %w", err)
	}

	data := graph.Data{
		Dependencies: meta.EntryDependencies,
		Connections:  meta.EntryConnections,
	}
	for _, item := range items {
		rec, err := codec.Decode[moduleRecord](item.Value)
		if err != nil {
			return nil, fmt.Errorf("cached module %s is unreadable: %w", item.Key, err)
		}
		if rec.Module == nil {
			return nil, fmt.Errorf("cached module %s is empty", item.Key)
		}
		data.Modules = append(data.Modules, rec.Module)
		data.Dependencies = append(data.Dependencies, rec.Dependencies...)
		data.Connections = append(data.Connections, rec.Connections...)
	}
	g, err := graph.FromData(data)
	if err != nil {
		return nil, fmt.Errorf("cached module graph is inconsistent: %w", err)
	}

	next := meta.NextDependencyID
	if last, ok := g.MaxDependencyID(); ok && last+1 > next {
		next = last + 1
	}
	ids.Restore(next)
	o.synced = true

	o.logger.Debug("recovered module graph",
		zap.Int("modules", g.ModuleCount()),
		zap.Int("dependencies", g.DependencyCount()),
		zap.Uint32("nextDependencyId", uint32(next)))
	return updater.RestoreArtifact(g, meta.Entries, meta.Unlazied, updater.StateDone), nil
}
