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

// Package chunk splits a module graph into chunks and chunk groups.
//
// Every entry gets an entrypoint group with one chunk holding the modules it
// reaches synchronously. Every dynamic import starts an async group, keyed by
// the imported module, whose chunk holds what the import needs that is not
// already loaded on every path into the group.
package chunk

import (
	"slices"

	"bennypowers.dev/fardel/graph"
)

// ChunkUkey indexes a chunk within one ChunkGraph.
type ChunkUkey int

// GroupUkey indexes a chunk group within one ChunkGraph.
type GroupUkey int

// GroupKind distinguishes entrypoints from groups loaded on demand.
type GroupKind int

const (
	GroupEntrypoint GroupKind = iota
	GroupAsync
)

func (k GroupKind) String() string {
	if k == GroupAsync {
		return "async"
	}
	return "entrypoint"
}

// Chunk is one output file's worth of modules.
type Chunk struct {
	Ukey ChunkUkey
	// ID is the canonical chunk id: entry chunks in entry-name order, then
	// async chunks in target-module order.
	ID string
	// Name is the entry name. Empty for async chunks.
	Name   string
	Groups []GroupUkey
}

// ChunkGroup is a set of chunks loaded together.
type ChunkGroup struct {
	Ukey GroupUkey
	Kind GroupKind
	// Name is the entry name of an entrypoint.
	Name string
	// Roots are the modules the group starts from: an entrypoint's entry
	// modules in request order, or an async group's imported module.
	Roots    []graph.ModuleIdentifier
	Chunks   []ChunkUkey
	Parents  []GroupUkey
	Children []GroupUkey
}

// IsEntrypoint reports whether g is an entrypoint.
func (g *ChunkGroup) IsEntrypoint() bool {
	return g.Kind == GroupEntrypoint
}

// ChunkGraph is the result of splitting. Chunks and groups refer to each
// other by index; a ChunkGraph is immutable once built.
type ChunkGraph struct {
	chunks       []*Chunk
	groups       []*ChunkGroup
	chunkModules [][]graph.ModuleIdentifier
	moduleChunks map[graph.ModuleIdentifier][]ChunkUkey
	namedChunks  map[string]ChunkUkey
	entrypoints  map[string]GroupUkey
	blockGroups  map[graph.ModuleIdentifier]GroupUkey
}

func newChunkGraph() *ChunkGraph {
	return &ChunkGraph{
		moduleChunks: make(map[graph.ModuleIdentifier][]ChunkUkey),
		namedChunks:  make(map[string]ChunkUkey),
		entrypoints:  make(map[string]GroupUkey),
		blockGroups:  make(map[graph.ModuleIdentifier]GroupUkey),
	}
}

func (cg *ChunkGraph) addGroup(kind GroupKind, name string, roots []graph.ModuleIdentifier) *ChunkGroup {
	g := &ChunkGroup{
		Ukey:  GroupUkey(len(cg.groups)),
		Kind:  kind,
		Name:  name,
		Roots: slices.Clone(roots),
	}
	cg.groups = append(cg.groups, g)
	switch kind {
	case GroupEntrypoint:
		cg.entrypoints[name] = g.Ukey
	case GroupAsync:
		cg.blockGroups[roots[0]] = g.Ukey
	}
	return g
}

func (cg *ChunkGraph) addChunk(g *ChunkGroup, id, name string, modules []graph.ModuleIdentifier) *Chunk {
	c := &Chunk{Ukey: ChunkUkey(len(cg.chunks)), ID: id, Name: name, Groups: []GroupUkey{g.Ukey}}
	cg.chunks = append(cg.chunks, c)
	cg.chunkModules = append(cg.chunkModules, slices.Clone(modules))
	g.Chunks = append(g.Chunks, c.Ukey)
	for _, m := range modules {
		cg.moduleChunks[m] = append(cg.moduleChunks[m], c.Ukey)
	}
	if name != "" {
		cg.namedChunks[name] = c.Ukey
	}
	return c
}

func (cg *ChunkGraph) connectGroups(parent, child GroupUkey) {
	p, c := cg.groups[parent], cg.groups[child]
	p.Children = append(p.Children, child)
	c.Parents = append(c.Parents, parent)
}

// Chunks returns every chunk in id order.
func (cg *ChunkGraph) Chunks() []*Chunk { return cg.chunks }

// Chunk returns the chunk with ukey u.
func (cg *ChunkGraph) Chunk(u ChunkUkey) *Chunk { return cg.chunks[u] }

// ChunkCount returns the number of chunks.
func (cg *ChunkGraph) ChunkCount() int { return len(cg.chunks) }

// Groups returns every chunk group, entrypoints first.
func (cg *ChunkGraph) Groups() []*ChunkGroup { return cg.groups }

// Group returns the group with ukey u.
func (cg *ChunkGraph) Group(u GroupUkey) *ChunkGroup { return cg.groups[u] }

// GroupCount returns the number of chunk groups.
func (cg *ChunkGraph) GroupCount() int { return len(cg.groups) }

// ChunkModules returns the modules of chunk u in identifier order.
func (cg *ChunkGraph) ChunkModules(u ChunkUkey) []graph.ModuleIdentifier {
	return cg.chunkModules[u]
}

// ModuleChunks returns the chunks that contain module id.
func (cg *ChunkGraph) ModuleChunks(id graph.ModuleIdentifier) []ChunkUkey {
	return cg.moduleChunks[id]
}

// IsModuleInChunk reports whether chunk u contains module id.
func (cg *ChunkGraph) IsModuleInChunk(id graph.ModuleIdentifier, u ChunkUkey) bool {
	return slices.Contains(cg.moduleChunks[id], u)
}

// NamedChunk returns the chunk named name.
func (cg *ChunkGraph) NamedChunk(name string) (*Chunk, bool) {
	u, ok := cg.namedChunks[name]
	if !ok {
		return nil, false
	}
	return cg.chunks[u], true
}

// Entrypoint returns the entrypoint group of entry name.
func (cg *ChunkGraph) Entrypoint(name string) (*ChunkGroup, bool) {
	u, ok := cg.entrypoints[name]
	if !ok {
		return nil, false
	}
	return cg.groups[u], true
}

// EntrypointNames returns entry names in sorted order.
func (cg *ChunkGraph) EntrypointNames() []string {
	var names []string
	for _, g := range cg.groups {
		if g.IsEntrypoint() {
			names = append(names, g.Name)
		}
	}
	return names
}

// BlockGroup returns the async group loaded by dynamic imports of target.
// There is none when target is available wherever it is imported.
func (cg *ChunkGraph) BlockGroup(target graph.ModuleIdentifier) (*ChunkGroup, bool) {
	u, ok := cg.blockGroups[target]
	if !ok {
		return nil, false
	}
	return cg.groups[u], true
}
