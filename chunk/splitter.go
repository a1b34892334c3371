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

package chunk

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/graph"
)

// Input is a finished module graph with its entries. *updater.Artifact
// satisfies it.
type Input interface {
	Graph() *graph.ModuleGraph
	EntryNames() []string
	Entries() map[string][]graph.DependencyID
	DirtyModules() []graph.ModuleIdentifier
	RevokedModules() []graph.ModuleIdentifier
	HasModuleGraphChange() bool
}

// Options configures a Splitter.
type Options struct {
	// Incremental keeps group state between builds and recomputes only the
	// groups a module graph change can affect.
	Incremental bool
	Logger      *zap.Logger
}

type moduleSet = map[graph.ModuleIdentifier]struct{}

// groupInfo is the working state of one chunk group.
type groupInfo struct {
	key string
	// entry is the entry name, empty for async groups.
	entry  string
	target graph.ModuleIdentifier
	roots  []graph.ModuleIdentifier

	parents  map[string]struct{}
	children map[string]struct{}

	// available holds modules loaded on every path into the group. It is
	// only meaningful once processed.
	available moduleSet
	modules   moduleSet
	processed bool
}

func newGroupInfo(key, entry string, target graph.ModuleIdentifier, roots []graph.ModuleIdentifier) *groupInfo {
	return &groupInfo{
		key:      key,
		entry:    entry,
		target:   target,
		roots:    roots,
		parents:  make(map[string]struct{}),
		children: make(map[string]struct{}),
	}
}

func entryKey(name string) string                { return "entry\x00" + name }
func asyncKey(target graph.ModuleIdentifier) string { return "async\x00" + string(target) }

// Splitter builds chunk graphs. It is not safe for concurrent use.
//
// A module is placed in a group's chunk unless it is available in that group:
// loaded by every parent group, directly or through the parent's own
// ancestors. Available sets start unconstrained and only shrink as parents
// are discovered, so the traversal settles on the largest consistent sets
// whatever order groups are visited in.
type Splitter struct {
	opts   Options
	logger *zap.Logger

	mg      *graph.ModuleGraph
	names   []string
	entries map[string][]graph.ModuleIdentifier

	infos  map[string]*groupInfo
	queue  []string
	queued map[string]struct{}
	// visits counts group recomputations in the current run.
	visits int

	last *ChunkGraph
}

// NewSplitter creates a splitter without state.
func NewSplitter(opts Options) *Splitter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{
		opts:   opts,
		logger: logger.Named("chunk"),
		infos:  make(map[string]*groupInfo),
		queued: make(map[string]struct{}),
	}
}

// Prepare records the module graph and entry modules of in. Group state from
// an earlier run is kept.
func (s *Splitter) Prepare(in Input) {
	s.mg = in.Graph()
	s.names = in.EntryNames()
	s.entries = make(map[string][]graph.ModuleIdentifier, len(s.names))
	deps := in.Entries()
	for _, name := range s.names {
		var roots []graph.ModuleIdentifier
		for _, dep := range deps[name] {
			if c := s.mg.ConnectionByDependency(dep); c != nil && !slices.Contains(roots, c.Module) {
				roots = append(roots, c.Module)
			}
		}
		s.entries[name] = roots
	}
	s.queue = s.queue[:0]
	clear(s.queued)
	s.visits = 0
}

// PrepareEntries creates an entrypoint group per entry, in entry-name order.
// Entrypoints whose modules changed since the last run are invalidated along
// with their descendants, and entrypoints of removed entries are dropped.
func (s *Splitter) PrepareEntries() {
	var stale []string
	for _, info := range s.infos {
		if info.entry == "" {
			continue
		}
		roots, ok := s.entries[info.entry]
		if !ok || !slices.Equal(roots, info.roots) {
			stale = append(stale, info.key)
		}
	}
	s.invalidate(stale)

	for _, key := range stale {
		info := s.infos[key]
		if _, ok := s.entries[info.entry]; !ok {
			s.drop(info)
		}
	}
	for _, name := range s.names {
		key := entryKey(name)
		info := s.infos[key]
		if info == nil {
			info = newGroupInfo(key, name, "", nil)
			s.infos[key] = info
		}
		info.roots = s.entries[name]
	}
	for _, key := range s.orderedKeys() {
		if !s.infos[key].processed {
			s.enqueue(key)
		}
	}
}

// Split assigns modules to groups, following dynamic imports into new async
// groups, until no group's available set changes.
func (s *Splitter) Split() {
	for len(s.queue) > 0 {
		key := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, key)

		info := s.infos[key]
		if info == nil {
			continue
		}
		available, ok := s.availableFor(info)
		if !ok {
			continue
		}
		if info.processed && maps.Equal(available, info.available) {
			continue
		}
		s.visits++
		info.available = available
		modules, targets := s.walk(info.roots, available)
		info.modules = modules
		info.processed = true

		for _, target := range targets {
			ck := asyncKey(target)
			if ck == key {
				continue
			}
			child := s.infos[ck]
			if child == nil {
				child = newGroupInfo(ck, "", target, []graph.ModuleIdentifier{target})
				s.infos[ck] = child
			}
			info.children[ck] = struct{}{}
			child.parents[key] = struct{}{}
		}
		for _, ck := range slices.Sorted(maps.Keys(info.children)) {
			s.enqueue(ck)
		}
	}
}

// availableFor intersects what each processed parent has loaded. It reports
// false when no parent has been processed yet.
func (s *Splitter) availableFor(info *groupInfo) (moduleSet, bool) {
	if info.entry != "" {
		return moduleSet{}, true
	}
	var out moduleSet
	for _, pk := range slices.Sorted(maps.Keys(info.parents)) {
		p := s.infos[pk]
		if p == nil || !p.processed {
			continue
		}
		if out == nil {
			out = make(moduleSet, len(p.available)+len(p.modules))
			maps.Copy(out, p.available)
			maps.Copy(out, p.modules)
			continue
		}
		maps.DeleteFunc(out, func(m graph.ModuleIdentifier, _ struct{}) bool {
			_, inAvailable := p.available[m]
			_, inModules := p.modules[m]
			return !inAvailable && !inModules
		})
	}
	return out, out != nil
}

// walk collects the modules reachable from roots through synchronous
// connections, stopping at available modules. It also returns the targets of
// dynamic imports found on the way, in discovery order.
func (s *Splitter) walk(roots []graph.ModuleIdentifier, available moduleSet) (moduleSet, []graph.ModuleIdentifier) {
	modules := make(moduleSet)
	var targets []graph.ModuleIdentifier
	seenTarget := make(moduleSet)

	var visit func(id graph.ModuleIdentifier)
	visit = func(id graph.ModuleIdentifier) {
		if _, ok := available[id]; ok {
			return
		}
		if _, ok := modules[id]; ok {
			return
		}
		modules[id] = struct{}{}
		for _, c := range s.mg.OutgoingConnections(id) {
			if s.mg.Dependency(c.Dependency).Type.IsAsync() {
				if _, ok := seenTarget[c.Module]; !ok {
					seenTarget[c.Module] = struct{}{}
					targets = append(targets, c.Module)
				}
				continue
			}
			visit(c.Module)
		}
	}
	for _, r := range roots {
		if s.mg.HasModule(r) {
			visit(r)
		}
	}
	return modules, targets
}

// RemoveOrphan drops async groups nothing imports any more. Async groups
// whose modules are all available stay in the working state so later runs
// keep their parent links, but produce no chunk.
func (s *Splitter) RemoveOrphan() int {
	removed := 0
	for changed := true; changed; {
		changed = false
		for _, key := range slices.Sorted(maps.Keys(s.infos)) {
			info := s.infos[key]
			if info.entry != "" || (len(info.parents) > 0 && info.processed) {
				continue
			}
			s.drop(info)
			removed++
			changed = true
		}
	}
	return removed
}

func (s *Splitter) drop(info *groupInfo) {
	for pk := range info.parents {
		if p := s.infos[pk]; p != nil {
			delete(p.children, info.key)
		}
	}
	for ck := range info.children {
		if c := s.infos[ck]; c != nil {
			delete(c.parents, info.key)
		}
	}
	delete(s.infos, info.key)
}

// invalidate resets keys and every group reachable from them through
// dynamic imports. Links from reset groups are removed; they are found
// again when the group is recomputed.
func (s *Splitter) invalidate(keys []string) {
	closure := make(map[string]struct{})
	pending := slices.Clone(keys)
	for len(pending) > 0 {
		key := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, ok := closure[key]; ok {
			continue
		}
		info := s.infos[key]
		if info == nil {
			continue
		}
		closure[key] = struct{}{}
		pending = append(pending, slices.Collect(maps.Keys(info.children))...)
	}
	for key := range closure {
		info := s.infos[key]
		for ck := range info.children {
			if c := s.infos[ck]; c != nil {
				delete(c.parents, key)
			}
		}
		clear(info.children)
		info.available = nil
		info.modules = nil
		info.processed = false
	}
}

func (s *Splitter) enqueue(key string) {
	if _, ok := s.queued[key]; ok {
		return
	}
	s.queued[key] = struct{}{}
	s.queue = append(s.queue, key)
}

// orderedKeys lists entrypoints by name, then async groups by target.
func (s *Splitter) orderedKeys() []string {
	infos := slices.Collect(maps.Values(s.infos))
	slices.SortFunc(infos, func(a, b *groupInfo) int {
		if (a.entry == "") != (b.entry == "") {
			if a.entry != "" {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(a.entry, b.entry), cmp.Compare(a.target, b.target))
	})
	keys := make([]string, len(infos))
	for i, info := range infos {
		keys[i] = info.key
	}
	return keys
}

// materialize builds a ChunkGraph from the working state. Chunk ids follow
// orderedKeys, so equal states give equal graphs.
func (s *Splitter) materialize() *ChunkGraph {
	cg := newChunkGraph()
	ukeys := make(map[string]GroupUkey)
	keys := s.orderedKeys()
	for _, key := range keys {
		info := s.infos[key]
		if info.entry == "" && len(info.modules) == 0 {
			continue
		}
		var g *ChunkGroup
		if info.entry != "" {
			g = cg.addGroup(GroupEntrypoint, info.entry, info.roots)
		} else {
			g = cg.addGroup(GroupAsync, "", info.roots)
		}
		ukeys[key] = g.Ukey
		modules := slices.Sorted(maps.Keys(info.modules))
		cg.addChunk(g, strconv.Itoa(len(cg.chunks)), info.entry, modules)
	}
	for _, key := range keys {
		parent, ok := ukeys[key]
		if !ok {
			continue
		}
		children := slices.Collect(maps.Keys(s.infos[key].children))
		slices.SortFunc(children, func(a, b string) int {
			return cmp.Compare(s.infos[a].target, s.infos[b].target)
		})
		for _, ck := range children {
			if child, ok := ukeys[ck]; ok {
				cg.connectGroups(parent, child)
			}
		}
	}
	return cg
}

// Verify panics when cg breaks a chunk graph invariant: every chunk belongs
// to a group, every async group has a parent, chunks only hold modules of the
// module graph, and every module reachable from an entry is in some chunk.
func (s *Splitter) Verify(cg *ChunkGraph) {
	for _, c := range cg.chunks {
		if len(c.Groups) == 0 {
			panic(fmt.Sprintf("chunk: chunk %s belongs to no chunk group", c.ID))
		}
		for _, m := range cg.chunkModules[c.Ukey] {
			if !s.mg.HasModule(m) {
				panic(fmt.Sprintf("chunk: chunk %s references unknown module %s", c.ID, m))
			}
		}
	}
	for _, g := range cg.groups {
		if !g.IsEntrypoint() && len(g.Parents) == 0 {
			panic(fmt.Sprintf("chunk: async group for %s has no parent", g.Roots[0]))
		}
	}

	seen := make(moduleSet)
	var stack []graph.ModuleIdentifier
	for _, name := range s.names {
		stack = append(stack, s.entries[name]...)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok || !s.mg.HasModule(id) {
			continue
		}
		seen[id] = struct{}{}
		if len(cg.moduleChunks[id]) == 0 {
			panic(fmt.Sprintf("chunk: reachable module %s is in no chunk", id))
		}
		stack = append(stack, s.mg.AllDependedModules(id)...)
	}
}

// Build splits in from scratch.
func (s *Splitter) Build(in Input) *ChunkGraph {
	clear(s.infos)
	return s.run(in, false)
}

// UpdateWithCompilation returns the chunk graph for in. The previous graph is
// returned as is when the module graph did not change shape. Without the
// Incremental option, or without earlier state, it builds from scratch;
// otherwise only groups holding changed modules, and their descendants, are
// recomputed.
func (s *Splitter) UpdateWithCompilation(in Input) *ChunkGraph {
	if s.last != nil && !in.HasModuleGraphChange() {
		s.logger.Debug("reusing chunk graph")
		return s.last
	}
	if !s.opts.Incremental || len(s.infos) == 0 {
		return s.Build(in)
	}

	changed := make(moduleSet)
	for _, id := range in.DirtyModules() {
		changed[id] = struct{}{}
	}
	for _, id := range in.RevokedModules() {
		changed[id] = struct{}{}
	}
	mg := in.Graph()
	var affected []string
	for key, info := range s.infos {
		if info.entry == "" && !mg.HasModule(info.target) {
			affected = append(affected, key)
			continue
		}
		for m := range info.modules {
			if _, ok := changed[m]; ok {
				affected = append(affected, key)
				break
			}
		}
	}
	s.invalidate(affected)
	return s.run(in, true)
}

func (s *Splitter) run(in Input, incremental bool) *ChunkGraph {
	s.Prepare(in)
	s.PrepareEntries()
	s.Split()
	removed := s.RemoveOrphan()
	cg := s.materialize()
	s.Verify(cg)
	s.last = cg

	s.logger.Debug("chunk graph built",
		zap.Bool("incremental", incremental),
		zap.Int("chunks", cg.ChunkCount()),
		zap.Int("groups", cg.GroupCount()),
		zap.Int("recomputed", s.visits),
		zap.Int("removed", removed))
	return cg
}

// Describe renders cg as text, one line per group with its chunk's modules
// and its children. Equal chunk graphs describe equally.
func Describe(cg *ChunkGraph) string {
	var b strings.Builder
	for _, g := range cg.groups {
		label := g.Name
		if !g.IsEntrypoint() {
			label = string(g.Roots[0])
		}
		fmt.Fprintf(&b, "%s %s\n", g.Kind, label)
		for _, cu := range g.Chunks {
			c := cg.chunks[cu]
			fmt.Fprintf(&b, "  chunk %s %v\n", c.ID, cg.chunkModules[cu])
		}
		for _, child := range g.Children {
			fmt.Fprintf(&b, "  -> %v\n", cg.groups[child].Roots)
		}
	}
	return b.String()
}
