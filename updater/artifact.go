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

// Package updater applies batches of changes to a module graph artifact.
//
// An update runs in three steps. Cutout maps the requested changes to the
// dependencies and modules that must be re-entered. The revoked-modules hook
// is notified of modules whose current state is about to be discarded. Repair
// then drains a task queue that resolves, builds and connects modules until
// the graph is consistent, and finally revokes modules nothing depends on.
package updater

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/graph"
)

// State is the lifecycle state of an Artifact.
type State int

const (
	StateUninitialized State = iota
	// StateInitialized means an update is in flight. It is the only state in
	// which the artifact may be mutated.
	StateInitialized
	// StateDone means the artifact is consistent and safe to read.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateDone:
		return "done"
	}
	return "uninitialized"
}

type set[K comparable] map[K]struct{}

func (s set[K]) add(k K) { s[k] = struct{}{} }

func (s set[K]) has(k K) bool {
	_, ok := s[k]
	return ok
}

func sorted[K cmp.Ordered](s set[K]) []K {
	return slices.Sorted(maps.Keys(s))
}

// Artifact is the module graph plus the indexes an update maintains.
type Artifact struct {
	state State
	graph *graph.ModuleGraph

	entries    map[string][]graph.DependencyID
	entryIndex map[string]graph.DependencyID
	unlazied   set[string]

	failedDependencies set[graph.DependencyID]
	failedModules      set[graph.ModuleIdentifier]
	lazyDependencies   set[graph.DependencyID]

	built   set[graph.ModuleIdentifier]
	revoked set[graph.ModuleIdentifier]
	dirty   set[graph.ModuleIdentifier]

	hasModuleGraphChange bool
}

// NewArtifact returns an empty, uninitialized artifact.
func NewArtifact() *Artifact {
	return RestoreArtifact(graph.NewModuleGraph(), nil, nil, StateUninitialized)
}

// RestoreArtifact rebuilds an artifact around a graph loaded from a cache.
// Failed and lazy dependency indexes are recomputed from the graph.
// unlazied lists the lazy dependencies that were requested, by
// UnlazyKey.
func RestoreArtifact(g *graph.ModuleGraph, entries map[string][]graph.DependencyID, unlazied []string, state State) *Artifact {
	a := &Artifact{
		state:      state,
		graph:      g,
		entries:    make(map[string][]graph.DependencyID),
		entryIndex: make(map[string]graph.DependencyID),
		unlazied:   make(set[string]),
		built:      make(set[graph.ModuleIdentifier]),
		revoked:    make(set[graph.ModuleIdentifier]),
		dirty:      make(set[graph.ModuleIdentifier]),
	}
	for name, deps := range entries {
		for _, id := range deps {
			if d := g.Dependency(id); d != nil {
				a.entries[name] = append(a.entries[name], id)
				a.entryIndex[entryKey(name, d.Request, d.Context)] = id
			}
		}
	}
	for _, k := range unlazied {
		a.unlazied.add(k)
	}
	a.reindex()
	return a
}

func entryKey(name, request, context string) string {
	return name + "\x00" + request + "\x00" + context
}

// UnlazyKey identifies a lazy dependency across rebuilds of its parent.
func UnlazyKey(parent graph.ModuleIdentifier, request string) string {
	return string(parent) + "\x00" + request
}

// reindex recomputes the failed and lazy dependency sets from the graph.
func (a *Artifact) reindex() {
	a.failedDependencies = make(set[graph.DependencyID])
	a.failedModules = make(set[graph.ModuleIdentifier])
	a.lazyDependencies = make(set[graph.DependencyID])
	for _, id := range a.graph.Dependencies() {
		d := a.graph.Dependency(id)
		if d.FactorizeInfo.Failed() {
			a.failedDependencies.add(id)
		}
		if d.Lazy && a.graph.ConnectionByDependency(id) == nil {
			a.lazyDependencies.add(id)
		}
	}
	for _, id := range a.graph.Modules() {
		if a.graph.Module(id).HasErrors() {
			a.failedModules.add(id)
		}
	}
}

// State returns the lifecycle state.
func (a *Artifact) State() State { return a.state }

func (a *Artifact) mustRead() {
	if a.state == StateInitialized {
		panic("updater: artifact read while an update is in flight")
	}
}

func (a *Artifact) mustMutate() {
	if a.state != StateInitialized {
		panic(fmt.Sprintf("updater: artifact mutated in state %s", a.state))
	}
}

// Begin moves the artifact to StateInitialized and clears the per-update
// sets. It panics if an update is already in flight.
func (a *Artifact) Begin() {
	if a.state == StateInitialized {
		panic("updater: update already in flight")
	}
	a.state = StateInitialized
	clear(a.built)
	clear(a.revoked)
	clear(a.dirty)
	a.hasModuleGraphChange = false
}

// Commit moves the artifact to StateDone.
func (a *Artifact) Commit() {
	a.mustMutate()
	a.reindex()
	a.state = StateDone
}

// Graph returns the module graph. It panics while an update is in flight.
func (a *Artifact) Graph() *graph.ModuleGraph {
	a.mustRead()
	return a.graph
}

// Entries returns a copy of the entry dependencies by entry name.
func (a *Artifact) Entries() map[string][]graph.DependencyID {
	a.mustRead()
	out := make(map[string][]graph.DependencyID, len(a.entries))
	for name, deps := range a.entries {
		out[name] = slices.Clone(deps)
	}
	return out
}

// EntryNames returns entry names in sorted order.
func (a *Artifact) EntryNames() []string {
	a.mustRead()
	return slices.Sorted(maps.Keys(a.entries))
}

// EntryDependencies returns every entry dependency id in ascending order.
func (a *Artifact) EntryDependencies() []graph.DependencyID {
	a.mustRead()
	var out []graph.DependencyID
	for _, deps := range a.entries {
		out = append(out, deps...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Unlazied returns the keys of lazy dependencies that were requested.
func (a *Artifact) Unlazied() []string {
	a.mustRead()
	return sorted(a.unlazied)
}

// FailedDependencies returns dependencies whose resolution failed.
func (a *Artifact) FailedDependencies() []graph.DependencyID {
	a.mustRead()
	return sorted(a.failedDependencies)
}

// FailedModules returns modules whose last build failed.
func (a *Artifact) FailedModules() []graph.ModuleIdentifier {
	a.mustRead()
	return sorted(a.failedModules)
}

// LazyDependencies returns dependencies deferred until requested.
func (a *Artifact) LazyDependencies() []graph.DependencyID {
	a.mustRead()
	return sorted(a.lazyDependencies)
}

// BuiltModules returns modules built by the last update.
func (a *Artifact) BuiltModules() []graph.ModuleIdentifier {
	a.mustRead()
	return sorted(a.built)
}

// RevokedModules returns modules removed by the last update.
func (a *Artifact) RevokedModules() []graph.ModuleIdentifier {
	a.mustRead()
	return sorted(a.revoked)
}

// DirtyModules returns modules whose stored form changed in the last update:
// built modules and modules with a dependency resolved differently.
func (a *Artifact) DirtyModules() []graph.ModuleIdentifier {
	a.mustRead()
	return sorted(a.dirty)
}

// HasModuleGraphChange reports whether the last update changed the module
// set, the entries, or the ordered outgoing connections of any module.
func (a *Artifact) HasModuleGraphChange() bool {
	a.mustRead()
	return a.hasModuleGraphChange
}

// Diagnostics collects the diagnostics of every dependency and module,
// dependencies first, in id order.
func (a *Artifact) Diagnostics() diagnostic.List {
	a.mustRead()
	var out diagnostic.List
	for _, id := range a.graph.Dependencies() {
		if info := a.graph.Dependency(id).FactorizeInfo; info != nil {
			out = append(out, info.Diagnostics...)
		}
	}
	for _, id := range a.graph.Modules() {
		out = append(out, a.graph.Module(id).Diagnostics...)
	}
	return out
}
