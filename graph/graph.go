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

package graph

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// Connection resolves one dependency to one module.
type Connection struct {
	Dependency DependencyID `json:"dependency"`
	// Origin is the declaring module, empty for entry dependencies.
	Origin ModuleIdentifier `json:"origin,omitempty"`
	Module ModuleIdentifier `json:"module"`
}

// ModuleGraph holds modules, dependencies and connections. Links are stored
// as ids and looked up through the graph; nothing holds a pointer to another
// node. A ModuleGraph is not safe for concurrent mutation.
type ModuleGraph struct {
	modules      map[ModuleIdentifier]*Module
	dependencies map[DependencyID]*Dependency
	connections  map[DependencyID]*Connection
	incoming     map[ModuleIdentifier]map[DependencyID]struct{}
}

// NewModuleGraph creates an empty graph.
func NewModuleGraph() *ModuleGraph {
	return &ModuleGraph{
		modules:      make(map[ModuleIdentifier]*Module),
		dependencies: make(map[DependencyID]*Dependency),
		connections:  make(map[DependencyID]*Connection),
		incoming:     make(map[ModuleIdentifier]map[DependencyID]struct{}),
	}
}

// AddModule inserts m, replacing any module with the same identifier while
// keeping its incoming connections.
func (g *ModuleGraph) AddModule(m *Module) {
	g.modules[m.Identifier] = m
	if _, ok := g.incoming[m.Identifier]; !ok {
		g.incoming[m.Identifier] = make(map[DependencyID]struct{})
	}
}

// Module returns the module with id, or nil.
func (g *ModuleGraph) Module(id ModuleIdentifier) *Module {
	return g.modules[id]
}

// HasModule reports whether id is in the graph.
func (g *ModuleGraph) HasModule(id ModuleIdentifier) bool {
	_, ok := g.modules[id]
	return ok
}

// Modules returns all module identifiers in sorted order.
func (g *ModuleGraph) Modules() []ModuleIdentifier {
	return slices.Sorted(maps.Keys(g.modules))
}

// ModuleCount returns the number of modules.
func (g *ModuleGraph) ModuleCount() int {
	return len(g.modules)
}

// AddDependency inserts d. If d has a parent, the parent must list d.ID.
func (g *ModuleGraph) AddDependency(d *Dependency) {
	g.dependencies[d.ID] = d
}

// Dependency returns the dependency with id, or nil.
func (g *ModuleGraph) Dependency(id DependencyID) *Dependency {
	return g.dependencies[id]
}

// Dependencies returns all dependency ids in ascending order.
func (g *ModuleGraph) Dependencies() []DependencyID {
	return slices.Sorted(maps.Keys(g.dependencies))
}

// DependencyCount returns the number of dependencies.
func (g *ModuleGraph) DependencyCount() int {
	return len(g.dependencies)
}

// SetResolvedModule connects dependency dep to module, replacing any previous
// connection of dep.
func (g *ModuleGraph) SetResolvedModule(dep DependencyID, module ModuleIdentifier) error {
	d, ok := g.dependencies[dep]
	if !ok {
		return fmt.Errorf("dependency %d is not in the graph", dep)
	}
	if _, ok := g.modules[module]; !ok {
		return fmt.Errorf("module %q is not in the graph", module)
	}
	g.RemoveConnection(dep)
	g.connections[dep] = &Connection{Dependency: dep, Origin: d.Parent, Module: module}
	g.incoming[module][dep] = struct{}{}
	return nil
}

// ConnectionByDependency returns the connection of dep, or nil.
func (g *ModuleGraph) ConnectionByDependency(dep DependencyID) *Connection {
	return g.connections[dep]
}

// ModuleByDependency returns the module dep resolves to, or nil.
func (g *ModuleGraph) ModuleByDependency(dep DependencyID) *Module {
	if c := g.connections[dep]; c != nil {
		return g.modules[c.Module]
	}
	return nil
}

// IncomingConnections returns connections targeting id, ordered by dependency id.
func (g *ModuleGraph) IncomingConnections(id ModuleIdentifier) []*Connection {
	deps := slices.Sorted(maps.Keys(g.incoming[id]))
	conns := make([]*Connection, 0, len(deps))
	for _, dep := range deps {
		conns = append(conns, g.connections[dep])
	}
	return conns
}

// IncomingCount returns the number of connections targeting id.
func (g *ModuleGraph) IncomingCount(id ModuleIdentifier) int {
	return len(g.incoming[id])
}

// OutgoingConnections returns connections of id's dependencies in source order.
// Unresolved dependencies are skipped.
func (g *ModuleGraph) OutgoingConnections(id ModuleIdentifier) []*Connection {
	m := g.modules[id]
	if m == nil {
		return nil
	}
	var conns []*Connection
	for _, dep := range m.Dependencies {
		if c := g.connections[dep]; c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

// AllDependedModules returns the distinct targets of id's dependencies in
// source order.
func (g *ModuleGraph) AllDependedModules(id ModuleIdentifier) []ModuleIdentifier {
	var out []ModuleIdentifier
	seen := make(map[ModuleIdentifier]struct{})
	for _, c := range g.OutgoingConnections(id) {
		if _, ok := seen[c.Module]; ok {
			continue
		}
		seen[c.Module] = struct{}{}
		out = append(out, c.Module)
	}
	return out
}

// RemoveConnection disconnects dep and returns the module it pointed to.
func (g *ModuleGraph) RemoveConnection(dep DependencyID) (ModuleIdentifier, bool) {
	c, ok := g.connections[dep]
	if !ok {
		return "", false
	}
	delete(g.connections, dep)
	delete(g.incoming[c.Module], dep)
	return c.Module, true
}

// RemoveDependency removes dep, its connection, and its entry in the parent's
// dependency list. It returns the module dep pointed to, if any.
func (g *ModuleGraph) RemoveDependency(dep DependencyID) (ModuleIdentifier, bool) {
	d, ok := g.dependencies[dep]
	if !ok {
		return "", false
	}
	target, connected := g.RemoveConnection(dep)
	delete(g.dependencies, dep)
	if parent := g.modules[d.Parent]; parent != nil {
		parent.Dependencies = slices.DeleteFunc(parent.Dependencies, func(id DependencyID) bool {
			return id == dep
		})
	}
	return target, connected
}

// RevokeModule removes a module that nothing depends on, along with its
// outgoing dependencies. It returns the distinct modules those dependencies
// pointed to, which may now be unreferenced. Modules with incoming connections
// are not removed and ok is false.
func (g *ModuleGraph) RevokeModule(id ModuleIdentifier) (dependents []ModuleIdentifier, ok bool) {
	m, exists := g.modules[id]
	if !exists || len(g.incoming[id]) > 0 {
		return nil, false
	}
	seen := make(map[ModuleIdentifier]struct{})
	for _, dep := range slices.Clone(m.Dependencies) {
		if target, connected := g.RemoveDependency(dep); connected && target != id {
			seen[target] = struct{}{}
		}
	}
	delete(g.modules, id)
	delete(g.incoming, id)
	return slices.Sorted(maps.Keys(seen)), true
}

// SetAsync marks a module as asynchronous.
func (g *ModuleGraph) SetAsync(id ModuleIdentifier, async bool) {
	if m := g.modules[id]; m != nil {
		m.BuildMeta.Async = async
	}
}

// IsAsync reports whether id is asynchronous.
func (g *ModuleGraph) IsAsync(id ModuleIdentifier) bool {
	if m := g.modules[id]; m != nil {
		return m.BuildMeta.Async
	}
	return false
}

// Clone returns a deep copy of the graph.
func (g *ModuleGraph) Clone() *ModuleGraph {
	c, err := FromData(g.Data())
	if err != nil {
		panic(fmt.Sprintf("graph: clone of a consistent graph failed: %v", err))
	}
	return c
}

// Data is a flat, serializable form of a module graph.
type Data struct {
	Modules      []*Module     `json:"modules"`
	Dependencies []*Dependency `json:"dependencies"`
	Connections  []Connection  `json:"connections"`
}

// Data returns a deep copy of the graph as Data, sorted by id.
func (g *ModuleGraph) Data() Data {
	var d Data
	for _, id := range g.Modules() {
		d.Modules = append(d.Modules, g.modules[id].Clone())
	}
	for _, id := range g.Dependencies() {
		d.Dependencies = append(d.Dependencies, g.dependencies[id].Clone())
		if c := g.connections[id]; c != nil {
			d.Connections = append(d.Connections, *c)
		}
	}
	return d
}

// FromData rebuilds a graph. It fails when a connection refers to an unknown
// dependency or module.
func FromData(d Data) (*ModuleGraph, error) {
	g := NewModuleGraph()
	for _, m := range d.Modules {
		g.AddModule(m)
	}
	for _, dep := range d.Dependencies {
		g.AddDependency(dep)
	}
	conns := slices.Clone(d.Connections)
	slices.SortFunc(conns, func(a, b Connection) int { return cmp.Compare(a.Dependency, b.Dependency) })
	for _, c := range conns {
		if err := g.SetResolvedModule(c.Dependency, c.Module); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// MaxDependencyID returns the largest dependency id in the graph and whether
// the graph has any dependency.
func (g *ModuleGraph) MaxDependencyID() (DependencyID, bool) {
	if len(g.dependencies) == 0 {
		return 0, false
	}
	return slices.Max(slices.Collect(maps.Keys(g.dependencies))), true
}
