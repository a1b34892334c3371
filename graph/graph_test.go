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

package graph_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/fardel/graph"
)

// link adds a dependency from parent to target and connects it.
func link(t *testing.T, g *graph.ModuleGraph, ids *graph.IDAllocator, parent, target graph.ModuleIdentifier, typ graph.DependencyType) graph.DependencyID {
	t.Helper()
	dep := &graph.Dependency{ID: ids.Next(), Type: typ, Request: string(target), Parent: parent}
	g.AddDependency(dep)
	if p := g.Module(parent); p != nil {
		p.Dependencies = append(p.Dependencies, dep.ID)
	}
	require.NoError(t, g.SetResolvedModule(dep.ID, target))
	return dep.ID
}

func newGraph(t *testing.T) (*graph.ModuleGraph, *graph.IDAllocator) {
	t.Helper()
	g := graph.NewModuleGraph()
	for _, id := range []string{"/a.js", "/b.js", "/c.js"} {
		g.AddModule(graph.NewNormalModule(id))
	}
	return g, graph.NewIDAllocator()
}

func TestConnectionsAreOrdered(t *testing.T) {
	g, ids := newGraph(t)
	entry := link(t, g, ids, "", "/a.js", graph.DependencyEntry)
	link(t, g, ids, "/a.js", "/c.js", graph.DependencyEsmImport)
	link(t, g, ids, "/a.js", "/b.js", graph.DependencyEsmImport)
	link(t, g, ids, "/a.js", "/c.js", graph.DependencyEsmReexport)

	assert.Equal(t, []graph.ModuleIdentifier{"/c.js", "/b.js"}, g.AllDependedModules("/a.js"))
	assert.Len(t, g.OutgoingConnections("/a.js"), 3)
	assert.Equal(t, 2, g.IncomingCount("/c.js"))
	assert.Equal(t, graph.ModuleIdentifier("/a.js"), g.ModuleByDependency(entry).Identifier)
	assert.Equal(t, graph.ModuleIdentifier(""), g.ConnectionByDependency(entry).Origin)
}

func TestSetResolvedModuleValidates(t *testing.T) {
	g, _ := newGraph(t)
	require.Error(t, g.SetResolvedModule(42, "/a.js"))

	g.AddDependency(&graph.Dependency{ID: 1, Request: "./missing"})
	require.Error(t, g.SetResolvedModule(1, "/missing.js"))
}

func TestRevokeModuleRefusesReferencedModule(t *testing.T) {
	g, ids := newGraph(t)
	link(t, g, ids, "", "/a.js", graph.DependencyEntry)
	link(t, g, ids, "/a.js", "/b.js", graph.DependencyEsmImport)

	_, ok := g.RevokeModule("/b.js")
	assert.False(t, ok)
	assert.True(t, g.HasModule("/b.js"))
}

func TestRevokeModuleReturnsDependents(t *testing.T) {
	g, ids := newGraph(t)
	link(t, g, ids, "/a.js", "/b.js", graph.DependencyEsmImport)
	link(t, g, ids, "/a.js", "/c.js", graph.DependencyDynamicImport)
	link(t, g, ids, "/b.js", "/c.js", graph.DependencyEsmImport)

	dependents, ok := g.RevokeModule("/a.js")
	require.True(t, ok)
	assert.Equal(t, []graph.ModuleIdentifier{"/b.js", "/c.js"}, dependents)
	assert.False(t, g.HasModule("/a.js"))
	assert.Equal(t, 0, g.IncomingCount("/b.js"))
	assert.Equal(t, 1, g.IncomingCount("/c.js"))
	assert.Equal(t, 1, g.DependencyCount())
}

func TestRemoveDependencyUpdatesParent(t *testing.T) {
	g, ids := newGraph(t)
	dep := link(t, g, ids, "/a.js", "/b.js", graph.DependencyEsmImport)

	target, ok := g.RemoveDependency(dep)
	require.True(t, ok)
	assert.Equal(t, graph.ModuleIdentifier("/b.js"), target)
	assert.Empty(t, g.Module("/a.js").Dependencies)
	assert.Nil(t, g.Dependency(dep))
}

func TestDataRoundTrip(t *testing.T) {
	g, ids := newGraph(t)
	link(t, g, ids, "", "/a.js", graph.DependencyEntry)
	link(t, g, ids, "/a.js", "/b.js", graph.DependencyEsmImport)
	link(t, g, ids, "/b.js", "/c.js", graph.DependencyDynamicImport)
	g.SetAsync("/c.js", true)

	clone := g.Clone()
	assert.Equal(t, g.Data(), clone.Data())

	// Mutating the clone leaves the original intact
	clone.Module("/a.js").Dependencies = nil
	assert.Len(t, g.Module("/a.js").Dependencies, 1)
	assert.True(t, clone.IsAsync("/c.js"))

	maxID, ok := g.MaxDependencyID()
	require.True(t, ok)
	assert.Equal(t, graph.DependencyID(2), maxID)
}

func TestIDAllocator(t *testing.T) {
	ids := graph.NewIDAllocator()
	assert.Equal(t, graph.DependencyID(0), ids.Next())
	assert.Equal(t, graph.DependencyID(1), ids.Next())

	ids.Restore(10)
	assert.Equal(t, graph.DependencyID(10), ids.Peek())
	ids.Restore(3)
	assert.Equal(t, graph.DependencyID(10), ids.Next())

	var wg sync.WaitGroup
	seen := sync.Map{}
	for range 8 {
		wg.Go(func() {
			for range 100 {
				_, dup := seen.LoadOrStore(ids.Next(), true)
				assert.False(t, dup)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, graph.DependencyID(811), ids.Peek())
}
