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
	"testing"

	"github.com/stretchr/testify/assert"

	"bennypowers.dev/fardel/graph"
)

func TestVerifyPanicsOnBrokenGraphs(t *testing.T) {
	mg := graph.NewModuleGraph()
	mg.AddModule(graph.NewNormalModule("/a.js"))
	mg.AddModule(graph.NewNormalModule("/b.js"))
	dep := &graph.Dependency{ID: 0, Type: graph.DependencyEsmImport, Request: "./b.js", Parent: "/a.js"}
	mg.AddDependency(dep)
	mg.Module("/a.js").Dependencies = []graph.DependencyID{0}
	if err := mg.SetResolvedModule(0, "/b.js"); err != nil {
		t.Fatal(err)
	}

	s := NewSplitter(Options{})
	s.mg = mg
	s.names = []string{"main"}
	s.entries = map[string][]graph.ModuleIdentifier{"main": {"/a.js"}}

	t.Run("unknown module", func(t *testing.T) {
		cg := newChunkGraph()
		g := cg.addGroup(GroupEntrypoint, "main", []graph.ModuleIdentifier{"/a.js"})
		cg.addChunk(g, "0", "main", []graph.ModuleIdentifier{"/a.js", "/b.js", "/gone.js"})
		assert.PanicsWithValue(t, "chunk: chunk 0 references unknown module /gone.js", func() { s.Verify(cg) })
	})

	t.Run("reachable module without chunk", func(t *testing.T) {
		cg := newChunkGraph()
		g := cg.addGroup(GroupEntrypoint, "main", []graph.ModuleIdentifier{"/a.js"})
		cg.addChunk(g, "0", "main", []graph.ModuleIdentifier{"/a.js"})
		assert.PanicsWithValue(t, "chunk: reachable module /b.js is in no chunk", func() { s.Verify(cg) })
	})

	t.Run("async group without parent", func(t *testing.T) {
		cg := newChunkGraph()
		g := cg.addGroup(GroupEntrypoint, "main", []graph.ModuleIdentifier{"/a.js"})
		cg.addChunk(g, "0", "main", []graph.ModuleIdentifier{"/a.js", "/b.js"})
		async := cg.addGroup(GroupAsync, "", []graph.ModuleIdentifier{"/b.js"})
		cg.addChunk(async, "1", "", []graph.ModuleIdentifier{"/b.js"})
		assert.PanicsWithValue(t, "chunk: async group for /b.js has no parent", func() { s.Verify(cg) })
	})

	t.Run("consistent", func(t *testing.T) {
		cg := newChunkGraph()
		g := cg.addGroup(GroupEntrypoint, "main", []graph.ModuleIdentifier{"/a.js"})
		cg.addChunk(g, "0", "main", []graph.ModuleIdentifier{"/a.js", "/b.js"})
		assert.NotPanics(t, func() { s.Verify(cg) })
	})
}
