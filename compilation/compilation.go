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

// Package compilation runs the compilation pipeline: make, finish modules,
// seal, chunk graph, code generation, render, process assets and emit.
//
// A Compiler owns everything that outlives one compilation: the artifact slot,
// the dependency id allocator, the cache and the chunk splitter state. Each
// Build or Rebuild creates a Compilation that the hooks see.
package compilation

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/chunk"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/updater"
)

// Asset is an output file.
type Asset struct {
	Name   string
	Source []byte
	// Chunk is the chunk the asset was rendered from. Nil for assets added
	// by hooks.
	Chunk *chunk.Chunk
}

// Compilation is one run of the pipeline.
type Compilation struct {
	// ID is unique per compilation.
	ID string

	ctx         context.Context
	artifact    *updater.Artifact
	chunkGraph  *chunk.ChunkGraph
	reused      bool
	codes       map[graph.ModuleIdentifier]codegen.ModuleCode
	assets      map[string]*Asset
	diagnostics diagnostic.List
	logger      *zap.Logger
}

func newCompilation(ctx context.Context, id string, logger *zap.Logger) *Compilation {
	return &Compilation{
		ID:     id,
		ctx:    ctx,
		codes:  make(map[graph.ModuleIdentifier]codegen.ModuleCode),
		assets: make(map[string]*Asset),
		logger: logger.With(zap.String("compilation", id)),
	}
}

// Context returns the context the compilation runs under.
func (c *Compilation) Context() context.Context { return c.ctx }

// Artifact returns the module graph artifact. Nil before make.
func (c *Compilation) Artifact() *updater.Artifact { return c.artifact }

// ModuleGraph returns the module graph. Nil before make.
func (c *Compilation) ModuleGraph() *graph.ModuleGraph {
	if c.artifact == nil {
		return nil
	}
	return c.artifact.Graph()
}

// ChunkGraph returns the chunk graph. Nil before the chunk graph pass.
func (c *Compilation) ChunkGraph() *chunk.ChunkGraph { return c.chunkGraph }

// ModuleCode returns the generated code of id.
func (c *Compilation) ModuleCode(id graph.ModuleIdentifier) (codegen.ModuleCode, bool) {
	code, ok := c.codes[id]
	return code, ok
}

// Assets returns the assets sorted by name.
func (c *Compilation) Assets() []*Asset {
	names := slices.Sorted(maps.Keys(c.assets))
	assets := make([]*Asset, len(names))
	for i, name := range names {
		assets[i] = c.assets[name]
	}
	return assets
}

// Asset returns the asset called name.
func (c *Compilation) Asset(name string) (*Asset, bool) {
	a, ok := c.assets[name]
	return a, ok
}

// EmitAsset adds an asset. Two assets may not share a name.
func (c *Compilation) EmitAsset(name string, source []byte) error {
	return c.emitAsset(&Asset{Name: name, Source: source})
}

func (c *Compilation) emitAsset(a *Asset) error {
	if prev, ok := c.assets[a.Name]; ok {
		if prev.Chunk != nil && a.Chunk != nil {
			return fmt.Errorf("chunks %s and %s both emit %s", prev.Chunk.ID, a.Chunk.ID, a.Name)
		}
		return fmt.Errorf("asset %s already exists", a.Name)
	}
	c.assets[a.Name] = a
	return nil
}

// UpdateAsset replaces the source of an existing asset.
func (c *Compilation) UpdateAsset(name string, source []byte) error {
	a, ok := c.assets[name]
	if !ok {
		return fmt.Errorf("asset %s does not exist", name)
	}
	a.Source = source
	return nil
}

// DeleteAsset removes an asset so it is not emitted.
func (c *Compilation) DeleteAsset(name string) {
	delete(c.assets, name)
}

// AddDiagnostic records a diagnostic for the compilation's report.
func (c *Compilation) AddDiagnostic(d diagnostic.Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
}

// Diagnostics returns the module graph's diagnostics followed by those
// recorded by later passes.
func (c *Compilation) Diagnostics() diagnostic.List {
	var all diagnostic.List
	if c.artifact != nil {
		all = append(all, c.artifact.Diagnostics()...)
	}
	return append(all, c.diagnostics...)
}
