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

	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache/occasion"
	"bennypowers.dev/fardel/cache/snapshot"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/resolve"
	"bennypowers.dev/fardel/updater"
)

// DefaultMaxGenerations is how many compilations an unused memory entry
// survives.
const DefaultMaxGenerations = 1

// gcStore adapts a MemoryGCStorage to an occasion store.
type gcStore[V any] struct {
	*MemoryGCStorage[string, V]
}

func (s gcStore[V]) Get(_ context.Context, key string) (V, bool) {
	return s.MemoryGCStorage.Get(key)
}

func newGCStore[V any](maxGenerations uint32) gcStore[V] {
	return gcStore[V]{NewMemoryGCStorage[string, V](maxGenerations)}
}

// Memory keeps the artifact and step results for the life of the process.
// Entries unused for more than maxGenerations compilations are evicted.
type Memory struct {
	resolves *MemoryGCStorage[string, occasion.ResolveRecord]
	codes    *MemoryGCStorage[string, codegen.ModuleCode]
	renders  *MemoryGCStorage[string, []byte]

	resolve *occasion.Resolve
	codegen *occasion.Codegen
	render  *occasion.ChunkRender
	logger  *zap.Logger
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a memory cache. helper validates cached resolutions.
func NewMemory(helper *snapshot.Helper, maxGenerations uint32, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cache")
	resolves := newGCStore[occasion.ResolveRecord](maxGenerations)
	codes := newGCStore[codegen.ModuleCode](maxGenerations)
	renders := newGCStore[[]byte](maxGenerations)
	return &Memory{
		resolves: resolves.MemoryGCStorage,
		codes:    codes.MemoryGCStorage,
		renders:  renders.MemoryGCStorage,
		resolve:  occasion.NewResolve(resolves, helper, logger),
		codegen:  occasion.NewCodegen(codes),
		render:   occasion.NewChunkRender(renders),
		logger:   logger,
	}
}

func (c *Memory) BeforeMake(_ context.Context, current *updater.Artifact, knownChanges bool) (*updater.Artifact, []updater.UpdateParam, error) {
	a, params := reuse(current, knownChanges)
	return a, params, nil
}

func (c *Memory) AfterMake(context.Context, *updater.Artifact) error { return nil }

func (c *Memory) WrapResolver(r resolve.Resolver) resolve.Resolver { return c.resolve.Wrap(r) }
func (c *Memory) WrapGenerator(g codegen.Generator) codegen.Generator { return c.codegen.Wrap(g) }
func (c *Memory) WrapRenderer(r codegen.Renderer) codegen.Renderer { return c.render.Wrap(r) }

// AfterCompile starts the next generation of every store.
func (c *Memory) AfterCompile(context.Context) error {
	c.resolves.StartNextGeneration()
	c.codes.StartNextGeneration()
	c.renders.StartNextGeneration()
	c.logger.Debug("started next cache generation",
		zap.Int("resolve", c.resolves.Len()),
		zap.Int("codegen", c.codes.Len()),
		zap.Int("render", c.renders.Len()))
	return nil
}

func (c *Memory) Close() error { return nil }

// Stats returns the lookup counts of the resolve, codegen and render
// occasions.
func (c *Memory) Stats() map[string]occasion.Stats {
	return map[string]occasion.Stats{
		"resolve": c.resolve.Stats(),
		"codegen": c.codegen.Stats(),
		"render":  c.render.Stats(),
	}
}
