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

	"bennypowers.dev/fardel/codegen"
)

// Codegen caches generated module code. Keys cover everything generation
// reads, so entries never need validation.
type Codegen struct {
	store Store[codegen.ModuleCode]
	counters
}

// NewCodegen creates a code generation occasion.
func NewCodegen(store Store[codegen.ModuleCode]) *Codegen {
	return &Codegen{store: store}
}

// Stats returns lookup counts.
func (o *Codegen) Stats() Stats { return o.stats() }

// Wrap returns a generator answering from the cache.
func (o *Codegen) Wrap(next codegen.Generator) codegen.Generator {
	return &cachedGenerator{occasion: o, next: next}
}

type cachedGenerator struct {
	occasion *Codegen
	next     codegen.Generator
}

func (g *cachedGenerator) Generate(ctx context.Context, in codegen.ModuleInput) (codegen.ModuleCode, error) {
	key := in.Key()
	if code, ok := g.occasion.store.Get(ctx, key); ok {
		g.occasion.record(true)
		return code, nil
	}
	g.occasion.record(false)
	code, err := g.next.Generate(ctx, in)
	if err != nil {
		return code, err
	}
	g.occasion.store.Set(key, code)
	return code, nil
}

// ChunkRender caches rendered chunks by chunk name and content hash.
type ChunkRender struct {
	store Store[[]byte]
	counters
}

// NewChunkRender creates a chunk render occasion.
func NewChunkRender(store Store[[]byte]) *ChunkRender {
	return &ChunkRender{store: store}
}

// Stats returns lookup counts.
func (o *ChunkRender) Stats() Stats { return o.stats() }

// Wrap returns a renderer answering from the cache.
func (o *ChunkRender) Wrap(next codegen.Renderer) codegen.Renderer {
	return &cachedRenderer{occasion: o, next: next}
}

type cachedRenderer struct {
	occasion *ChunkRender
	next     codegen.Renderer
}

func (r *cachedRenderer) Render(ctx context.Context, in codegen.ChunkInput) ([]byte, error) {
	key := in.Key()
	if out, ok := r.occasion.store.Get(ctx, key); ok {
		r.occasion.record(true)
		return out, nil
	}
	r.occasion.record(false)
	out, err := r.next.Render(ctx, in)
	if err != nil {
		return nil, err
	}
	r.occasion.store.Set(key, out)
	return out, nil
}
