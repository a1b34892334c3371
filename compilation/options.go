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

package compilation

import (
	"cmp"
	"path"
	"runtime"

	"bennypowers.dev/fardel/cache"
	"bennypowers.dev/fardel/chunk"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/loader"
	"bennypowers.dev/fardel/resolve"
)

// DefaultOutputDir is the output directory, relative to the context, used
// when Output.Path is empty.
const DefaultOutputDir = "dist"

// Output configures where and how assets are written.
type Output struct {
	// Path is the directory assets are emitted to.
	Path string
	// Filename names entry chunks. See chunk.Filename for placeholders.
	Filename string
	// ChunkFilename names async chunks.
	ChunkFilename string
}

// Options configures a Compiler.
type Options struct {
	// Context is the absolute directory entry requests are resolved from.
	Context string
	// Entry maps entry names to their requests. A request ending in .html
	// expands to the document's module scripts.
	Entry  map[string][]string
	Output Output
	// Resolve configures the resolver. Root defaults to Context.
	Resolve resolve.Options
	// Loaders are extra loader rules, tried before the built-in ones.
	Loaders []loader.Rule

	Parallelism     int
	Bail            bool
	LazyCompilation bool
	// Incremental keeps the chunk splitter's state between builds and
	// recomputes only the chunk groups a change touches.
	Incremental bool
	Cache       cache.Options

	// Generator and Renderer replace the built-in code generation.
	Generator codegen.Generator
	Renderer  codegen.Renderer
}

func (o Options) withDefaults() Options {
	o.Output.Path = cmp.Or(o.Output.Path, path.Join(o.Context, DefaultOutputDir))
	if !path.IsAbs(o.Output.Path) {
		o.Output.Path = path.Join(o.Context, o.Output.Path)
	}
	o.Output.Filename = cmp.Or(o.Output.Filename, chunk.DefaultFilename)
	o.Output.ChunkFilename = cmp.Or(o.Output.ChunkFilename, chunk.DefaultChunkFilename)
	o.Resolve.Root = cmp.Or(o.Resolve.Root, o.Context)
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	if o.Generator == nil {
		o.Generator = codegen.DefaultGenerator{}
	}
	if o.Renderer == nil {
		o.Renderer = codegen.DefaultRenderer{}
	}
	return o
}
