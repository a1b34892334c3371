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

package codegen

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/encoding/json"

	"bennypowers.dev/fardel/graph"
)

// Runtime defines the module registry used by generated chunks.
const Runtime = `var __fardel__ = globalThis.__fardel__ || (globalThis.__fardel__ = (function () {
  var defs = {}, externals = {}, chunks = {};
  return {
    define: function (id, meta, source) { defs[id] = { meta: meta, source: source }; },
    external: function (id, request) { externals[id] = request; },
    chunk: function (id) { chunks[id] = true; },
    source: function (id) { var d = defs[id]; return d ? d.source : undefined; },
    start: function (ids) {
      ids.forEach(function (id) {
        var d = defs[id];
        if (d) import(URL.createObjectURL(new Blob([d.source], { type: "text/javascript" })));
      });
    }
  };
})());
`

// ChunkInput is everything needed to render one chunk.
type ChunkInput struct {
	ID      string
	Name    string
	Entry   bool
	Modules []ModuleCode
	// Start lists the entry modules run when the chunk loads.
	Start []graph.ModuleIdentifier
}

// Hash digests the rendered content of the chunk.
func (in ChunkInput) Hash() string {
	h := xxhash.New()
	fmt.Fprintf(h, "%s\n%s\n%t\n", in.ID, in.Name, in.Entry)
	for _, m := range in.Modules {
		fmt.Fprintf(h, "%s\n%s\n", m.Identifier, m.Code)
	}
	for _, id := range in.Start {
		fmt.Fprintf(h, "start %s\n", id)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Key identifies the rendered output of the chunk.
func (in ChunkInput) Key() string {
	name := in.Name
	if name == "" {
		name = in.ID
	}
	return name + "|" + in.Hash()
}

// Renderer renders chunks. Implementations must be safe for concurrent use.
type Renderer interface {
	Render(ctx context.Context, in ChunkInput) ([]byte, error)
}

// DefaultRenderer is the built-in Renderer. Its output records modules and
// chunk membership in the shape a real runtime would consume, but it is a
// structural placeholder: module bodies keep their raw import specifiers and
// no chunk loading is emitted, so the chunks do not execute.
type DefaultRenderer struct{}

// Render implements Renderer.
func (DefaultRenderer) Render(ctx context.Context, in ChunkInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "/* fardel chunk %s */\n", in.ID)
	if in.Entry {
		b.WriteString(Runtime)
	}
	id, err := json.Marshal(in.ID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "__fardel__.chunk(%s);\n", id)
	for _, m := range in.Modules {
		b.WriteString(m.Code)
	}
	if len(in.Start) > 0 {
		ids := make([]string, len(in.Start))
		for i, s := range in.Start {
			ids[i] = string(s)
		}
		start, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "__fardel__.start(%s);\n", start)
	}
	return []byte(b.String()), nil
}
