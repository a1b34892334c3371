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

// Package codegen renders modules and chunks to JavaScript.
//
// Each module is emitted as a registration call carrying its source with
// import specifiers rewritten to module identifiers. Chunks concatenate
// module registrations; entry chunks also carry the runtime and start their
// entry modules.
package codegen

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/encoding/json"

	"bennypowers.dev/fardel/graph"
)

// Replacement rewrites Source[Start:End] to Text.
type Replacement struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
	Text  string `json:"text"`
}

// ModuleInput is everything needed to generate one module.
type ModuleInput struct {
	Identifier   graph.ModuleIdentifier
	Hash         string
	Source       []byte
	BuildMeta    graph.BuildMeta
	External     bool
	Request      string
	Replacements []Replacement
}

// NewModuleInput collects the input for module id from mg. Each resolved
// dependency with a span rewrites its specifier to the target identifier.
func NewModuleInput(mg *graph.ModuleGraph, id graph.ModuleIdentifier) ModuleInput {
	m := mg.Module(id)
	in := ModuleInput{
		Identifier: id,
		Hash:       m.BuildInfo.Hash,
		Source:     m.Source,
		BuildMeta:  m.BuildMeta,
		External:   m.External,
		Request:    m.Request,
	}
	for _, c := range mg.OutgoingConnections(id) {
		dep := mg.Dependency(c.Dependency)
		if dep.Span.End <= dep.Span.Start || int(dep.Span.End) > len(m.Source) {
			continue
		}
		in.Replacements = append(in.Replacements, Replacement{
			Start: dep.Span.Start,
			End:   dep.Span.End,
			Text:  string(c.Module),
		})
	}
	slices.SortFunc(in.Replacements, func(a, b Replacement) int { return cmp.Compare(a.Start, b.Start) })
	return in
}

// Key identifies the generated output: the same key always generates the
// same code.
func (in ModuleInput) Key() string {
	h := xxhash.New()
	for _, r := range in.Replacements {
		fmt.Fprintf(h, "%d:%d:%s\n", r.Start, r.End, r.Text)
	}
	fmt.Fprintf(h, "%t:%t", in.BuildMeta.ESM, in.BuildMeta.Async)
	return string(in.Identifier) + "|" + in.Hash + "|" + strconv.FormatUint(h.Sum64(), 16)
}

// ModuleCode is the JavaScript generated for one module.
type ModuleCode struct {
	Identifier graph.ModuleIdentifier `json:"identifier"`
	Code       string                 `json:"code"`
}

// Generator generates module code. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, in ModuleInput) (ModuleCode, error)
}

// DefaultGenerator is the built-in Generator.
type DefaultGenerator struct{}

// Generate implements Generator.
func (DefaultGenerator) Generate(ctx context.Context, in ModuleInput) (ModuleCode, error) {
	if err := ctx.Err(); err != nil {
		return ModuleCode{}, err
	}
	id, err := json.Marshal(string(in.Identifier))
	if err != nil {
		return ModuleCode{}, err
	}
	if in.External {
		request, err := json.Marshal(in.Request)
		if err != nil {
			return ModuleCode{}, err
		}
		return ModuleCode{
			Identifier: in.Identifier,
			Code:       fmt.Sprintf("__fardel__.external(%s, %s);\n", id, request),
		}, nil
	}

	source, err := rewrite(in.Source, in.Replacements)
	if err != nil {
		return ModuleCode{}, fmt.Errorf("failed to generate %s: %w", in.Identifier, err)
	}
	body, err := json.Marshal(string(source))
	if err != nil {
		return ModuleCode{}, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "/* %s */\n", in.Identifier)
	fmt.Fprintf(&b, "__fardel__.define(%s, {esm: %t, async: %t}, %s);\n", id, in.BuildMeta.ESM, in.BuildMeta.Async, body)
	return ModuleCode{Identifier: in.Identifier, Code: b.String()}, nil
}

func rewrite(source []byte, replacements []Replacement) ([]byte, error) {
	var out bytes.Buffer
	var pos uint32
	for _, r := range replacements {
		if r.Start < pos || int(r.End) > len(source) {
			return nil, fmt.Errorf("overlapping replacement at %d", r.Start)
		}
		out.Write(source[pos:r.Start])
		out.WriteString(r.Text)
		pos = r.End
	}
	out.Write(source[pos:])
	return out.Bytes(), nil
}
