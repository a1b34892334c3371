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

// Package loader turns a resource into compiled content plus the list of
// imports it makes.
package loader

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/graph"
)

// ImportKind classifies an import found in a module.
type ImportKind int

const (
	ImportStatic ImportKind = iota
	ImportDynamic
	ImportReexport
)

// DependencyType maps the kind to the graph dependency type.
func (k ImportKind) DependencyType() graph.DependencyType {
	switch k {
	case ImportDynamic:
		return graph.DependencyDynamicImport
	case ImportReexport:
		return graph.DependencyEsmReexport
	}
	return graph.DependencyEsmImport
}

// Import is an import specifier found in a module.
type Import struct {
	Specifier string
	Kind      ImportKind
	Line      int // 1-indexed
	Start     uint32
	End       uint32
}

// Span returns the import's location as a graph span.
func (i Import) Span() graph.Span {
	return graph.Span{Start: i.Start, End: i.End, Line: i.Line}
}

// Result is the output of a loader run.
type Result struct {
	Content     []byte
	Imports     []Import
	Diagnostics diagnostic.List
	// FileDependencies, ContextDependencies and MissingDependencies are the
	// paths, besides the resource itself, the result depends on.
	FileDependencies    []string
	ContextDependencies []string
	MissingDependencies []string
	ESM                 bool
	// Async reports top-level await.
	Async      bool
	SourceType graph.SourceType
}

// Loader loads one resource. Implementations must be safe for concurrent use.
type Loader interface {
	Load(ctx context.Context, resource string, content []byte) (*Result, error)
}

// Raw passes content through and reports no imports.
type Raw struct{}

// Load implements Loader.
func (Raw) Load(ctx context.Context, resource string, content []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Content: content, SourceType: graph.SourceTypeAsset}, nil
}

// Rule selects a loader for resources matching a glob.
type Rule struct {
	Test   string
	Loader Loader
}

// Registry picks a loader by the first matching rule.
type Registry struct {
	rules    []Rule
	fallback Loader
}

// NewRegistry creates a registry with the default JavaScript rules. Files not
// matched by any rule are loaded with Raw.
func NewRegistry() *Registry {
	js := NewJavaScript()
	return &Registry{
		rules: []Rule{
			{Test: "**/*.{js,mjs,cjs,jsx}", Loader: js},
			{Test: "**/*.{ts,mts,cts,tsx}", Loader: js},
		},
		fallback: Raw{},
	}
}

// Add prepends a rule so it takes priority over existing ones.
func (r *Registry) Add(test string, l Loader) error {
	if !doublestar.ValidatePattern(test) {
		return fmt.Errorf("invalid loader pattern %q", test)
	}
	r.rules = append([]Rule{{Test: test, Loader: l}}, r.rules...)
	return nil
}

// For returns the loader for resource.
func (r *Registry) For(resource string) Loader {
	p := strings.TrimPrefix(path.Clean(resource), "/")
	for _, rule := range r.rules {
		if ok, _ := doublestar.Match(rule.Test, p); ok {
			return rule.Loader
		}
	}
	return r.fallback
}

// Load implements Loader by delegating to the matching rule.
func (r *Registry) Load(ctx context.Context, resource string, content []byte) (*Result, error) {
	return r.For(resource).Load(ctx, resource, content)
}
