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

package loader

import (
	"context"
	"fmt"
	"path"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/graph"
)

const importsQuery = `
(import_statement source: (string (string_fragment) @import.spec))
(export_statement source: (string (string_fragment) @reexport.spec))
(call_expression
  function: (import)
  arguments: (arguments (string (string_fragment) @dynamicImport.spec)))
`

type grammar struct {
	language *ts.Language
	parsers  sync.Pool

	once  sync.Once
	query *ts.Query
	err   error
}

func newGrammar(name string, lang *ts.Language) *grammar {
	g := &grammar{language: lang}
	g.parsers.New = func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(lang); err != nil {
			panic("failed to set " + name + " language: " + err.Error())
		}
		return parser
	}
	return g
}

func (g *grammar) getParser() *ts.Parser {
	return g.parsers.Get().(*ts.Parser)
}

func (g *grammar) putParser(p *ts.Parser) {
	p.Reset()
	g.parsers.Put(p)
}

func (g *grammar) imports() (*ts.Query, error) {
	g.once.Do(func() {
		q, qerr := ts.NewQuery(g.language, importsQuery)
		if qerr != nil {
			g.err = fmt.Errorf("failed to parse imports query: %w", qerr)
			return
		}
		g.query = q
	})
	return g.query, g.err
}

// Grammars are shared by every JavaScript loader.
var grammars = struct {
	typescript *grammar
	tsx        *grammar
}{
	newGrammar("TypeScript", ts.NewLanguage(tsTypescript.LanguageTypescript())),
	newGrammar("TSX", ts.NewLanguage(tsTypescript.LanguageTSX())),
}

// JavaScript extracts imports from JavaScript and TypeScript modules with
// tree-sitter. Content passes through unchanged.
type JavaScript struct{}

// NewJavaScript creates a JavaScript loader.
func NewJavaScript() *JavaScript {
	return &JavaScript{}
}

// Load implements Loader.
func (l *JavaScript) Load(ctx context.Context, resource string, content []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := grammars.typescript
	switch path.Ext(resource) {
	case ".jsx", ".tsx":
		g = grammars.tsx
	}

	query, err := g.imports()
	if err != nil {
		return nil, err
	}

	parser := g.getParser()
	defer g.putParser(parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s", resource)
	}
	defer tree.Close()
	root := tree.RootNode()

	result := &Result{
		Content:    content,
		SourceType: graph.SourceTypeJavaScript,
		ESM:        isESM(root),
		Async:      hasTopLevelAwait(root),
	}

	if root.HasError() {
		d := diagnostic.Errorf(diagnostic.KindBuild, resource, "syntax error")
		if n := firstError(root); n != nil {
			d = d.WithLine(int(n.StartPosition().Row) + 1)
		}
		result.Diagnostics = append(result.Diagnostics, d)
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	matches := cursor.Matches(query, root, content)
	captureNames := query.CaptureNames()
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		for _, capture := range match.Captures {
			imp := Import{
				Specifier: capture.Node.Utf8Text(content),
				Line:      int(capture.Node.StartPosition().Row) + 1,
				Start:     uint32(capture.Node.StartByte()),
				End:       uint32(capture.Node.EndByte()),
			}
			switch captureNames[capture.Index] {
			case "import.spec":
				imp.Kind = ImportStatic
			case "reexport.spec":
				imp.Kind = ImportReexport
			case "dynamicImport.spec":
				imp.Kind = ImportDynamic
			default:
				continue
			}
			result.Imports = append(result.Imports, imp)
		}
	}
	return result, nil
}

func isESM(root *ts.Node) bool {
	for i := range root.ChildCount() {
		switch root.Child(i).Kind() {
		case "import_statement", "export_statement":
			return true
		}
	}
	return false
}

// Kinds that start a new function scope; await inside them is not top-level.
var functionKinds = map[string]bool{
	"function_declaration":           true,
	"function_expression":            true,
	"generator_function_declaration": true,
	"generator_function":             true,
	"arrow_function":                 true,
	"method_definition":              true,
	"class_body":                     true,
}

func hasTopLevelAwait(n *ts.Node) bool {
	switch {
	case functionKinds[n.Kind()]:
		return false
	case n.Kind() == "await_expression":
		return true
	case n.Kind() == "for_in_statement":
		for i := range n.ChildCount() {
			if n.Child(i).Kind() == "await" {
				return true
			}
		}
	}
	for i := range n.ChildCount() {
		if hasTopLevelAwait(n.Child(i)) {
			return true
		}
	}
	return false
}

func firstError(n *ts.Node) *ts.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := range n.ChildCount() {
		if found := firstError(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
