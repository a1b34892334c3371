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
	"maps"
	"path"
	"slices"
	"strings"

	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/loader"
	"bennypowers.dev/fardel/updater"
)

// entries expands the configured entries in name order. HTML requests are
// replaced by the document's external module scripts, resolved relative to
// the document; a src starting with / is relative to the context.
func (c *Compiler) entries() ([]updater.Entry, diagnostic.List) {
	var entries []updater.Entry
	var diags diagnostic.List
	for _, name := range slices.Sorted(maps.Keys(c.opts.Entry)) {
		for _, request := range c.opts.Entry[name] {
			if path.Ext(request) != ".html" {
				entries = append(entries, updater.Entry{Name: name, Request: request, Context: c.opts.Context})
				continue
			}
			doc := request
			if !path.IsAbs(doc) {
				doc = path.Join(c.opts.Context, doc)
			}
			content, err := c.fs.ReadFile(doc)
			if err != nil {
				diags = append(diags, diagnostic.Errorf(diagnostic.KindResolve, doc, "cannot read entry document: %v", err))
				continue
			}
			scripts, err := loader.ExtractModuleScripts(content)
			if err != nil {
				diags = append(diags, diagnostic.Errorf(diagnostic.KindBuild, doc, "cannot parse entry document: %v", err))
				continue
			}
			for _, s := range scripts {
				switch {
				case s.Src == "":
					// inline scripts have no module file to build
					continue
				case strings.HasPrefix(s.Src, "/"):
					entries = append(entries, updater.Entry{Name: name, Request: "." + s.Src, Context: c.opts.Context})
				case strings.HasPrefix(s.Src, "."):
					entries = append(entries, updater.Entry{Name: name, Request: s.Src, Context: path.Dir(doc)})
				default:
					entries = append(entries, updater.Entry{Name: name, Request: "./" + s.Src, Context: path.Dir(doc)})
				}
			}
		}
	}
	return entries, diags
}

// entrySignature identifies the entry modules of a, so the chunk pass can
// tell when entries moved without the module graph changing.
func entrySignature(a *updater.Artifact) string {
	mg := a.Graph()
	entries := a.Entries()
	var b strings.Builder
	for _, name := range a.EntryNames() {
		b.WriteString(name)
		for _, dep := range entries[name] {
			b.WriteByte(0)
			if m := mg.ModuleByDependency(dep); m != nil {
				b.WriteString(string(m.Identifier))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// inferAsync marks every module that statically imports an async module as
// async itself, seeded by the modules with top-level await and by failed
// modules whose last good build was async. Dynamic imports do not propagate. It returns how many modules changed.
func inferAsync(mg *graph.ModuleGraph) int {
	async := make(map[graph.ModuleIdentifier]bool)
	var queue []graph.ModuleIdentifier
	for _, id := range mg.Modules() {
		m := mg.Module(id)
		if m.BuildInfo.TopLevelAwait || (m.HasErrors() && m.BuildMeta.Async) {
			async[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, conn := range mg.IncomingConnections(id) {
			if conn.Origin == "" || async[conn.Origin] {
				continue
			}
			if mg.Dependency(conn.Dependency).Type.IsAsync() {
				continue
			}
			async[conn.Origin] = true
			queue = append(queue, conn.Origin)
		}
	}

	changed := 0
	for _, id := range mg.Modules() {
		if mg.IsAsync(id) != async[id] {
			mg.SetAsync(id, async[id])
			changed++
		}
	}
	return changed
}
