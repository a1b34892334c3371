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

// Package output prints compilation reports for the fardel CLI.
package output

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"bennypowers.dev/fardel/compilation"
	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/storage"
)

// Printer writes colored reports. Colors are off when NoColor is set.
type Printer struct {
	w       io.Writer
	noColor bool
}

// New creates a printer writing to w.
func New(w io.Writer, noColor bool) *Printer {
	return &Printer{w: w, noColor: noColor}
}

func (p *Printer) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.noColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

// Stats prints a summary of s followed by its diagnostics.
func (p *Printer) Stats(s *compilation.Stats) {
	header := p.color(color.FgGreen, color.Bold)
	status := "compiled"
	if s.HasErrors() {
		header = p.color(color.FgRed, color.Bold)
		status = "compiled with errors"
	}
	header.Fprintf(p.w, "%s in %s\n", status, s.Duration.Round(time.Millisecond))

	faint := p.color(color.Faint)
	width := 0
	for _, a := range s.Assets {
		width = max(width, len(a.Name))
	}
	for _, a := range s.Assets {
		fmt.Fprintf(p.w, "  %-*s  %8s", width, a.Name, Size(a.Size))
		if !a.Emitted {
			faint.Fprint(p.w, "  unchanged")
		}
		fmt.Fprintln(p.w)
	}

	fmt.Fprintf(p.w, "  %d modules (%d built, %d revoked), %d chunks", s.Modules, s.BuiltModules, s.RevokedModules, s.Chunks)
	if s.ChunkGraphReused {
		faint.Fprint(p.w, ", chunk graph reused")
	}
	fmt.Fprintln(p.w)
	if len(s.Cache) > 0 {
		var parts []string
		for _, name := range slices.Sorted(maps.Keys(s.Cache)) {
			c := s.Cache[name]
			parts = append(parts, fmt.Sprintf("%s %d/%d", name, c.Hits, c.Hits+c.Misses))
		}
		faint.Fprintf(p.w, "  cache hits: %s\n", strings.Join(parts, ", "))
	}
	p.Diagnostics(s.Diagnostics)
}

// Diagnostics prints errors before warnings.
func (p *Printer) Diagnostics(list diagnostic.List) {
	red := p.color(color.FgRed)
	yellow := p.color(color.FgYellow)
	for _, d := range list.Errors() {
		red.Fprintf(p.w, "✗ %s\n", d.Error())
	}
	for _, d := range list.Warnings() {
		yellow.Fprintf(p.w, "⚠ %s\n", d.Error())
	}
}

// Error prints a fatal error.
func (p *Printer) Error(err error) {
	p.color(color.FgRed, color.Bold).Fprintf(p.w, "✗ %v\n", err)
}

// CacheInfo prints one line per persisted storage scope.
func (p *Printer) CacheInfo(dir string, scopes []storage.ScopeInfo) {
	p.color(color.Bold).Fprintf(p.w, "%s\n", dir)
	if len(scopes) == 0 {
		p.color(color.Faint).Fprintln(p.w, "  empty")
		return
	}
	width := 0
	for _, s := range scopes {
		width = max(width, len(s.Name))
	}
	total := 0
	for _, s := range scopes {
		fmt.Fprintf(p.w, "  %-*s  %6d items  %8s  %d hot, %d cold pages\n",
			width, s.Name, s.Items, Size(s.Bytes), s.HotPages, s.ColdPages)
		total += s.Bytes
	}
	p.color(color.Faint).Fprintf(p.w, "  total %s\n", Size(total))
}

// Size formats a byte count.
func Size(n int) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	}
}
