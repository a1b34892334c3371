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

package graph

import (
	"slices"
	"sync/atomic"

	"bennypowers.dev/fardel/diagnostic"
)

// DependencyID identifies a dependency. Ids are allocated by an IDAllocator and
// never reused within one allocator's lifetime.
type DependencyID uint32

// DependencyType classifies how a dependency was expressed.
type DependencyType string

const (
	DependencyEntry         DependencyType = "entry"
	DependencyEsmImport     DependencyType = "esm import"
	DependencyEsmReexport   DependencyType = "esm reexport"
	DependencyDynamicImport DependencyType = "dynamic import"
)

// IsAsync reports whether the dependency starts a new chunk group.
func (t DependencyType) IsAsync() bool {
	return t == DependencyDynamicImport
}

// Span locates a dependency in its parent's source.
type Span struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
	Line  int    `json:"line"`
}

// FactorizeInfo records the outcome of resolving a dependency.
type FactorizeInfo struct {
	Diagnostics         diagnostic.List `json:"diagnostics,omitempty"`
	FileDependencies    []string        `json:"fileDependencies,omitempty"`
	MissingDependencies []string        `json:"missingDependencies,omitempty"`
	// Interrupted is set when bail stopped the update before the dependency
	// was resolved. The next update resolves it again.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Failed reports whether factorization failed.
func (f *FactorizeInfo) Failed() bool {
	return f != nil && f.Diagnostics.HasErrors()
}

// Dependency is an edge request made by a module or an entry.
type Dependency struct {
	ID      DependencyID   `json:"id"`
	Type    DependencyType `json:"type"`
	Request string         `json:"request"`
	// Context is the directory the request is resolved from.
	Context string `json:"context"`
	Span    Span   `json:"span"`
	// Lazy dependencies are recorded but not factorized until requested.
	Lazy bool `json:"lazy,omitempty"`
	// Parent is the module that declared this dependency. Empty for entries.
	Parent        ModuleIdentifier `json:"parent,omitempty"`
	FactorizeInfo *FactorizeInfo   `json:"factorizeInfo,omitempty"`
}

// Clone returns a deep copy.
func (d *Dependency) Clone() *Dependency {
	c := *d
	if d.FactorizeInfo != nil {
		info := *d.FactorizeInfo
		info.Diagnostics = slices.Clone(info.Diagnostics)
		info.FileDependencies = slices.Clone(info.FileDependencies)
		info.MissingDependencies = slices.Clone(info.MissingDependencies)
		c.FactorizeInfo = &info
	}
	return &c
}

// IDAllocator hands out dependency ids. It is owned by a compiler and shared by
// every compilation it runs, so ids stay unique across rebuilds.
type IDAllocator struct {
	next atomic.Uint32
}

// NewIDAllocator returns an allocator starting at 0.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() DependencyID {
	return DependencyID(a.next.Add(1) - 1)
}

// Peek returns the id the next call to Next will return.
func (a *IDAllocator) Peek() DependencyID {
	return DependencyID(a.next.Load())
}

// Restore advances the allocator so the next id is at least n. It never moves
// the allocator backwards.
func (a *IDAllocator) Restore(n DependencyID) {
	for {
		cur := a.next.Load()
		if uint32(n) <= cur {
			return
		}
		if a.next.CompareAndSwap(cur, uint32(n)) {
			return
		}
	}
}
