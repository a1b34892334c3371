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

// Package graph provides the module graph: modules, dependencies and the
// connections that resolve each dependency to a module.
package graph

import (
	"slices"
	"strings"

	"bennypowers.dev/fardel/diagnostic"
)

// ModuleIdentifier names a module uniquely and stably across builds.
type ModuleIdentifier string

// SourceType is a kind of output a module contributes to.
type SourceType string

const (
	SourceTypeJavaScript SourceType = "javascript"
	SourceTypeAsset      SourceType = "asset"
)

// ExportsType describes how a module's exports are shaped.
type ExportsType string

const (
	ExportsTypeUnknown   ExportsType = ""
	ExportsTypeNamespace ExportsType = "namespace"
	ExportsTypeDynamic   ExportsType = "dynamic"
	ExportsTypeDefault   ExportsType = "default-only"
)

// BuildMeta is metadata derived from a module's build. It is preserved across
// a failed rebuild so that dependents keep seeing the last good shape.
type BuildMeta struct {
	ESM         bool        `json:"esm,omitempty"`
	Async       bool        `json:"async,omitempty"`
	ExportsType ExportsType `json:"exportsType,omitempty"`
}

// BuildInfo records what a build observed.
type BuildInfo struct {
	// Hash is the content hash of the module source.
	Hash                string   `json:"hash,omitempty"`
	FileDependencies    []string `json:"fileDependencies,omitempty"`
	ContextDependencies []string `json:"contextDependencies,omitempty"`
	MissingDependencies []string `json:"missingDependencies,omitempty"`
	// TopLevelAwait is set when the module itself awaits at the top level.
	// BuildMeta.Async also covers modules made async by their imports.
	TopLevelAwait bool `json:"topLevelAwait,omitempty"`
	// Interrupted is set when bail stopped the update before the module was
	// built. The next update builds it again.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Module is a node in the module graph.
type Module struct {
	Identifier ModuleIdentifier `json:"identifier"`
	// Resource is the absolute path of the module file. Empty for externals.
	Resource string `json:"resource,omitempty"`
	// External modules are never built; Request is what they map to at runtime.
	External bool   `json:"external,omitempty"`
	Request  string `json:"request,omitempty"`

	Source      []byte          `json:"source,omitempty"`
	SourceTypes []SourceType    `json:"sourceTypes,omitempty"`
	BuildMeta   BuildMeta       `json:"buildMeta"`
	BuildInfo   BuildInfo       `json:"buildInfo"`
	Diagnostics diagnostic.List `json:"diagnostics,omitempty"`

	// Dependencies lists outgoing dependencies in source order.
	Dependencies []DependencyID `json:"dependencies,omitempty"`
}

// NewNormalModule creates a module backed by a file.
func NewNormalModule(resource string) *Module {
	return &Module{
		Identifier:  ModuleIdentifier(resource),
		Resource:    resource,
		SourceTypes: []SourceType{SourceTypeJavaScript},
	}
}

// NewExternalModule creates a module that is provided by the runtime.
func NewExternalModule(request string) *Module {
	return &Module{
		Identifier:  ExternalIdentifier(request),
		External:    true,
		Request:     request,
		SourceTypes: []SourceType{SourceTypeJavaScript},
		BuildMeta:   BuildMeta{ExportsType: ExportsTypeDynamic},
	}
}

const externalPrefix = "external "

// ExternalIdentifier is the identifier of the external module for request.
func ExternalIdentifier(request string) ModuleIdentifier {
	return ModuleIdentifier(externalPrefix + request)
}

// IsExternal reports whether id names an external module.
func (id ModuleIdentifier) IsExternal() bool {
	return strings.HasPrefix(string(id), externalPrefix)
}

// HasErrors reports whether the last build of the module failed.
func (m *Module) HasErrors() bool {
	return m.Diagnostics.HasErrors()
}

// Clone returns a copy that shares no slices with m.
func (m *Module) Clone() *Module {
	c := *m
	c.Source = slices.Clone(m.Source)
	c.SourceTypes = slices.Clone(m.SourceTypes)
	c.Diagnostics = slices.Clone(m.Diagnostics)
	c.Dependencies = slices.Clone(m.Dependencies)
	c.BuildInfo.FileDependencies = slices.Clone(m.BuildInfo.FileDependencies)
	c.BuildInfo.ContextDependencies = slices.Clone(m.BuildInfo.ContextDependencies)
	c.BuildInfo.MissingDependencies = slices.Clone(m.BuildInfo.MissingDependencies)
	return &c
}
