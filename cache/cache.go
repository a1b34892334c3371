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

// Package cache implements the compilation cache strategies.
//
// A Cache decides which artifact a compilation starts from and which update
// params it needs, and wraps the resolve, code generation and render steps
// with occasions. Disabled rebuilds everything every time, Memory keeps
// results for the life of the process, and Persistent also survives process
// restarts through a storage.Storage.
package cache

import (
	"context"

	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/resolve"
	"bennypowers.dev/fardel/updater"
)

// Cache is a cache strategy. Methods are called from one compilation at a
// time, except the wrapped steps, which run concurrently.
type Cache interface {
	// BeforeMake returns the artifact to update, given the compiler's current
	// one (nil before the first build), and the params that bring it up to
	// date with the file system. knownChanges is set when the caller passes
	// the modified and removed files itself.
	BeforeMake(ctx context.Context, current *updater.Artifact, knownChanges bool) (*updater.Artifact, []updater.UpdateParam, error)
	// AfterMake is called with the committed artifact.
	AfterMake(ctx context.Context, a *updater.Artifact) error
	WrapResolver(r resolve.Resolver) resolve.Resolver
	WrapGenerator(g codegen.Generator) codegen.Generator
	WrapRenderer(r codegen.Renderer) codegen.Renderer
	// AfterCompile is called once assets are emitted.
	AfterCompile(ctx context.Context) error
	Close() error
}

// Disabled caches nothing: every compilation starts from an empty artifact.
type Disabled struct{}

var _ Cache = Disabled{}

func (Disabled) BeforeMake(context.Context, *updater.Artifact, bool) (*updater.Artifact, []updater.UpdateParam, error) {
	return updater.NewArtifact(), nil, nil
}

func (Disabled) AfterMake(context.Context, *updater.Artifact) error { return nil }
func (Disabled) WrapResolver(r resolve.Resolver) resolve.Resolver { return r }
func (Disabled) WrapGenerator(g codegen.Generator) codegen.Generator { return g }
func (Disabled) WrapRenderer(r codegen.Renderer) codegen.Renderer { return r }
func (Disabled) AfterCompile(context.Context) error { return nil }
func (Disabled) Close() error { return nil }

// reuse is the BeforeMake of caches that keep the compiler's artifact.
func reuse(current *updater.Artifact, knownChanges bool) (*updater.Artifact, []updater.UpdateParam) {
	if current == nil {
		return updater.NewArtifact(), nil
	}
	if knownChanges {
		return current, nil
	}
	return current, []updater.UpdateParam{updater.CheckNeedBuild()}
}
