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

// Package resolve turns an import request into a file path, following
// Node-style rules: relative paths, extensions, directory indexes,
// node_modules lookup and package.json exports.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/packagejson"
)

// ErrNotFound is matched by every resolution failure.
var ErrNotFound = errors.New("module not found")

// NotFoundError reports a request that could not be resolved.
type NotFoundError struct {
	Request string
	Context string
	Reason  string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("can't resolve %q in %q", e.Request, e.Context)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Result is a successful resolution.
type Result struct {
	// Path is the absolute file path. Empty for externals.
	Path     string `json:"path,omitempty"`
	External bool   `json:"external,omitempty"`
	// Request is the original request, kept for externals.
	Request string `json:"request,omitempty"`
	// FileDependencies are files whose content decided the result, like
	// package.json manifests.
	FileDependencies []string `json:"fileDependencies,omitempty"`
	// MissingDependencies are paths probed and not found. Creating any of
	// them could change the result.
	MissingDependencies []string `json:"missingDependencies,omitempty"`
}

// Resolver resolves a request made from the directory dir.
// Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, dir, request string) (Result, error)
}

// Options configures a NodeResolver.
type Options struct {
	// Root anchors web-style absolute requests like "/src/app.js".
	Root string
	// Extensions are tried in order for extensionless requests.
	Extensions []string
	// MainFiles are directory index names.
	MainFiles []string
	// Conditions are the package.json export conditions, in priority order.
	Conditions []string
	// Externals are package names or globs left to the runtime.
	Externals []string
}

// DefaultExtensions are tried when Options.Extensions is empty.
var DefaultExtensions = []string{".js", ".mjs", ".ts", ".mts", ".jsx", ".tsx", ".json"}

// NodeResolver resolves requests against a FileSystem.
type NodeResolver struct {
	fs       fs.FileSystem
	opts     Options
	packages packagejson.Cache
}

// New creates a resolver.
func New(fsys fs.FileSystem, opts Options) *NodeResolver {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if len(opts.MainFiles) == 0 {
		opts.MainFiles = []string{"index"}
	}
	return &NodeResolver{fs: fsys, opts: opts, packages: packagejson.NewMemoryCache()}
}

// WithPackageCache returns a copy of the resolver sharing cache.
func (r *NodeResolver) WithPackageCache(cache packagejson.Cache) *NodeResolver {
	c := *r
	c.packages = cache
	return &c
}

// PackageCache returns the cache of parsed manifests.
func (r *NodeResolver) PackageCache() packagejson.Cache {
	return r.packages
}

// Resolve implements Resolver.
func (r *NodeResolver) Resolve(ctx context.Context, dir, request string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r.isExternal(request) {
		return Result{External: true, Request: request}, nil
	}

	var res Result
	var target string
	var found bool
	var reason string
	switch {
	case isBareSpecifier(request):
		target, found, reason = r.resolveBare(dir, request, &res)
	case strings.HasPrefix(request, "/"):
		target, found = r.resolveFile(request, &res)
		if !found && r.opts.Root != "" {
			// Web-style absolute path, relative to root
			target, found = r.resolveFile(path.Join(r.opts.Root, request), &res)
		}
	default:
		target, found = r.resolveFile(path.Join(dir, request), &res)
	}
	if !found {
		return res, &NotFoundError{Request: request, Context: dir, Reason: reason}
	}
	res.Path = target
	return res, nil
}

func (r *NodeResolver) isExternal(request string) bool {
	if strings.Contains(request, "://") || strings.HasPrefix(request, "data:") || strings.HasPrefix(request, "node:") {
		return true
	}
	for _, pattern := range r.opts.Externals {
		if pattern == request || pattern == getPackageName(request) {
			return true
		}
		if ok, _ := doublestar.Match(pattern, request); ok {
			return true
		}
	}
	return false
}

func (r *NodeResolver) isFile(p string) bool {
	info, err := r.fs.Stat(p)
	return err == nil && !info.IsDir()
}

func (r *NodeResolver) isDir(p string) bool {
	info, err := r.fs.Stat(p)
	return err == nil && info.IsDir()
}

// resolveFile tries p as a file, with each extension, then as a directory.
func (r *NodeResolver) resolveFile(p string, res *Result) (string, bool) {
	if r.isFile(p) {
		return p, true
	}
	res.MissingDependencies = append(res.MissingDependencies, p)
	for _, ext := range r.opts.Extensions {
		candidate := p + ext
		if r.isFile(candidate) {
			return candidate, true
		}
		res.MissingDependencies = append(res.MissingDependencies, candidate)
	}
	if !r.isDir(p) {
		return "", false
	}

	manifest := path.Join(p, "package.json")
	if pkg := r.loadPackage(manifest); pkg != nil {
		res.FileDependencies = append(res.FileDependencies, manifest)
		if main, err := pkg.ResolveExport(".", r.conditions()); err == nil {
			if target, ok := r.resolveFile(path.Join(p, main), res); ok {
				return target, true
			}
		}
	}
	for _, name := range r.opts.MainFiles {
		for _, ext := range r.opts.Extensions {
			candidate := path.Join(p, name+ext)
			if r.isFile(candidate) {
				return candidate, true
			}
			res.MissingDependencies = append(res.MissingDependencies, candidate)
		}
	}
	return "", false
}

// resolveBare walks up from dir looking for node_modules/<package>.
func (r *NodeResolver) resolveBare(dir, request string, res *Result) (string, bool, string) {
	pkgName := getPackageName(request)
	subpath := "." + strings.TrimPrefix(request, pkgName)

	for d := dir; ; {
		pkgDir := path.Join(d, "node_modules", pkgName)
		manifest := path.Join(pkgDir, "package.json")
		if pkg := r.loadPackage(manifest); pkg != nil {
			res.FileDependencies = append(res.FileDependencies, manifest)
			target, err := pkg.ResolveExport(subpath, r.conditions())
			if err != nil {
				if pkg.Exports != nil {
					return "", false, fmt.Sprintf("%s is not exported by %s", subpath, pkgName)
				}
				// No entry point declared; fall back to index files
				target = "."
			}
			if resolved, ok := r.resolveFile(path.Join(pkgDir, target), res); ok {
				return resolved, true, ""
			}
			return "", false, fmt.Sprintf("%s does not exist in %s", target, pkgName)
		}
		res.MissingDependencies = append(res.MissingDependencies, manifest)
		if r.isDir(pkgDir) {
			if resolved, ok := r.resolveFile(path.Join(pkgDir, subpath), res); ok {
				return resolved, true, ""
			}
		}

		parent := path.Dir(d)
		if parent == d {
			return "", false, ""
		}
		d = parent
	}
}

func (r *NodeResolver) loadPackage(manifest string) *packagejson.PackageJSON {
	pkg, err := r.packages.GetOrLoad(manifest, func() (*packagejson.PackageJSON, error) {
		return packagejson.ParseFile(r.fs, manifest)
	})
	if err != nil {
		return nil
	}
	return pkg
}

func (r *NodeResolver) conditions() *packagejson.ResolveOptions {
	if len(r.opts.Conditions) == 0 {
		return nil
	}
	return &packagejson.ResolveOptions{Conditions: r.opts.Conditions}
}

// isBareSpecifier reports whether specifier names a package rather than a path.
func isBareSpecifier(specifier string) bool {
	if specifier == "" || specifier == "." || specifier == ".." {
		return false
	}
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		return false
	}
	return !strings.HasPrefix(specifier, "/")
}

// getPackageName extracts the package name from a bare specifier.
// "@scope/pkg/path" becomes "@scope/pkg" and "pkg/path" becomes "pkg".
func getPackageName(specifier string) string {
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) >= 2 {
			return path.Join(parts[0], parts[1])
		}
		return specifier
	}
	name, _, _ := strings.Cut(specifier, "/")
	return name
}
