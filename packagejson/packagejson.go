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

// Package packagejson provides parsing and export resolution for package.json files.
package packagejson

import (
	"encoding/json"
	"errors"
	"path"
	"strings"

	"bennypowers.dev/fardel/fs"
)

// ErrNotExported is returned when a subpath is not exported by the package.
var ErrNotExported = errors.New("not exported by package.json")

// DefaultConditions is the default export condition priority for browser bundles.
var DefaultConditions = []string{"browser", "import", "module", "default"}

// ResolveOptions configures how conditional exports are resolved.
type ResolveOptions struct {
	// Conditions is the ordered list of conditions to try when resolving exports.
	// If nil, defaults to DefaultConditions.
	Conditions []string
}

// PackageJSON represents the subset of package.json relevant for bundling.
type PackageJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Type         string            `json:"type,omitempty"`
	Main         string            `json:"main,omitempty"`
	Module       string            `json:"module,omitempty"`
	Exports      any               `json:"exports,omitempty"`
	SideEffects  any               `json:"sideEffects,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// IsModule reports whether .js files of the package are ES modules.
func (pkg *PackageJSON) IsModule() bool {
	return pkg.Type == "module"
}

// Parse parses package.json data.
func Parse(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ParseFile parses a package.json file.
func ParseFile(fs fs.FileSystem, path string) (*PackageJSON, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// FindUp returns the path of the nearest package.json at or above dir, and
// every package.json path that was probed and missing on the way.
func FindUp(fsys fs.FileSystem, dir string) (found string, missing []string) {
	for {
		candidate := path.Join(dir, "package.json")
		if fsys.Exists(candidate) {
			return candidate, missing
		}
		missing = append(missing, candidate)
		parent := path.Dir(dir)
		if parent == dir {
			return "", missing
		}
		dir = parent
	}
}

// ResolveExport resolves a subpath export to its target file path.
// The subpath should be "." for the main export or "./subpath" for subpath exports.
// Returns the resolved path without leading "./".
// Pass nil for opts to use DefaultConditions.
func (pkg *PackageJSON) ResolveExport(subpath string, opts *ResolveOptions) (string, error) {
	if pkg.Exports == nil {
		return pkg.resolveLegacy(subpath)
	}

	// Handle string export (simple case)
	if exportStr, ok := pkg.Exports.(string); ok {
		if subpath == "." {
			return trimDotSlash(exportStr), nil
		}
		return "", ErrNotExported
	}

	exportsMap, ok := pkg.Exports.(map[string]any)
	if !ok {
		return "", ErrNotExported
	}

	// A map without subpath keys is a condition map for the main entry
	hasSubpaths := false
	for key := range exportsMap {
		if strings.HasPrefix(key, ".") {
			hasSubpaths = true
			break
		}
	}
	if !hasSubpaths {
		if subpath == "." {
			return resolveConditions(exportsMap, opts)
		}
		return "", ErrNotExported
	}

	if exportValue, ok := exportsMap[subpath]; ok {
		return resolveExportValue(exportValue, opts, "")
	}

	// Longest matching wildcard pattern wins
	var bestPattern, bestMatch string
	bestPrefix := -1
	for pattern := range exportsMap {
		prefix, suffix, ok := strings.Cut(pattern, "*")
		if !ok || !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		if len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		if len(prefix) > bestPrefix {
			bestPrefix = len(prefix)
			bestPattern = pattern
			bestMatch = subpath[len(prefix) : len(subpath)-len(suffix)]
		}
	}
	if bestPattern == "" {
		return "", ErrNotExported
	}
	return resolveExportValue(exportsMap[bestPattern], opts, bestMatch)
}

// resolveLegacy handles packages without an exports field: "module" then
// "main" for the root, and plain file paths for subpaths.
func (pkg *PackageJSON) resolveLegacy(subpath string) (string, error) {
	if subpath != "." {
		return trimDotSlash(subpath), nil
	}
	switch {
	case pkg.Module != "":
		return trimDotSlash(pkg.Module), nil
	case pkg.Main != "":
		return trimDotSlash(pkg.Main), nil
	}
	return "", ErrNotExported
}

// resolveExportValue resolves a string, condition map or fallback array.
// A non-empty wildcard replaces "*" in the resolved target.
func resolveExportValue(value any, opts *ResolveOptions, wildcard string) (string, error) {
	var target string
	switch v := value.(type) {
	case string:
		target = trimDotSlash(v)
	case map[string]any:
		resolved, err := resolveConditions(v, opts)
		if err != nil {
			return "", err
		}
		target = resolved
	case []any:
		for _, item := range v {
			if resolved, err := resolveExportValue(item, opts, wildcard); err == nil {
				return resolved, nil
			}
		}
		return "", ErrNotExported
	default:
		// null targets explicitly hide a subpath
		return "", ErrNotExported
	}
	if wildcard != "" {
		target = strings.ReplaceAll(target, "*", wildcard)
	}
	return target, nil
}

// resolveConditions resolves a conditional export map to a path.
// Tries each condition in opts.Conditions order, recursing into nested maps.
func resolveConditions(conditions map[string]any, opts *ResolveOptions) (string, error) {
	conditionList := DefaultConditions
	if opts != nil && len(opts.Conditions) > 0 {
		conditionList = opts.Conditions
	}

	for _, cond := range conditionList {
		value, ok := conditions[cond]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			if result, err := resolveConditions(v, opts); err == nil {
				return result, nil
			}
		case string:
			return trimDotSlash(v), nil
		}
	}

	return "", ErrNotExported
}

// trimDotSlash removes a leading "./" from a path.
func trimDotSlash(path string) string {
	return strings.TrimPrefix(path, "./")
}
