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

// Package snapshot records how to tell whether a file changed between builds
// and validates those records later.
package snapshot

import (
	"errors"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"

	fardelfs "bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/packagejson"
)

// Kind selects the validation method of a Strategy.
type Kind string

const (
	// KindImmutable paths never change.
	KindImmutable Kind = "immutable"
	// KindPackageVersion paths change only with their package's version.
	KindPackageVersion Kind = "package-version"
	// KindFileHash compares mtime, then content hash.
	KindFileHash Kind = "file-hash"
	// KindDirHash compares a hash of the directory listing.
	KindDirHash Kind = "dir-hash"
	// KindMissing paths did not exist.
	KindMissing Kind = "missing"
	// KindFailed paths could not be inspected and always count as modified.
	KindFailed Kind = "failed"
)

// Strategy is the recorded state of one path.
type Strategy struct {
	Kind    Kind   `json:"kind"`
	Version string `json:"version,omitempty"`
	ModTime int64  `json:"mtime,omitempty"`
	Hash    uint64 `json:"hash,omitempty"`
}

// ValidateResult is the outcome of checking a path against its Strategy.
type ValidateResult int

const (
	NoChanged ValidateResult = iota
	Modified
	Deleted
)

func (r ValidateResult) String() string {
	switch r {
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return "unchanged"
}

// Options configures path classification.
type Options struct {
	// ImmutablePaths are globs for paths that never change, like versioned
	// vendor directories.
	ImmutablePaths []string
	// ManagedPaths are globs for package-manager controlled trees; their
	// files are tracked by package version.
	ManagedPaths []string
}

// DefaultOptions treats node_modules as managed.
func DefaultOptions() Options {
	return Options{ManagedPaths: []string{"**/node_modules/**"}}
}

// Helper computes and validates strategies.
type Helper struct {
	fs       fardelfs.FileSystem
	options  Options
	versions sync.Map // package.json path -> version string
}

// NewHelper creates a strategy helper.
func NewHelper(fsys fardelfs.FileSystem, options Options) *Helper {
	return &Helper{fs: fsys, options: options}
}

func matchAny(patterns []string, p string) bool {
	p = strings.TrimPrefix(p, "/")
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "/"), p); ok {
			return true
		}
	}
	return false
}

// Compute returns the current strategy for p.
func (h *Helper) Compute(p string) Strategy {
	if matchAny(h.options.ImmutablePaths, p) {
		return Strategy{Kind: KindImmutable}
	}
	info, err := h.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Strategy{Kind: KindMissing}
		}
		return Strategy{Kind: KindFailed}
	}
	if matchAny(h.options.ManagedPaths, p) {
		if version, ok := h.packageVersion(path.Dir(p)); ok {
			return Strategy{Kind: KindPackageVersion, Version: version}
		}
	}
	if info.IsDir() {
		hash, err := h.dirHash(p)
		if err != nil {
			return Strategy{Kind: KindFailed}
		}
		return Strategy{Kind: KindDirHash, Hash: hash}
	}
	hash, err := h.fileHash(p)
	if err != nil {
		return Strategy{Kind: KindFailed}
	}
	return Strategy{Kind: KindFileHash, ModTime: info.ModTime().UnixNano(), Hash: hash}
}

// Validate checks p against s.
func (h *Helper) Validate(p string, s Strategy) ValidateResult {
	switch s.Kind {
	case KindImmutable:
		return NoChanged
	case KindMissing:
		if h.fs.Exists(p) {
			return Modified
		}
		return NoChanged
	case KindFailed:
		return Modified
	}

	info, err := h.fs.Stat(p)
	if err != nil {
		return Deleted
	}
	switch s.Kind {
	case KindPackageVersion:
		version, ok := h.packageVersion(path.Dir(p))
		if !ok {
			return Deleted
		}
		if version != s.Version {
			return Modified
		}
	case KindDirHash:
		hash, err := h.dirHash(p)
		if err != nil || hash != s.Hash {
			return Modified
		}
	case KindFileHash:
		if info.ModTime().UnixNano() == s.ModTime {
			return NoChanged
		}
		hash, err := h.fileHash(p)
		if err != nil || hash != s.Hash {
			return Modified
		}
	default:
		return Modified
	}
	return NoChanged
}

// ResetVersions forgets cached package versions. Call once per build so
// upgrades between builds are observed.
func (h *Helper) ResetVersions() {
	h.versions.Clear()
}

func (h *Helper) packageVersion(dir string) (string, bool) {
	manifest, _ := packagejson.FindUp(h.fs, dir)
	if manifest == "" {
		return "", false
	}
	if v, ok := h.versions.Load(manifest); ok {
		return v.(string), true
	}
	pkg, err := packagejson.ParseFile(h.fs, manifest)
	if err != nil || pkg.Version == "" {
		return "", false
	}
	h.versions.Store(manifest, pkg.Version)
	return pkg.Version, true
}

func (h *Helper) fileHash(p string) (uint64, error) {
	data, err := h.fs.ReadFile(p)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

func (h *Helper) dirHash(p string) (uint64, error) {
	entries, err := h.fs.ReadDir(p)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return xxhash.Sum64String(strings.Join(names, "\n")), nil
}
