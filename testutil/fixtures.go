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

// Package testutil provides fixture helpers for tests.
package testutil

import (
	"maps"
	"path"
	"slices"
	"testing"

	"bennypowers.dev/fardel/internal/mapfs"
)

// NewProject returns a MapFileSystem holding files, with paths relative to
// root. Files are added in sorted order so modification times are stable.
func NewProject(t *testing.T, root string, files map[string]string) *mapfs.MapFileSystem {
	t.Helper()
	mfs := mapfs.New()
	WriteFiles(t, mfs, root, files)
	return mfs
}

// WriteFiles adds or replaces files relative to root.
func WriteFiles(t *testing.T, mfs *mapfs.MapFileSystem, root string, files map[string]string) {
	t.Helper()
	for _, name := range slices.Sorted(maps.Keys(files)) {
		if err := mfs.WriteFile(path.Join(root, name), []byte(files[name]), 0644); err != nil {
			t.Fatalf("Failed to write fixture %s: %v", name, err)
		}
	}
}

// RemoveFiles deletes files relative to root.
func RemoveFiles(t *testing.T, mfs *mapfs.MapFileSystem, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := mfs.Remove(path.Join(root, name)); err != nil {
			t.Fatalf("Failed to remove fixture %s: %v", name, err)
		}
	}
}
