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

// Package fs provides the filesystem abstraction shared by the resolver,
// loaders, snapshot tracker and pack storage.
package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileSystem provides an abstraction over filesystem operations.
// Every path is absolute and slash separated.
type FileSystem interface {
	// File operations
	WriteFile(name string, data []byte, perm fs.FileMode) error
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error

	// Directory operations
	MkdirAll(path string, perm fs.FileMode) error
	RemoveAll(path string) error
	ReadDir(name string) ([]fs.DirEntry, error)

	// File system queries
	Stat(name string) (fs.FileInfo, error)
	Exists(path string) bool

	// fs.FS compatibility - allows use with fs.WalkDir
	Open(name string) (fs.File, error)
}

// Abs returns the absolute, slash separated form of a native path.
func Abs(name string) (string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(abs), nil
}

// WriteFileAtomic writes data to a temporary sibling of name and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(fsys FileSystem, name string, data []byte, perm fs.FileMode) error {
	tmp := name + ".tmp-" + uuid.NewString()
	if err := fsys.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := fsys.Rename(tmp, name); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

// OSFileSystem implements FileSystem on the host filesystem, converting
// slash separated paths to native ones.
type OSFileSystem struct{}

// NewOSFileSystem creates a new filesystem that uses the standard os package.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func native(name string) string {
	return filepath.FromSlash(name)
}

func (f *OSFileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(native(name), data, perm)
}

func (f *OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(native(name))
}

func (f *OSFileSystem) Remove(name string) error {
	return os.Remove(native(name))
}

func (f *OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(native(oldpath), native(newpath))
}

func (f *OSFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(native(path))
}

func (f *OSFileSystem) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(native(path), perm)
}

func (f *OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(native(name))
}

func (f *OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(native(path))
	return err == nil
}

func (f *OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(native(name))
}

func (f *OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(native(name))
}
