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

package fs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/internal/mapfs"
)

func TestWriteFileAtomic(t *testing.T) {
	mfs := mapfs.New()
	require.NoError(t, mfs.MkdirAll("/out", 0755))
	require.NoError(t, fs.WriteFileAtomic(mfs, "/out/main.js", []byte("v1"), 0644))
	require.NoError(t, fs.WriteFileAtomic(mfs, "/out/main.js", []byte("v2"), 0644))

	data, err := mfs.ReadFile("/out/main.js")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := mfs.ReadDir("/out")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are renamed away")
}

func TestOSFileSystemAcceptsSlashPaths(t *testing.T) {
	dir, err := fs.Abs(t.TempDir())
	require.NoError(t, err)
	assert.NotContains(t, dir, `\`)

	osfs := fs.NewOSFileSystem()
	name := dir + "/nested/file.txt"
	require.NoError(t, osfs.MkdirAll(dir+"/nested", 0755))
	require.NoError(t, fs.WriteFileAtomic(osfs, name, []byte("hello"), 0644))
	assert.True(t, osfs.Exists(name))
	assert.FileExists(t, filepath.FromSlash(name))
}
