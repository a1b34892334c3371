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

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerKeepsLastEvent(t *testing.T) {
	var d debouncer
	d.modify("/p/a.js")
	d.remove("/p/a.js")
	d.remove("/p/b.js")
	d.modify("/p/b.js")
	d.modify("/p/c.js")

	assert.Equal(t, Batch{
		Modified: []string{"/p/b.js", "/p/c.js"},
		Removed:  []string{"/p/a.js"},
	}, d.flush())
	assert.True(t, d.flush().Empty())
}

func TestIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("dist/\n*.log\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "gen"), 0755))

	w, err := New(root, Options{GitIgnore: true, Ignore: []string{"src/gen"}})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	tests := []struct {
		path string
		dir  bool
		want bool
	}{
		{"src/main.js", false, false},
		{"debug.log", false, true},
		{"dist", true, true},
		{"dist/main.js", false, true},
		{"src/gen", true, true},
		{"src", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.ignored(filepath.Join(root, tt.path), tt.dir))
		})
	}
	assert.NotContains(t, w.fsw.WatchList(), filepath.Join(root, "dist"))
	assert.NotContains(t, w.fsw.WatchList(), filepath.Join(root, "src", "gen"))
	assert.Contains(t, w.fsw.WatchList(), filepath.Join(root, "src"))
}

func TestNewRejectsInvalidPattern(t *testing.T) {
	_, err := New(t.TempDir(), Options{Ignore: []string{"[a"}})
	assert.ErrorContains(t, err, "invalid ignore pattern")
}

func TestWatcherBatchesChanges(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	gone := filepath.Join(src, "gone.js")
	require.NoError(t, os.WriteFile(gone, []byte("1"), 0644))

	w, err := New(root, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	main := filepath.Join(src, "main.js")
	require.NoError(t, os.WriteFile(main, []byte("export {}"), 0644))
	require.NoError(t, os.Remove(gone))

	var got Batch
	deadline := time.After(5 * time.Second)
	for len(got.Modified) == 0 || len(got.Removed) == 0 {
		select {
		case b := <-w.Batches():
			got.Modified = append(got.Modified, b.Modified...)
			got.Removed = append(got.Removed, b.Removed...)
		case <-deadline:
			t.Fatalf("no batch with both changes, got %+v", got)
		}
	}
	assert.Contains(t, got.Modified, main)
	assert.Contains(t, got.Removed, gone)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
