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

package compilation

import (
	"time"

	"bennypowers.dev/fardel/cache/occasion"
	"bennypowers.dev/fardel/diagnostic"
)

// AssetInfo describes one asset of a compilation.
type AssetInfo struct {
	Name string
	Size int
	// Chunk is the id of the chunk the asset was rendered from.
	Chunk string
	// Emitted is false when the file on disk was already up to date.
	Emitted bool
}

// Stats summarizes a compilation.
type Stats struct {
	ID       string
	Duration time.Duration

	Modules        int
	BuiltModules   int
	RevokedModules int
	Chunks         int
	// ChunkGraphReused is set when the module graph kept its shape and the
	// previous chunk graph was used as is.
	ChunkGraphReused bool

	Assets      []AssetInfo
	Diagnostics diagnostic.List
	// Cache holds the lookup counts of the cached steps, by step name.
	Cache map[string]occasion.Stats
}

// HasErrors reports whether the compilation produced error diagnostics.
func (s *Stats) HasErrors() bool {
	return s.Diagnostics.HasErrors()
}

// statsSource is implemented by caches that count their lookups.
type statsSource interface {
	Stats() map[string]occasion.Stats
}

func (c *Compiler) stats(comp *Compilation, written []string, d time.Duration) *Stats {
	a := comp.artifact
	s := &Stats{
		ID:               comp.ID,
		Duration:         d,
		Modules:          a.Graph().ModuleCount(),
		BuiltModules:     len(a.BuiltModules()),
		RevokedModules:   len(a.RevokedModules()),
		Chunks:           comp.chunkGraph.ChunkCount(),
		ChunkGraphReused: comp.reused,
		Diagnostics:      comp.Diagnostics(),
	}
	emitted := make(map[string]bool, len(written))
	for _, name := range written {
		emitted[name] = true
	}
	for _, asset := range comp.Assets() {
		info := AssetInfo{Name: asset.Name, Size: len(asset.Source), Emitted: emitted[asset.Name]}
		if asset.Chunk != nil {
			info.Chunk = asset.Chunk.ID
		}
		s.Assets = append(s.Assets, info)
	}
	if src, ok := c.cache.(statsSource); ok {
		s.Cache = src.Stats()
	}
	return s
}
