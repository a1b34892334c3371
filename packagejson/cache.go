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

package packagejson

import "sync"

// Cache provides a caching interface for parsed package.json files, so the
// resolver and snapshot tracker do not reparse a manifest per request.
type Cache interface {
	// GetOrLoad retrieves from cache or loads using the provided function.
	// Only one goroutine executes the loader for a given path; others wait.
	// Load errors are cached too, so missing manifests are not probed again.
	GetOrLoad(path string, loader func() (*PackageJSON, error)) (*PackageJSON, error)

	// Invalidate removes a cached entry, typically called when a file changes.
	Invalidate(path string)
}

type cacheEntry struct {
	pkg  *PackageJSON
	err  error
	once sync.Once
}

// MemoryCache is a thread-safe in-memory implementation of Cache.
type MemoryCache struct {
	entries sync.Map // map[string]*cacheEntry
}

// NewMemoryCache creates a new in-memory cache for package.json files.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// GetOrLoad implements Cache.
func (c *MemoryCache) GetOrLoad(path string, loader func() (*PackageJSON, error)) (*PackageJSON, error) {
	actual, _ := c.entries.LoadOrStore(path, &cacheEntry{})
	entry := actual.(*cacheEntry)
	entry.once.Do(func() {
		entry.pkg, entry.err = loader()
	})
	return entry.pkg, entry.err
}

// Invalidate implements Cache. Goroutines already waiting on the old entry
// still receive its result.
func (c *MemoryCache) Invalidate(path string) {
	c.entries.Delete(path)
}

// Len returns the number of cached paths, including failed loads.
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
