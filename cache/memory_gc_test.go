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

package cache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"bennypowers.dev/fardel/cache"
)

func TestMemoryGCStorageEvictsAfterMaxGenerations(t *testing.T) {
	for _, maxGenerations := range []uint32{0, 1, 3} {
		s := cache.NewMemoryGCStorage[string, int](maxGenerations)
		s.Set("k", 1)

		for range maxGenerations {
			s.StartNextGeneration()
		}
		_, ok := s.Get("k")
		// Get refreshes the entry, so start over from this generation
		assert.True(t, ok, "entry should survive %d generations", maxGenerations)

		for range maxGenerations + 1 {
			s.StartNextGeneration()
		}
		_, ok = s.Get("k")
		assert.False(t, ok, "entry should be evicted after %d generations", maxGenerations+1)
	}
}

func TestMemoryGCStorageGetRefreshes(t *testing.T) {
	s := cache.NewMemoryGCStorage[string, string](1)
	s.Set("used", "a")
	s.Set("idle", "b")

	for range 5 {
		s.StartNextGeneration()
		_, ok := s.Get("used")
		assert.True(t, ok)
	}
	_, ok := s.Get("idle")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryGCStorageConcurrentAccess(t *testing.T) {
	s := cache.NewMemoryGCStorage[int, int](2)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 100 {
				s.Set(i*100+j, j)
				s.Get(i*100 + j)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 800, s.Len())
	s.Remove(0)
	assert.Equal(t, 799, s.Len())
}
