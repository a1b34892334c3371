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

package cache

import (
	"sync"
	"sync/atomic"
)

type gcEntry[V any] struct {
	value      V
	generation atomic.Uint32
}

// MemoryGCStorage is a concurrent map whose entries are evicted once they go
// unread for more than maxGenerations generations. Reading an entry refreshes
// it to the current generation.
type MemoryGCStorage[K comparable, V any] struct {
	generation     atomic.Uint32
	maxGenerations uint32
	entries        sync.Map // K -> *gcEntry[V]
}

// NewMemoryGCStorage creates a storage that keeps entries for maxGenerations
// generations after their last access.
func NewMemoryGCStorage[K comparable, V any](maxGenerations uint32) *MemoryGCStorage[K, V] {
	return &MemoryGCStorage[K, V]{maxGenerations: maxGenerations}
}

// Get returns the value for k and marks it as used in this generation.
func (s *MemoryGCStorage[K, V]) Get(k K) (V, bool) {
	raw, ok := s.entries.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	e := raw.(*gcEntry[V])
	e.generation.Store(s.generation.Load())
	return e.value, true
}

// Set stores v under k in the current generation.
func (s *MemoryGCStorage[K, V]) Set(k K, v V) {
	e := &gcEntry[V]{value: v}
	e.generation.Store(s.generation.Load())
	s.entries.Store(k, e)
}

// Remove deletes k.
func (s *MemoryGCStorage[K, V]) Remove(k K) {
	s.entries.Delete(k)
}

// Len returns the number of live entries.
func (s *MemoryGCStorage[K, V]) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StartNextGeneration advances the generation and evicts entries last used
// more than maxGenerations generations ago.
func (s *MemoryGCStorage[K, V]) StartNextGeneration() {
	current := s.generation.Add(1)
	s.entries.Range(func(k, raw any) bool {
		e := raw.(*gcEntry[V])
		if current-e.generation.Load() > s.maxGenerations {
			s.entries.CompareAndDelete(k, raw)
		}
		return true
	})
}
