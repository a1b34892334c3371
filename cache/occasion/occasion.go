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

// Package occasion wraps expensive compilation steps with compute-or-fetch
// caching.
//
// Each occasion looks a value up by a key derived from its inputs, validates
// it where the inputs live on disk, and falls back to the wrapped step on a
// miss. Cache writes are best effort: failing to store a value never fails
// the step.
package occasion

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache/codec"
	"bennypowers.dev/fardel/storage"
)

// Storage scopes used by the occasions.
const (
	ScopeMakeMeta    = "occasion_make_meta"
	ScopeMakeModules = "occasion_make_module"
	ScopeResolve     = "occasion_resolve"
	ScopeCodegen     = "occasion_codegen"
	ScopeChunkRender = "occasion_chunk_render"
	ScopeSnapshot    = "snapshot"
)

// Store holds values of one occasion. Implementations must be safe for
// concurrent use.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(key string, v V)
	Remove(key string)
}

type storageStore[V any] struct {
	st     storage.Storage
	scope  string
	logger *zap.Logger
}

// NewStorageStore stores values in scope of st. Read and decode failures
// count as misses and are logged.
func NewStorageStore[V any](st storage.Storage, scope string, logger *zap.Logger) Store[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &storageStore[V]{st: st, scope: scope, logger: logger.With(zap.String("scope", scope))}
}

func (s *storageStore[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, ok, err := s.st.Get(ctx, s.scope, []byte(key))
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := codec.Decode[V](data)
	if err != nil {
		s.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		s.st.Remove(s.scope, []byte(key))
		return zero, false
	}
	return v, true
}

func (s *storageStore[V]) Set(key string, v V) {
	data, err := codec.Encode(v)
	if err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.st.Set(s.scope, []byte(key), data)
}

func (s *storageStore[V]) Remove(key string) {
	s.st.Remove(s.scope, []byte(key))
}

// Stats counts lookups of one occasion.
type Stats struct {
	Hits   int64
	Misses int64
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
