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

// Package storage provides the persistent key-value store behind the
// persistent cache.
//
// Data is partitioned into scopes. Within a scope, keys are spread over a fixed
// number of buckets by key hash. Each bucket has one mutable hot page and any
// number of sealed cold pages. Sealed pages are never rewritten in place.
package storage

import (
	"context"
	"errors"
)

// ErrCorrupted is returned when stored data fails its integrity check. The
// affected scope has been discarded when this error is returned.
var ErrCorrupted = errors.New("storage: corrupted data")

// Item is a stored key-value pair.
type Item struct {
	Key   []byte
	Value []byte
}

// Storage is the contract shared by storage backends.
//
// Set and Remove are buffered and become durable on Save. Load and Get observe
// buffered writes.
type Storage interface {
	// Load returns every item of scope, sorted by key.
	Load(ctx context.Context, scope string) ([]Item, error)
	// Get returns a single value.
	Get(ctx context.Context, scope string, key []byte) ([]byte, bool, error)
	Set(scope string, key, value []byte)
	Remove(scope string, key []byte)
	// Save flushes buffered writes.
	Save(ctx context.Context) error
	// Reset discards all stored data and buffered writes.
	Reset(ctx context.Context) error
	Close() error
}

type update struct {
	value   []byte
	removed bool
}

// pending buffers writes per scope.
type pending map[string]map[string]update

func (p pending) set(scope string, key, value []byte) {
	if p[scope] == nil {
		p[scope] = make(map[string]update)
	}
	p[scope][string(key)] = update{value: append([]byte(nil), value...)}
}

func (p pending) remove(scope string, key []byte) {
	if p[scope] == nil {
		p[scope] = make(map[string]update)
	}
	p[scope][string(key)] = update{removed: true}
}
