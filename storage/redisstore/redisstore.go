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

// Package redisstore provides a Redis backed storage.Storage, so several
// machines can share one persistent cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bennypowers.dev/fardel/storage"
)

// Config holds configuration for the Redis storage.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, typically with the cache version.
	Prefix string
	// Expire is the TTL refreshed on each saved scope. Zero means no TTL.
	Expire time.Duration
}

// Storage stores each scope as one Redis hash.
type Storage struct {
	client *redis.Client
	config Config

	mu      sync.Mutex
	pending map[string]map[string]*[]byte
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, config Config) (*Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, config), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, config Config) *Storage {
	return &Storage{
		client:  client,
		config:  config,
		pending: make(map[string]map[string]*[]byte),
	}
}

func (s *Storage) key(scope string) string {
	return s.config.Prefix + scope
}

// Load implements storage.Storage.
func (s *Storage) Load(ctx context.Context, scope string) ([]storage.Item, error) {
	stored, err := s.client.HGetAll(ctx, s.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load scope %s: %w", scope, err)
	}
	s.mu.Lock()
	for k, v := range s.pending[scope] {
		if v == nil {
			delete(stored, k)
		} else {
			stored[k] = string(*v)
		}
	}
	s.mu.Unlock()

	items := make([]storage.Item, 0, len(stored))
	for _, k := range slices.Sorted(maps.Keys(stored)) {
		items = append(items, storage.Item{Key: []byte(k), Value: []byte(stored[k])})
	}
	return items, nil
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, scope string, key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	v, buffered := s.pending[scope][string(key)]
	s.mu.Unlock()
	if buffered {
		if v == nil {
			return nil, false, nil
		}
		return *v, true, nil
	}

	value, err := s.client.HGet(ctx, s.key(scope), string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s from scope %s: %w", key, scope, err)
	}
	return value, true, nil
}

// Set implements storage.Storage.
func (s *Storage) Set(scope string, key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[scope] == nil {
		s.pending[scope] = make(map[string]*[]byte)
	}
	v := append([]byte(nil), value...)
	s.pending[scope][string(key)] = &v
}

// Remove implements storage.Storage.
func (s *Storage) Remove(scope string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[scope] == nil {
		s.pending[scope] = make(map[string]*[]byte)
	}
	s.pending[scope][string(key)] = nil
}

// Save implements storage.Storage. All buffered writes go out in one pipeline.
func (s *Storage) Save(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]map[string]*[]byte)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for scope, updates := range batch {
		key := s.key(scope)
		var removed []string
		set := make(map[string]any)
		for k, v := range updates {
			if v == nil {
				removed = append(removed, k)
			} else {
				set[k] = *v
			}
		}
		if len(set) > 0 {
			pipe.HSet(ctx, key, set)
		}
		if len(removed) > 0 {
			pipe.HDel(ctx, key, removed...)
		}
		if s.config.Expire > 0 {
			pipe.Expire(ctx, key, s.config.Expire)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Reset implements storage.Storage.
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.pending = make(map[string]map[string]*[]byte)
	s.mu.Unlock()

	iter := s.client.Scan(ctx, 0, s.config.Prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Close implements storage.Storage.
func (s *Storage) Close() error {
	return s.client.Close()
}
