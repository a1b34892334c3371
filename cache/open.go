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
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache/snapshot"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/storage"
	"bennypowers.dev/fardel/storage/redisstore"
)

// Type selects a cache strategy.
type Type string

const (
	TypeDisabled   Type = "false"
	TypeMemory     Type = "memory"
	TypePersistent Type = "persistent"
	TypeRedis      Type = "redis"
)

// Options configures Open.
type Options struct {
	Type Type
	// Directory is the root of the persistent cache.
	Directory string
	// Version separates caches of incompatible configurations.
	Version        string
	MaxGenerations uint32
	Expire         time.Duration
	BucketSize     int
	PageSize       int
	PageItems      int
	Redis          redisstore.Config
	Snapshot       snapshot.Options
}

// Open creates the cache selected by opts.Type. An empty type means memory.
func Open(ctx context.Context, fsys fs.FileSystem, ids *graph.IDAllocator, opts Options, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxGenerations := opts.MaxGenerations
	if maxGenerations == 0 {
		maxGenerations = DefaultMaxGenerations
	}
	helper := snapshot.NewHelper(fsys, opts.Snapshot)

	switch opts.Type {
	case TypeDisabled:
		return Disabled{}, nil
	case "", TypeMemory:
		return NewMemory(helper, maxGenerations, logger), nil
	case TypePersistent:
		if opts.Directory == "" {
			return nil, fmt.Errorf("persistent cache needs a directory")
		}
		st := storage.NewPackStorage(fsys, storage.Options{
			Root:       opts.Directory,
			Version:    opts.Version,
			BucketSize: opts.BucketSize,
			PageSize:   opts.PageSize,
			PageItems:  opts.PageItems,
			Expire:     opts.Expire,
		}, logger)
		return NewPersistent(st, helper, ids, logger), nil
	case TypeRedis:
		config := opts.Redis
		if config.Prefix == "" {
			config.Prefix = "fardel:" + opts.Version + ":"
		}
		if config.Expire == 0 {
			config.Expire = opts.Expire
		}
		st, err := redisstore.New(ctx, config)
		if err != nil {
			return nil, err
		}
		return NewPersistent(st, helper, ids, logger), nil
	}
	return nil, fmt.Errorf("unknown cache type %q", opts.Type)
}
