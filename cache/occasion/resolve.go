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

package occasion

import (
	"context"

	"go.uber.org/zap"

	"bennypowers.dev/fardel/cache/snapshot"
	"bennypowers.dev/fardel/resolve"
)

// ResolveRecord is a cached resolution with the state of the paths that
// decided it.
type ResolveRecord struct {
	Result   resolve.Result    `json:"result"`
	Snapshot snapshot.Snapshot `json:"snapshot"`
}

// Resolve caches successful resolutions by directory and request.
type Resolve struct {
	store  Store[ResolveRecord]
	helper *snapshot.Helper
	logger *zap.Logger
	counters
}

// NewResolve creates a resolve occasion.
func NewResolve(store Store[ResolveRecord], helper *snapshot.Helper, logger *zap.Logger) *Resolve {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolve{store: store, helper: helper, logger: logger.Named("resolve")}
}

// Stats returns lookup counts.
func (o *Resolve) Stats() Stats { return o.stats() }

// Wrap returns a resolver answering from the cache when the cached result's
// snapshot is still valid.
func (o *Resolve) Wrap(next resolve.Resolver) resolve.Resolver {
	return &cachedResolver{occasion: o, next: next}
}

func resolveKey(dir, request string) string {
	return dir + "|" + request
}

type cachedResolver struct {
	occasion *Resolve
	next     resolve.Resolver
}

func (r *cachedResolver) Resolve(ctx context.Context, dir, request string) (resolve.Result, error) {
	o := r.occasion
	key := resolveKey(dir, request)
	if rec, ok := o.store.Get(ctx, key); ok {
		if o.helper.Check(rec.Snapshot) {
			o.record(true)
			return rec.Result, nil
		}
		o.logger.Debug("resolution invalidated", zap.String("key", key))
		o.store.Remove(key)
	}
	o.record(false)

	res, err := r.next.Resolve(ctx, dir, request)
	if err != nil {
		return res, err
	}
	var paths []string
	if res.Path != "" {
		paths = append(paths, res.Path)
	}
	o.store.Set(key, ResolveRecord{
		Result:   res,
		Snapshot: o.helper.Take(paths, res.FileDependencies, res.MissingDependencies),
	})
	return res, nil
}
