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

package snapshot

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"bennypowers.dev/fardel/cache/codec"
	"bennypowers.dev/fardel/storage"
)

// Snapshot maps paths to the strategy recorded for each.
type Snapshot map[string]Strategy

// Take records the current strategy of every path in the given lists.
func (h *Helper) Take(pathLists ...[]string) Snapshot {
	s := make(Snapshot)
	for _, paths := range pathLists {
		for _, p := range paths {
			if _, ok := s[p]; !ok {
				s[p] = h.Compute(p)
			}
		}
	}
	return s
}

// Check reports whether no path in s has changed.
func (h *Helper) Check(s Snapshot) bool {
	for p, strategy := range s {
		if h.Validate(p, strategy) != NoChanged {
			return false
		}
	}
	return true
}

// Tracker keeps the strategies of every path a build depends on in one
// storage scope, so the next process can find what changed while it was not
// running.
type Tracker struct {
	helper  *Helper
	storage storage.Storage
	scope   string
}

// NewTracker creates a tracker writing to scope.
func NewTracker(helper *Helper, st storage.Storage, scope string) *Tracker {
	return &Tracker{helper: helper, storage: st, scope: scope}
}

// Add records the current strategy of each path.
func (t *Tracker) Add(paths []string) error {
	for _, p := range paths {
		data, err := codec.Encode(t.helper.Compute(p))
		if err != nil {
			return err
		}
		t.storage.Set(t.scope, []byte(p), data)
	}
	return nil
}

// Remove forgets paths.
func (t *Tracker) Remove(paths []string) {
	for _, p := range paths {
		t.storage.Remove(t.scope, []byte(p))
	}
}

// Changes validates every tracked path and returns those that were modified
// and those that were deleted, both sorted.
func (t *Tracker) Changes(ctx context.Context) (modified, deleted []string, err error) {
	items, err := t.storage.Load(ctx, t.scope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	seen := make(map[string]ValidateResult)
	for _, item := range items {
		strategy, err := codec.Decode[Strategy](item.Value)
		if err != nil {
			seen[string(item.Key)] = Modified
			continue
		}
		if result := t.helper.Validate(string(item.Key), strategy); result != NoChanged {
			seen[string(item.Key)] = result
		}
	}
	for _, p := range slices.Sorted(maps.Keys(seen)) {
		if seen[p] == Deleted {
			deleted = append(deleted, p)
		} else {
			modified = append(modified, p)
		}
	}
	return modified, deleted, nil
}
