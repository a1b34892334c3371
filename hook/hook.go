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

// Package hook provides ordered, stage-keyed hook taps for compilation passes.
//
// A hook is a list of named closures. Taps run in ascending stage order;
// taps with equal stages run in registration order.
package hook

import (
	"cmp"
	"fmt"
	"slices"
)

// Stage orders taps within a hook. Lower stages run first.
type Stage int

const (
	StageEarly   Stage = -100
	StageDefault Stage = 0
	StageLate    Stage = 100
)

type tap[F any] struct {
	name  string
	stage Stage
	seq   int
	fn    F
}

type taps[F any] struct {
	list []tap[F]
}

func (t *taps[F]) add(name string, stage Stage, fn F) {
	t.list = append(t.list, tap[F]{name: name, stage: stage, seq: len(t.list), fn: fn})
	slices.SortStableFunc(t.list, func(a, b tap[F]) int {
		if c := cmp.Compare(a.stage, b.stage); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

// Names returns tap names in execution order.
func (t *taps[F]) names() []string {
	names := make([]string, len(t.list))
	for i, tp := range t.list {
		names[i] = tp.name
	}
	return names
}

// Series runs every tap in order and stops at the first error.
type Series[A any] struct {
	taps[func(A) error]
}

// Tap registers fn at StageDefault.
func (h *Series[A]) Tap(name string, fn func(A) error) {
	h.add(name, StageDefault, fn)
}

// TapStage registers fn at the given stage.
func (h *Series[A]) TapStage(name string, stage Stage, fn func(A) error) {
	h.add(name, stage, fn)
}

// Len returns the number of registered taps.
func (h *Series[A]) Len() int { return len(h.list) }

// Names returns tap names in execution order.
func (h *Series[A]) Names() []string { return h.names() }

// Call runs all taps with arg.
func (h *Series[A]) Call(arg A) error {
	for _, tp := range h.list {
		if err := tp.fn(arg); err != nil {
			return fmt.Errorf("%s: %w", tp.name, err)
		}
	}
	return nil
}

// SeriesBail runs taps in order until one reports a result.
type SeriesBail[A, R any] struct {
	taps[func(A) (R, bool, error)]
}

// Tap registers fn at StageDefault. fn returns ok=true to bail with its result.
func (h *SeriesBail[A, R]) Tap(name string, fn func(A) (R, bool, error)) {
	h.add(name, StageDefault, fn)
}

// TapStage registers fn at the given stage.
func (h *SeriesBail[A, R]) TapStage(name string, stage Stage, fn func(A) (R, bool, error)) {
	h.add(name, stage, fn)
}

// Len returns the number of registered taps.
func (h *SeriesBail[A, R]) Len() int { return len(h.list) }

// Call runs taps until one bails. ok is false when no tap produced a result.
func (h *SeriesBail[A, R]) Call(arg A) (result R, ok bool, err error) {
	for _, tp := range h.list {
		result, ok, err = tp.fn(arg)
		if err != nil {
			var zero R
			return zero, false, fmt.Errorf("%s: %w", tp.name, err)
		}
		if ok {
			return result, true, nil
		}
	}
	var zero R
	return zero, false, nil
}

// Loop calls h repeatedly while some tap bails with true, up to limit
// iterations. It returns the number of iterations run.
func Loop[A any](h *SeriesBail[A, bool], arg A, limit int) (int, error) {
	for i := range limit {
		again, ok, err := h.Call(arg)
		if err != nil {
			return i + 1, err
		}
		if !ok || !again {
			return i + 1, nil
		}
	}
	return limit, fmt.Errorf("hook loop did not settle after %d iterations", limit)
}
