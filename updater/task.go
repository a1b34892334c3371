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

package updater

import (
	"context"

	"golang.org/x/sync/semaphore"

	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/loader"
	"bennypowers.dev/fardel/resolve"
)

// task is one unit of repair work. The set of tasks is closed; dispatch
// handles every kind in one switch. Async tasks only read their own fields
// and run off the main loop; every other task mutates the graph on it.
type task interface {
	isTask()
}

// factorizeTask resolves a dependency. Async.
type factorizeTask struct {
	dep     graph.DependencyID
	context string
	request string
}

// factorizeResultTask records a resolution and creates the target module.
type factorizeResultTask struct {
	dep    graph.DependencyID
	result resolve.Result
	err    error
}

// addTask inserts a module, if new, and connects a dependency to it.
type addTask struct {
	dep    graph.DependencyID
	module *graph.Module
}

// buildTask reads and loads a module. Async.
type buildTask struct {
	module   graph.ModuleIdentifier
	resource string
}

// buildResultTask replaces a module's build output and dependencies.
type buildResultTask struct {
	module  graph.ModuleIdentifier
	content []byte
	result  *loader.Result
	err     error
}

// processDependenciesTask creates a module's dependencies in source order.
type processDependenciesTask struct {
	module  graph.ModuleIdentifier
	imports []loader.Import
}

// processUnlazyTask builds lazy dependencies on request.
type processUnlazyTask struct {
	deps []graph.DependencyID
}

// cleanTask revokes modules left without incoming connections.
type cleanTask struct {
	modules []graph.ModuleIdentifier
}

func (*factorizeTask) isTask()           {}
func (*factorizeResultTask) isTask()     {}
func (*addTask) isTask()                 {}
func (*buildTask) isTask()               {}
func (*buildResultTask) isTask()         {}
func (*processDependenciesTask) isTask() {}
func (*processUnlazyTask) isTask()       {}
func (*cleanTask) isTask()               {}

// scheduler is a FIFO of main tasks plus a bounded pool for async tasks.
// Async results come back on a channel and are queued as main tasks.
type scheduler struct {
	ctx     context.Context
	queue   []task
	results chan task
	pending int
	sem     *semaphore.Weighted
	count   int
}

func newScheduler(ctx context.Context, parallelism int) *scheduler {
	return &scheduler{
		// Batches are not cancelled midway; work runs to completion.
		ctx:     context.WithoutCancel(ctx),
		results: make(chan task),
		sem:     semaphore.NewWeighted(int64(parallelism)),
	}
}

func (s *scheduler) push(t task) {
	s.queue = append(s.queue, t)
}

// spawn runs fn on the pool and queues its result.
func (s *scheduler) spawn(fn func(ctx context.Context) task) {
	s.pending++
	go func() {
		// Acquire cannot fail on a context without cancellation.
		_ = s.sem.Acquire(s.ctx, 1)
		result := fn(s.ctx)
		s.sem.Release(1)
		s.results <- result
	}()
}

// drain runs tasks until the queue is empty and no async task is pending.
func (s *scheduler) drain(dispatch func(task)) {
	for {
		if len(s.queue) == 0 {
			if s.pending == 0 {
				return
			}
			s.queue = append(s.queue, <-s.results)
			s.pending--
			continue
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.count++
		dispatch(t)
	}
}
