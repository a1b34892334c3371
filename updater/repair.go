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
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/segmentio/encoding/json"

	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/graph"
)

// repair is the state of one Update.
type repair struct {
	u     *Updater
	a     *Artifact
	g     *graph.ModuleGraph
	sched *scheduler

	building    set[graph.ModuleIdentifier]
	factorizing set[graph.DependencyID]
	added       set[graph.ModuleIdentifier]
	// candidates may have lost their last incoming connection.
	candidates set[graph.ModuleIdentifier]
	// doomed modules are reported to the RevokedModules hook.
	doomed set[graph.ModuleIdentifier]

	// Work dropped after a bail error.
	interruptedDeps    set[graph.DependencyID]
	interruptedModules set[graph.ModuleIdentifier]

	oldMeta      map[graph.ModuleIdentifier]graph.BuildMeta
	oldSignature map[graph.ModuleIdentifier]string

	err error
}

func newRepair(u *Updater, a *Artifact, sched *scheduler) *repair {
	return &repair{
		u:            u,
		a:            a,
		g:            a.graph,
		sched:        sched,
		building:     make(set[graph.ModuleIdentifier]),
		factorizing:  make(set[graph.DependencyID]),
		added:        make(set[graph.ModuleIdentifier]),
		candidates:   make(set[graph.ModuleIdentifier]),
		doomed:       make(set[graph.ModuleIdentifier]),

		interruptedDeps:    make(set[graph.DependencyID]),
		interruptedModules: make(set[graph.ModuleIdentifier]),

		oldMeta:      make(map[graph.ModuleIdentifier]graph.BuildMeta),
		oldSignature: make(map[graph.ModuleIdentifier]string),
	}
}

func (r *repair) dispatch(t task) {
	switch t := t.(type) {
	case *factorizeTask:
		if r.err != nil {
			delete(r.factorizing, t.dep)
			r.interruptedDeps.add(t.dep)
			return
		}
		r.sched.spawn(func(ctx context.Context) task {
			res, err := r.u.resolver.Resolve(ctx, t.context, t.request)
			return &factorizeResultTask{dep: t.dep, result: res, err: err}
		})
	case *factorizeResultTask:
		r.factorizeResult(t)
	case *addTask:
		r.add(t)
	case *buildTask:
		if r.err != nil {
			delete(r.building, t.module)
			r.interruptedModules.add(t.module)
			return
		}
		r.sched.spawn(func(ctx context.Context) task {
			content, err := r.u.fs.ReadFile(t.resource)
			if err != nil {
				return &buildResultTask{module: t.module, err: err}
			}
			res, err := r.u.loader.Load(ctx, t.resource, content)
			return &buildResultTask{module: t.module, content: content, result: res, err: err}
		})
	case *buildResultTask:
		r.buildResult(t)
	case *processDependenciesTask:
		r.processDependencies(t)
	case *processUnlazyTask:
		r.processUnlazy(t)
	case *cleanTask:
		r.clean(t)
	default:
		panic(fmt.Sprintf("updater: unknown task %T", t))
	}
}

// fail records d as the bail error when bail is on. cause, if any, is the
// error d was made from.
func (r *repair) fail(d diagnostic.Diagnostic, cause error) {
	if !r.u.opts.Bail || r.err != nil {
		return
	}
	if cause != nil {
		r.err = fmt.Errorf("bail: %w: %w", d, cause)
		return
	}
	r.err = fmt.Errorf("bail: %w", d)
}

// touch records the outgoing signature of id before it changes. The empty
// identifier stands for the entry set.
func (r *repair) touch(id graph.ModuleIdentifier) {
	if _, ok := r.oldSignature[id]; ok {
		return
	}
	if id != "" && !r.g.HasModule(id) {
		return
	}
	r.oldSignature[id] = r.signature(id)
}

func (r *repair) signature(id graph.ModuleIdentifier) string {
	var b strings.Builder
	write := func(deps []graph.DependencyID) {
		for _, dep := range deps {
			d := r.g.Dependency(dep)
			if d == nil {
				continue
			}
			target := ""
			if c := r.g.ConnectionByDependency(dep); c != nil {
				target = string(c.Module)
			}
			fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%t\n", d.Type, d.Request, target, d.Lazy)
		}
	}
	if id == "" {
		for _, name := range slices.Sorted(maps.Keys(r.a.entries)) {
			b.WriteString(name + ":\n")
			write(r.a.entries[name])
		}
		return b.String()
	}
	if m := r.g.Module(id); m != nil {
		write(m.Dependencies)
	}
	return b.String()
}

func (r *repair) markDirty(id graph.ModuleIdentifier) {
	if id != "" && r.g.HasModule(id) {
		r.a.dirty.add(id)
	}
}

func (r *repair) scheduleFactorize(d *graph.Dependency) {
	if r.factorizing.has(d.ID) {
		return
	}
	r.factorizing.add(d.ID)
	dir := d.Context
	if dir == "" {
		if parent := r.g.Module(d.Parent); parent != nil {
			dir = path.Dir(parent.Resource)
		}
	}
	r.sched.push(&factorizeTask{dep: d.ID, context: dir, request: d.Request})
}

// refactorize re-resolves an existing dependency.
func (r *repair) refactorize(d *graph.Dependency) {
	r.touch(d.Parent)
	r.scheduleFactorize(d)
}

func (r *repair) scheduleBuild(id graph.ModuleIdentifier) {
	m := r.g.Module(id)
	if m == nil || m.External || r.building.has(id) {
		return
	}
	r.building.add(id)
	if !r.added.has(id) {
		r.touch(id)
		if _, ok := r.oldMeta[id]; !ok {
			r.oldMeta[id] = m.BuildMeta
		}
	}
	r.sched.push(&buildTask{module: id, resource: m.Resource})
}

func (r *repair) factorizeResult(t *factorizeResultTask) {
	delete(r.factorizing, t.dep)
	d := r.g.Dependency(t.dep)
	if d == nil {
		// Removed by a rebuild of its parent while resolving
		return
	}
	info := &graph.FactorizeInfo{
		FileDependencies:    t.result.FileDependencies,
		MissingDependencies: t.result.MissingDependencies,
	}
	d.FactorizeInfo = info
	r.markDirty(d.Parent)

	if t.err != nil {
		file := ""
		if parent := r.g.Module(d.Parent); parent != nil {
			file = parent.Resource
		}
		diag := diagnostic.FromError(diagnostic.KindResolve, file, t.err).WithLine(d.Span.Line).WithModule(string(d.Parent))
		diag.Request = d.Request
		info.Diagnostics = diagnostic.List{diag}
		if target, ok := r.g.RemoveConnection(d.ID); ok {
			r.candidates.add(target)
		}
		r.fail(diag, t.err)
		return
	}

	var m *graph.Module
	if t.result.External {
		m = graph.NewExternalModule(t.result.Request)
	} else {
		m = graph.NewNormalModule(t.result.Path)
	}
	r.sched.push(&addTask{dep: d.ID, module: m})
}

func (r *repair) add(t *addTask) {
	d := r.g.Dependency(t.dep)
	if d == nil {
		return
	}
	id := t.module.Identifier
	if prev := r.g.ConnectionByDependency(d.ID); prev != nil && prev.Module != id {
		r.candidates.add(prev.Module)
	}
	if !r.g.HasModule(id) {
		r.g.AddModule(t.module)
		r.added.add(id)
		if t.module.External {
			r.a.built.add(id)
			r.a.dirty.add(id)
		} else if r.err == nil {
			r.scheduleBuild(id)
		} else {
			r.interruptedModules.add(id)
		}
	}
	if err := r.g.SetResolvedModule(d.ID, id); err != nil {
		panic(fmt.Sprintf("updater: connecting a module that was just added: %v", err))
	}
	r.markDirty(d.Parent)
}

func (r *repair) buildResult(t *buildResultTask) {
	m := r.g.Module(t.module)
	if m == nil {
		return
	}
	delete(r.building, t.module)
	r.a.built.add(m.Identifier)
	r.a.dirty.add(m.Identifier)

	// The previous dependencies are replaced; their targets may now be
	// unreferenced.
	for _, dep := range slices.Clone(m.Dependencies) {
		if target, ok := r.g.RemoveDependency(dep); ok {
			r.candidates.add(target)
		}
		delete(r.factorizing, dep)
	}
	m.Dependencies = nil
	prev := m.BuildInfo
	m.BuildInfo = graph.BuildInfo{FileDependencies: []string{m.Resource}}
	if t.content != nil {
		m.BuildInfo.Hash = contentHash(t.content)
	}

	var diags diagnostic.List
	if t.err != nil {
		diags = diagnostic.List{diagnostic.FromError(diagnostic.KindBuild, m.Resource, t.err)}
	} else {
		diags = slices.Clone(t.result.Diagnostics)
	}
	for i := range diags {
		diags[i] = diags[i].WithModule(string(m.Identifier))
	}
	m.Diagnostics = diags

	if diags.HasErrors() {
		// Dependents see the previous BuildMeta again after fixBuildMeta, and
		// async inference still sees the previous top-level await.
		m.BuildMeta = graph.BuildMeta{}
		m.BuildInfo.TopLevelAwait = prev.TopLevelAwait
		m.Source = errorStub(diags.Errors()[0])
		r.fail(diags.Errors()[0], t.err)
		return
	}

	res := t.result
	m.Source = res.Content
	if res.SourceType != "" {
		m.SourceTypes = []graph.SourceType{res.SourceType}
	}
	m.BuildMeta = graph.BuildMeta{ESM: res.ESM, Async: res.Async, ExportsType: graph.ExportsTypeDynamic}
	if res.ESM {
		m.BuildMeta.ExportsType = graph.ExportsTypeNamespace
	}
	m.BuildInfo.TopLevelAwait = res.Async
	m.BuildInfo.FileDependencies = append(m.BuildInfo.FileDependencies, res.FileDependencies...)
	m.BuildInfo.ContextDependencies = slices.Clone(res.ContextDependencies)
	m.BuildInfo.MissingDependencies = slices.Clone(res.MissingDependencies)

	r.sched.push(&processDependenciesTask{module: m.Identifier, imports: res.Imports})
}

func errorStub(d diagnostic.Diagnostic) []byte {
	msg, err := json.Marshal(d.Error())
	if err != nil {
		msg = []byte(`"build failed"`)
	}
	return []byte("throw new Error(" + string(msg) + ");\n")
}

func (r *repair) processDependencies(t *processDependenciesTask) {
	m := r.g.Module(t.module)
	if m == nil {
		return
	}
	dir := path.Dir(m.Resource)
	for _, imp := range t.imports {
		d := &graph.Dependency{
			ID:      r.u.ids.Next(),
			Type:    imp.Kind.DependencyType(),
			Request: imp.Specifier,
			Context: dir,
			Span:    imp.Span(),
			Parent:  m.Identifier,
		}
		if r.u.opts.LazyCompilation && d.Type.IsAsync() && !r.a.unlazied.has(UnlazyKey(m.Identifier, d.Request)) {
			d.Lazy = true
		}
		r.g.AddDependency(d)
		m.Dependencies = append(m.Dependencies, d.ID)
		if !d.Lazy {
			r.scheduleFactorize(d)
		}
	}
}

func (r *repair) processUnlazy(t *processUnlazyTask) {
	for _, id := range t.deps {
		d := r.g.Dependency(id)
		if d == nil || !d.Lazy {
			continue
		}
		r.touch(d.Parent)
		d.Lazy = false
		r.a.unlazied.add(UnlazyKey(d.Parent, d.Request))
		r.markDirty(d.Parent)
		r.scheduleFactorize(d)
	}
}

func (r *repair) clean(t *cleanTask) {
	for _, id := range t.modules {
		if !r.g.HasModule(id) || r.g.IncomingCount(id) > 0 {
			continue
		}
		dependents, ok := r.g.RevokeModule(id)
		if !ok {
			continue
		}
		r.revoked(id)
		if len(dependents) > 0 {
			r.sched.push(&cleanTask{modules: dependents})
		}
	}
}

func (r *repair) revoked(id graph.ModuleIdentifier) {
	r.a.revoked.add(id)
	delete(r.a.built, id)
	delete(r.a.dirty, id)
	delete(r.oldMeta, id)
	delete(r.oldSignature, id)
}

// sweep revokes modules unreachable from any entry. Clean tasks cannot
// remove cycles because every module in a cycle keeps an incoming
// connection; the cycle's internal dependencies are removed first.
func (r *repair) sweep() {
	reachable := make(set[graph.ModuleIdentifier])
	var stack []graph.ModuleIdentifier
	for _, deps := range r.a.entries {
		for _, dep := range deps {
			if c := r.g.ConnectionByDependency(dep); c != nil {
				stack = append(stack, c.Module)
			}
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable.has(id) {
			continue
		}
		reachable.add(id)
		for _, c := range r.g.OutgoingConnections(id) {
			stack = append(stack, c.Module)
		}
	}

	var unreachable []graph.ModuleIdentifier
	for _, id := range r.g.Modules() {
		if !reachable.has(id) {
			unreachable = append(unreachable, id)
		}
	}
	for _, id := range unreachable {
		for _, dep := range slices.Clone(r.g.Module(id).Dependencies) {
			r.g.RemoveDependency(dep)
		}
	}
	for _, id := range unreachable {
		if _, ok := r.g.RevokeModule(id); !ok {
			panic(fmt.Sprintf("updater: unreachable module %s still has incoming connections", id))
		}
		r.revoked(id)
	}
}

// resumeInterrupted re-enters the work a previous bail left undone: modules
// first, so dependencies of a module being rebuilt are not resolved twice.
func (r *repair) resumeInterrupted() {
	for _, id := range r.g.Modules() {
		if r.g.Module(id).BuildInfo.Interrupted {
			r.scheduleBuild(id)
		}
	}
	for _, id := range r.g.Dependencies() {
		d := r.g.Dependency(id)
		if d.FactorizeInfo != nil && d.FactorizeInfo.Interrupted && !d.Lazy && !r.building.has(d.Parent) {
			r.refactorize(d)
		}
	}
}

// interrupt flags the work dropped after a bail error, with a diagnostic, so
// the next update resumes it.
func (r *repair) interrupt() {
	for _, id := range sorted(r.interruptedDeps) {
		d := r.g.Dependency(id)
		if d == nil || r.g.ConnectionByDependency(id) != nil {
			continue
		}
		file := ""
		if parent := r.g.Module(d.Parent); parent != nil {
			file = parent.Resource
		}
		diag := diagnostic.Errorf(diagnostic.KindResolve, file, "%s was not resolved: the build stopped at an earlier error", d.Request).
			WithLine(d.Span.Line).WithModule(string(d.Parent))
		diag.Request = d.Request
		d.FactorizeInfo = &graph.FactorizeInfo{Diagnostics: diagnostic.List{diag}, Interrupted: true}
		r.markDirty(d.Parent)
	}
	for _, id := range sorted(r.interruptedModules) {
		m := r.g.Module(id)
		if m == nil || m.External {
			continue
		}
		m.BuildInfo.Interrupted = true
		if len(m.BuildInfo.FileDependencies) == 0 {
			// Never built
			m.BuildInfo.FileDependencies = []string{m.Resource}
			m.Diagnostics = diagnostic.List{
				diagnostic.Errorf(diagnostic.KindBuild, m.Resource, "not built: the build stopped at an earlier error").WithModule(string(id)),
			}
		}
		r.a.dirty.add(id)
	}
}

// fixBuildMeta restores the previous BuildMeta of modules whose rebuild
// failed.
func (r *repair) fixBuildMeta() {
	for id, meta := range r.oldMeta {
		if m := r.g.Module(id); m != nil && m.HasErrors() {
			m.BuildMeta = meta
		}
	}
}

func (r *repair) graphChanged() bool {
	if len(r.added) > 0 || len(r.a.revoked) > 0 {
		return true
	}
	for id, old := range r.oldSignature {
		if r.signature(id) != old {
			return true
		}
	}
	return false
}
