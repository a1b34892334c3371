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
	"maps"
	"path"
	"slices"
	"strings"

	"bennypowers.dev/fardel/graph"
)

// cutout maps one param to the tasks that re-enter the affected parts of the
// graph.
func (r *repair) cutout(p UpdateParam) {
	switch p.kind {
	case paramBuildEntry:
		r.buildEntries(p.entries, false)
	case paramBuildEntryAndClean:
		r.buildEntries(p.entries, true)
	case paramCheckNeedBuild:
		r.checkNeedBuild()
	case paramModifiedFiles:
		r.modifiedFiles(p.files)
	case paramRemovedFiles:
		r.removedFiles(p.files)
	case paramForceBuildModules:
		for _, id := range p.modules {
			if r.g.HasModule(id) {
				r.scheduleBuild(id)
				r.doomed.add(id)
			}
		}
	case paramUnlazyDependencies:
		r.sched.push(&processUnlazyTask{deps: slices.Clone(p.deps)})
	}
}

func (r *repair) buildEntries(entries []Entry, clean bool) {
	a := r.a
	r.touch("")
	requested := make(set[string])
	for _, e := range entries {
		key := entryKey(e.Name, e.Request, e.Context)
		requested.add(key)
		if id, ok := a.entryIndex[key]; ok {
			if d := r.g.Dependency(id); d != nil {
				if r.g.ConnectionByDependency(id) == nil || d.FactorizeInfo.Failed() {
					r.scheduleFactorize(d)
				}
				continue
			}
		}
		d := &graph.Dependency{
			ID:      r.u.ids.Next(),
			Type:    graph.DependencyEntry,
			Request: e.Request,
			Context: e.Context,
		}
		r.g.AddDependency(d)
		a.entryIndex[key] = d.ID
		a.entries[e.Name] = append(a.entries[e.Name], d.ID)
		r.scheduleFactorize(d)
	}
	if !clean {
		return
	}

	for _, key := range slices.Sorted(maps.Keys(a.entryIndex)) {
		if requested.has(key) {
			continue
		}
		id := a.entryIndex[key]
		name, _, _ := strings.Cut(key, "\x00")
		if target, ok := r.g.RemoveDependency(id); ok {
			r.candidates.add(target)
			if r.g.IncomingCount(target) == 0 {
				r.doomed.add(target)
			}
		}
		delete(a.entryIndex, key)
		a.entries[name] = slices.DeleteFunc(a.entries[name], func(d graph.DependencyID) bool { return d == id })
		if len(a.entries[name]) == 0 {
			delete(a.entries, name)
		}
	}
}

// checkNeedBuild compares module content hashes with the file system and
// re-resolves dependencies whose probed paths now exist.
func (r *repair) checkNeedBuild() {
	for _, id := range r.g.Modules() {
		m := r.g.Module(id)
		if m.External {
			continue
		}
		content, err := r.u.fs.ReadFile(m.Resource)
		if err != nil {
			r.refactorizeIncoming(id)
			continue
		}
		if contentHash(content) != m.BuildInfo.Hash || slices.ContainsFunc(m.BuildInfo.MissingDependencies, r.u.fs.Exists) {
			r.scheduleBuild(id)
		}
	}
	for _, id := range r.g.Dependencies() {
		d := r.g.Dependency(id)
		if d.FactorizeInfo == nil || r.building.has(d.Parent) {
			continue
		}
		appeared := slices.ContainsFunc(d.FactorizeInfo.MissingDependencies, r.u.fs.Exists)
		vanished := slices.ContainsFunc(d.FactorizeInfo.FileDependencies, func(p string) bool { return !r.u.fs.Exists(p) })
		if appeared || vanished {
			r.refactorize(d)
		}
	}
}

func (r *repair) modifiedFiles(paths []string) {
	changed := make(set[string])
	for _, p := range paths {
		changed.add(path.Clean(p))
	}
	hit := func(list []string) bool { return slices.ContainsFunc(list, changed.has) }
	underContext := func(dirs []string) bool {
		for p := range changed {
			for _, dir := range dirs {
				if p == dir || strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/") {
					return true
				}
			}
		}
		return false
	}

	for _, id := range r.g.Modules() {
		m := r.g.Module(id)
		if m.External {
			continue
		}
		info := m.BuildInfo
		if changed.has(m.Resource) || hit(info.FileDependencies) || hit(info.MissingDependencies) || underContext(info.ContextDependencies) {
			r.scheduleBuild(id)
			r.doomed.add(id)
		}
	}
	for _, id := range r.g.Dependencies() {
		d := r.g.Dependency(id)
		if d.FactorizeInfo == nil || r.building.has(d.Parent) {
			continue
		}
		if hit(d.FactorizeInfo.FileDependencies) || hit(d.FactorizeInfo.MissingDependencies) {
			r.refactorize(d)
		}
	}
}

func (r *repair) removedFiles(paths []string) {
	removed := make(set[string])
	for _, p := range paths {
		removed.add(path.Clean(p))
	}
	hit := func(list []string) bool { return slices.ContainsFunc(list, removed.has) }

	var gone []graph.ModuleIdentifier
	for _, id := range r.g.Modules() {
		m := r.g.Module(id)
		if m.External {
			continue
		}
		if removed.has(m.Resource) {
			gone = append(gone, id)
			r.doomed.add(id)
			continue
		}
		if hit(m.BuildInfo.FileDependencies) {
			r.scheduleBuild(id)
			r.doomed.add(id)
		}
	}
	for _, id := range gone {
		r.refactorizeIncoming(id)
	}
	for _, id := range r.g.Dependencies() {
		d := r.g.Dependency(id)
		if d.FactorizeInfo == nil || r.building.has(d.Parent) {
			continue
		}
		if hit(d.FactorizeInfo.FileDependencies) {
			r.refactorize(d)
		}
	}
}

// refactorizeIncoming re-resolves every dependency pointing at id.
func (r *repair) refactorizeIncoming(id graph.ModuleIdentifier) {
	for _, c := range r.g.IncomingConnections(id) {
		d := r.g.Dependency(c.Dependency)
		if !r.building.has(d.Parent) {
			r.refactorize(d)
		}
	}
}
