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

import "bennypowers.dev/fardel/graph"

// Entry is a named entry request resolved from Context.
type Entry struct {
	Name    string
	Request string
	Context string
}

type paramKind int

const (
	paramBuildEntry paramKind = iota
	paramBuildEntryAndClean
	paramCheckNeedBuild
	paramModifiedFiles
	paramRemovedFiles
	paramForceBuildModules
	paramUnlazyDependencies
)

func (k paramKind) String() string {
	return [...]string{
		"build entry",
		"build entry and clean",
		"check need build",
		"modified files",
		"removed files",
		"force build modules",
		"unlazy dependencies",
	}[k]
}

// UpdateParam is one change applied by Update.
type UpdateParam struct {
	kind    paramKind
	entries []Entry
	files   []string
	modules []graph.ModuleIdentifier
	deps    []graph.DependencyID
}

// BuildEntry adds entries. Existing entries with the same name, request and
// context keep their dependency.
func BuildEntry(entries ...Entry) UpdateParam {
	return UpdateParam{kind: paramBuildEntry, entries: entries}
}

// BuildEntryAndClean makes entries the complete entry set, removing entry
// dependencies that are not listed.
func BuildEntryAndClean(entries ...Entry) UpdateParam {
	return UpdateParam{kind: paramBuildEntryAndClean, entries: entries}
}

// CheckNeedBuild rebuilds modules whose resource content changed and
// re-resolves failed dependencies whose missing paths now exist. It is used
// when no list of changed files is available.
func CheckNeedBuild() UpdateParam {
	return UpdateParam{kind: paramCheckNeedBuild}
}

// ModifiedFiles reports created or changed paths.
func ModifiedFiles(paths ...string) UpdateParam {
	return UpdateParam{kind: paramModifiedFiles, files: paths}
}

// RemovedFiles reports deleted paths.
func RemovedFiles(paths ...string) UpdateParam {
	return UpdateParam{kind: paramRemovedFiles, files: paths}
}

// ForceBuildModules rebuilds modules regardless of changes.
func ForceBuildModules(ids ...graph.ModuleIdentifier) UpdateParam {
	return UpdateParam{kind: paramForceBuildModules, modules: ids}
}

// UnlazyDependencies builds lazy dependencies.
func UnlazyDependencies(ids ...graph.DependencyID) UpdateParam {
	return UpdateParam{kind: paramUnlazyDependencies, deps: ids}
}

func (p UpdateParam) String() string {
	return p.kind.String()
}
