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

package compilation

import (
	"bennypowers.dev/fardel/hook"
	"bennypowers.dev/fardel/updater"
)

// optimizeModulesLimit bounds the OptimizeModules loop.
const optimizeModulesLimit = 100

// MakeArgs is passed to the Make hook before the module graph is updated.
// Taps may add entries and params.
type MakeArgs struct {
	Compilation *Compilation
	Entries     []updater.Entry
	Params      []updater.UpdateParam
}

// Hooks are the compiler's extension points, called in pipeline order.
// Every hook except Done receives the compilation in progress.
type Hooks struct {
	Make *hook.Series[*MakeArgs]
	// RevokedModules is the updater's hook, called while the module graph
	// is updated.
	RevokedModules *hook.Series[*updater.RevokedModulesArgs]
	// FinishModules runs once the module graph is final. The built-in
	// async inference tap runs at hook.StageEarly.
	FinishModules        *hook.Series[*Compilation]
	OptimizeDependencies *hook.Series[*Compilation]
	// OptimizeModules runs again while any tap bails with true.
	OptimizeModules *hook.SeriesBail[*Compilation, bool]
	// BuildChunkGraph runs after the chunk graph is built.
	BuildChunkGraph *hook.Series[*Compilation]
	// ProcessAssets may add, replace or delete assets before they are
	// emitted.
	ProcessAssets *hook.Series[*Compilation]
	Done          *hook.Series[*Stats]
}

func newHooks(u *updater.Updater) Hooks {
	return Hooks{
		Make:                 new(hook.Series[*MakeArgs]),
		RevokedModules:       &u.Hooks.RevokedModules,
		FinishModules:        new(hook.Series[*Compilation]),
		OptimizeDependencies: new(hook.Series[*Compilation]),
		OptimizeModules:      new(hook.SeriesBail[*Compilation, bool]),
		BuildChunkGraph:      new(hook.Series[*Compilation]),
		ProcessAssets:        new(hook.Series[*Compilation]),
		Done:                 new(hook.Series[*Stats]),
	}
}
