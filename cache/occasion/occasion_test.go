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

package occasion_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/fardel/cache/occasion"
	"bennypowers.dev/fardel/cache/snapshot"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/internal/mapfs"
	"bennypowers.dev/fardel/loader"
	"bennypowers.dev/fardel/resolve"
	"bennypowers.dev/fardel/storage"
	"bennypowers.dev/fardel/testutil"
	"bennypowers.dev/fardel/updater"
)

const root = "/project"

func newStorage(mfs *mapfs.MapFileSystem) *storage.PackStorage {
	return storage.NewPackStorage(mfs, storage.Options{Root: "/cache", Version: "v1"}, nil)
}

func newUpdater(mfs *mapfs.MapFileSystem, ids *graph.IDAllocator) *updater.Updater {
	return updater.New(mfs, resolve.New(mfs, resolve.Options{Root: root}), loader.NewRegistry(), ids, updater.Options{})
}

var mainEntry = updater.Entry{Name: "main", Request: "./src/main.js", Context: root}

func TestMakeRoundTrip(t *testing.T) {
	ctx := context.Background()
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import './a.js';\nimport './missing.js';\n",
		"src/a.js":    "export const a = 1;\n",
	})
	ids := graph.NewIDAllocator()
	a := updater.NewArtifact()
	require.NoError(t, newUpdater(mfs, ids).Update(ctx, a, updater.BuildEntryAndClean(mainEntry)))

	st := newStorage(mfs)
	occasion.NewMake(st, nil).Save(ctx, a, ids)
	require.NoError(t, st.Save(ctx))

	restoredIDs := graph.NewIDAllocator()
	restored, err := occasion.NewMake(newStorage(mfs), nil).Recover(ctx, restoredIDs)
	require.NoError(t, err)
	require.NotNil(t, restored)

	assert.Equal(t, updater.StateDone, restored.State())
	assert.Equal(t, a.Graph().Data(), restored.Graph().Data())
	assert.Equal(t, a.Entries(), restored.Entries())
	assert.Equal(t, a.FailedDependencies(), restored.FailedDependencies())
	assert.Equal(t, ids.Peek(), restoredIDs.Peek())

	// The recovered artifact needs no work for the same entries
	require.NoError(t, newUpdater(mfs, restoredIDs).Update(ctx, restored, updater.BuildEntryAndClean(mainEntry)))
	assert.False(t, restored.HasModuleGraphChange())
	assert.Empty(t, restored.BuiltModules())
}

func TestMakeColdStart(t *testing.T) {
	ids := graph.NewIDAllocator()
	a, err := occasion.NewMake(newStorage(mapfs.New()), nil).Recover(context.Background(), ids)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, graph.DependencyID(0), ids.Peek())
}

func TestMakeSavesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import './a.js';\nimport './b.js';\n",
		"src/a.js":    "export const a = 1;\n",
		"src/b.js":    "export const b = 1;\n",
	})
	ids := graph.NewIDAllocator()
	u := newUpdater(mfs, ids)
	a := updater.NewArtifact()
	require.NoError(t, u.Update(ctx, a, updater.BuildEntryAndClean(mainEntry)))

	st := newStorage(mfs)
	mo := occasion.NewMake(st, nil)
	mo.Save(ctx, a, ids)
	require.NoError(t, st.Save(ctx))

	testutil.WriteFiles(t, mfs, root, map[string]string{"src/main.js": "import './a.js';\n"})
	require.NoError(t, u.Update(ctx, a, updater.ModifiedFiles("/project/src/main.js")))
	require.Equal(t, []graph.ModuleIdentifier{"/project/src/b.js"}, a.RevokedModules())
	mo.Save(ctx, a, ids)
	require.NoError(t, st.Save(ctx))

	loaded, err := newStorage(mfs).Load(ctx, occasion.ScopeMakeModules)
	require.NoError(t, err)
	var keys []string
	for _, item := range loaded {
		keys = append(keys, string(item.Key))
	}
	assert.Equal(t, []string{"/project/src/a.js", "/project/src/main.js"}, keys)

	restored, err := occasion.NewMake(newStorage(mfs), nil).Recover(ctx, graph.NewIDAllocator())
	require.NoError(t, err)
	assert.Equal(t, a.Graph().Data(), restored.Graph().Data())
}

func TestMakeRejectsInconsistentGraph(t *testing.T) {
	ctx := context.Background()
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import './a.js';\n",
		"src/a.js":    "export const a = 1;\n",
	})
	ids := graph.NewIDAllocator()
	a := updater.NewArtifact()
	require.NoError(t, newUpdater(mfs, ids).Update(ctx, a, updater.BuildEntryAndClean(mainEntry)))

	st := newStorage(mfs)
	occasion.NewMake(st, nil).Save(ctx, a, ids)
	st.Remove(occasion.ScopeMakeModules, []byte("/project/src/a.js"))
	require.NoError(t, st.Save(ctx))

	_, err := occasion.NewMake(newStorage(mfs), nil).Recover(ctx, graph.NewIDAllocator())
	assert.ErrorContains(t, err, "inconsistent")
}

type countingResolver struct {
	next  resolve.Resolver
	calls atomic.Int32
}

func (r *countingResolver) Resolve(ctx context.Context, dir, request string) (resolve.Result, error) {
	r.calls.Add(1)
	return r.next.Resolve(ctx, dir, request)
}

func TestResolveOccasion(t *testing.T) {
	ctx := context.Background()
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "",
		"src/util.ts": "export {};\n",
	})
	st := newStorage(mfs)
	helper := snapshot.NewHelper(mfs, snapshot.DefaultOptions())
	o := occasion.NewResolve(occasion.NewStorageStore[occasion.ResolveRecord](st, occasion.ScopeResolve, nil), helper, nil)
	next := &countingResolver{next: resolve.New(mfs, resolve.Options{Root: root})}
	r := o.Wrap(next)

	res, err := r.Resolve(ctx, "/project/src", "./util")
	require.NoError(t, err)
	assert.Equal(t, "/project/src/util.ts", res.Path)
	res, err = r.Resolve(ctx, "/project/src", "./util")
	require.NoError(t, err)
	assert.Equal(t, "/project/src/util.ts", res.Path)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, occasion.Stats{Hits: 1, Misses: 1}, o.Stats())

	// A probed path appearing invalidates the entry
	testutil.WriteFiles(t, mfs, root, map[string]string{"src/util.js": "export {};\n"})
	res, err = r.Resolve(ctx, "/project/src", "./util")
	require.NoError(t, err)
	assert.Equal(t, "/project/src/util.js", res.Path)
	assert.Equal(t, int32(2), next.calls.Load())

	// Failures are not cached
	_, err = r.Resolve(ctx, "/project/src", "./nope")
	require.ErrorIs(t, err, resolve.ErrNotFound)
	_, err = r.Resolve(ctx, "/project/src", "./nope")
	require.ErrorIs(t, err, resolve.ErrNotFound)
	assert.Equal(t, int32(4), next.calls.Load())
}

type countingGenerator struct {
	calls atomic.Int32
}

func (g *countingGenerator) Generate(ctx context.Context, in codegen.ModuleInput) (codegen.ModuleCode, error) {
	g.calls.Add(1)
	return codegen.DefaultGenerator{}.Generate(ctx, in)
}

type countingRenderer struct {
	calls atomic.Int32
}

func (r *countingRenderer) Render(ctx context.Context, in codegen.ChunkInput) ([]byte, error) {
	r.calls.Add(1)
	return codegen.DefaultRenderer{}.Render(ctx, in)
}

func TestCodegenAndRenderOccasions(t *testing.T) {
	ctx := context.Background()
	st := newStorage(mapfs.New())
	gen := &countingGenerator{}
	cg := occasion.NewCodegen(occasion.NewStorageStore[codegen.ModuleCode](st, occasion.ScopeCodegen, nil)).Wrap(gen)

	in := codegen.ModuleInput{Identifier: "/a.js", Hash: "1", Source: []byte("export {};\n")}
	first, err := cg.Generate(ctx, in)
	require.NoError(t, err)
	second, err := cg.Generate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), gen.calls.Load())

	in.Hash = "2"
	_, err = cg.Generate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gen.calls.Load())

	rend := &countingRenderer{}
	r := occasion.NewChunkRender(occasion.NewStorageStore[[]byte](st, occasion.ScopeChunkRender, nil)).Wrap(rend)
	chunk := codegen.ChunkInput{ID: "0", Name: "main", Entry: true, Modules: []codegen.ModuleCode{first}}
	out, err := r.Render(ctx, chunk)
	require.NoError(t, err)
	again, err := r.Render(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Equal(t, int32(1), rend.calls.Load())
}

func TestStorageStoreDropsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	st := newStorage(mapfs.New())
	st.Set(occasion.ScopeCodegen, []byte("k"), []byte("{not json"))
	store := occasion.NewStorageStore[codegen.ModuleCode](st, occasion.ScopeCodegen, nil)

	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)
	_, ok, err := st.Get(ctx, occasion.ScopeCodegen, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}
