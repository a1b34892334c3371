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

package compilation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/fardel/cache"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/compilation"
	"bennypowers.dev/fardel/internal/mapfs"
	"bennypowers.dev/fardel/testutil"
	"bennypowers.dev/fardel/updater"
	"bennypowers.dev/fardel/watch"
)

const root = "/project"

func newCompiler(t *testing.T, mfs *mapfs.MapFileSystem, opts compilation.Options) *compilation.Compiler {
	t.Helper()
	opts.Context = root
	if opts.Entry == nil {
		opts.Entry = map[string][]string{"main": {"./src/main.js"}}
	}
	c, err := compilation.New(context.Background(), mfs, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func assetNames(s *compilation.Stats) []string {
	var names []string
	for _, a := range s.Assets {
		names = append(names, a.Name)
	}
	return names
}

func emittedNames(s *compilation.Stats) []string {
	var names []string
	for _, a := range s.Assets {
		if a.Emitted {
			names = append(names, a.Name)
		}
	}
	return names
}

func lazyProject(t *testing.T) *mapfs.MapFileSystem {
	return testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import { a } from './a.js';\nimport('./lazy.js');\n",
		"src/a.js":    "export const a = 1;\n",
		"src/lazy.js": "export default 2;\n",
	})
}

func TestBuildEmitsEntryAndAsyncChunks(t *testing.T) {
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{})

	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.HasErrors())
	assert.Equal(t, 3, stats.Modules)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, []string{"1.chunk.js", "main.js"}, assetNames(stats))
	assert.Equal(t, []string{"1.chunk.js", "main.js"}, emittedNames(stats))
	assert.NotEmpty(t, stats.ID)

	main, err := mfs.ReadFile("/project/dist/main.js")
	require.NoError(t, err)
	assert.Contains(t, string(main), codegen.Runtime)
	assert.Contains(t, string(main), "/project/src/a.js")
	assert.NotContains(t, string(main), "export default 2")
	assert.Contains(t, string(main), `__fardel__.start(["/project/src/main.js"])`)

	lazy, err := mfs.ReadFile("/project/dist/1.chunk.js")
	require.NoError(t, err)
	assert.Contains(t, string(lazy), "/project/src/lazy.js")
	assert.NotContains(t, string(lazy), codegen.Runtime)
}

func TestRebuildAfterContentChange(t *testing.T) {
	ctx := context.Background()
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{Incremental: true})
	_, err := c.Build(ctx)
	require.NoError(t, err)

	testutil.WriteFiles(t, mfs, root, map[string]string{"src/a.js": "export const a = 3;\n"})
	stats, err := c.Rebuild(ctx, []string{"/project/src/a.js"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BuiltModules)
	assert.True(t, stats.ChunkGraphReused)
	assert.Equal(t, []string{"main.js"}, emittedNames(stats))
	assert.Equal(t, int64(2), stats.Cache["codegen"].Hits, "main.js and lazy.js are generated from cache")

	main, err := mfs.ReadFile("/project/dist/main.js")
	require.NoError(t, err)
	assert.Contains(t, string(main), "export const a = 3;")
}

func TestBuildWithoutChangesEmitsNothing(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, lazyProject(t), compilation.Options{})
	_, err := c.Build(ctx)
	require.NoError(t, err)

	stats, err := c.Build(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.BuiltModules)
	assert.True(t, stats.ChunkGraphReused)
	assert.Empty(t, emittedNames(stats))
	assert.Len(t, stats.Assets, 2)
}

func TestRebuildRemovesStaleAssets(t *testing.T) {
	ctx := context.Background()
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{})
	_, err := c.Build(ctx)
	require.NoError(t, err)
	require.True(t, mfs.Exists("/project/dist/1.chunk.js"))

	testutil.WriteFiles(t, mfs, root, map[string]string{"src/main.js": "import { a } from './a.js';\n"})
	stats, err := c.Rebuild(ctx, []string{"/project/src/main.js"}, nil)
	require.NoError(t, err)
	assert.False(t, stats.ChunkGraphReused)
	assert.Equal(t, 1, stats.RevokedModules)
	assert.Equal(t, []string{"main.js"}, assetNames(stats))
	assert.False(t, mfs.Exists("/project/dist/1.chunk.js"))
}

func TestAsyncModulesPropagateThroughStaticImports(t *testing.T) {
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import './b.js';\nimport('./d.js');\n",
		"src/b.js":    "import { c } from './c.js';\n",
		"src/c.js":    "export const c = await Promise.resolve(1);\n",
		"src/d.js":    "import('./c.js');\n",
	})
	c := newCompiler(t, mfs, compilation.Options{})
	_, err := c.Build(context.Background())
	require.NoError(t, err)

	mg := c.Artifact().Graph()
	assert.True(t, mg.IsAsync("/project/src/c.js"))
	assert.True(t, mg.IsAsync("/project/src/b.js"))
	assert.True(t, mg.IsAsync("/project/src/main.js"))
	assert.False(t, mg.IsAsync("/project/src/d.js"), "dynamic imports do not propagate")

	testutil.WriteFiles(t, mfs, root, map[string]string{"src/c.js": "export const c = 1;\n"})
	_, err = c.Rebuild(context.Background(), []string{"/project/src/c.js"}, nil)
	require.NoError(t, err)
	mg = c.Artifact().Graph()
	assert.False(t, mg.IsAsync("/project/src/b.js"))
	assert.False(t, mg.IsAsync("/project/src/main.js"))
}

func TestFailedRebuildKeepsAsyncModules(t *testing.T) {
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import { a } from './a.js';\nconsole.log(a);\n",
		"src/a.js":    "await 1;\nexport const a = 1;\n",
	})
	c := newCompiler(t, mfs, compilation.Options{})
	ctx := context.Background()
	_, err := c.Build(ctx)
	require.NoError(t, err)

	mg := c.Artifact().Graph()
	require.True(t, mg.IsAsync("/project/src/a.js"))
	require.True(t, mg.IsAsync("/project/src/main.js"))
	before := mg.Module("/project/src/a.js").BuildMeta

	testutil.WriteFiles(t, mfs, root, map[string]string{"src/a.js": "await 1;\nexport const = ;\n"})
	stats, err := c.Rebuild(ctx, []string{"/project/src/a.js"}, nil)
	require.NoError(t, err)
	assert.True(t, stats.HasErrors())

	mg = c.Artifact().Graph()
	assert.Equal(t, before, mg.Module("/project/src/a.js").BuildMeta)
	assert.True(t, mg.IsAsync("/project/src/a.js"))
	assert.True(t, mg.IsAsync("/project/src/main.js"), "importers of a failed async module stay async")
}

func TestHooksRunInPipelineOrder(t *testing.T) {
	c := newCompiler(t, lazyProject(t), compilation.Options{})
	var calls []string
	record := func(name string) func(*compilation.Compilation) error {
		return func(*compilation.Compilation) error {
			calls = append(calls, name)
			return nil
		}
	}
	c.Hooks.Make.Tap("test", func(args *compilation.MakeArgs) error {
		calls = append(calls, "make")
		assert.Nil(t, args.Compilation.ModuleGraph())
		assert.Len(t, args.Entries, 1)
		return nil
	})
	c.Hooks.FinishModules.Tap("test", record("finish modules"))
	c.Hooks.OptimizeDependencies.Tap("test", record("optimize dependencies"))
	rounds := 0
	c.Hooks.OptimizeModules.Tap("test", func(*compilation.Compilation) (bool, bool, error) {
		rounds++
		calls = append(calls, "optimize modules")
		return rounds < 3, true, nil
	})
	c.Hooks.BuildChunkGraph.Tap("test", func(comp *compilation.Compilation) error {
		calls = append(calls, "build chunk graph")
		assert.NotNil(t, comp.ChunkGraph())
		return nil
	})
	c.Hooks.ProcessAssets.Tap("test", func(comp *compilation.Compilation) error {
		calls = append(calls, "process assets")
		_, ok := comp.ModuleCode("/project/src/a.js")
		assert.True(t, ok)
		return nil
	})
	c.Hooks.Done.Tap("test", func(*compilation.Stats) error {
		calls = append(calls, "done")
		return nil
	})

	_, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"make",
		"finish modules",
		"optimize dependencies",
		"optimize modules", "optimize modules", "optimize modules",
		"build chunk graph",
		"process assets",
		"done",
	}, calls)
}

func TestRevokedModulesHook(t *testing.T) {
	ctx := context.Background()
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{})
	var revoked []string
	c.Hooks.RevokedModules.Tap("test", func(args *updater.RevokedModulesArgs) error {
		for _, id := range args.Modules {
			revoked = append(revoked, string(id))
		}
		return nil
	})
	_, err := c.Build(ctx)
	require.NoError(t, err)

	testutil.WriteFiles(t, mfs, root, map[string]string{"src/a.js": "export const a = 4;\n"})
	_, err = c.Rebuild(ctx, []string{"/project/src/a.js"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/project/src/a.js"}, revoked)
}

func TestHookErrorFailsCompilation(t *testing.T) {
	c := newCompiler(t, lazyProject(t), compilation.Options{})
	boom := errors.New("boom")
	c.Hooks.OptimizeDependencies.Tap("Exploding", func(*compilation.Compilation) error { return boom })

	_, err := c.Build(context.Background())
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "seal: optimize dependencies: Exploding: boom")

	// the artifact is back in its slot
	assert.NotNil(t, c.Artifact())
}

func TestProcessAssetsCanEditAssets(t *testing.T) {
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{})
	c.Hooks.ProcessAssets.Tap("Manifest", func(comp *compilation.Compilation) error {
		var names []string
		for _, a := range comp.Assets() {
			names = append(names, a.Name)
		}
		comp.DeleteAsset("1.chunk.js")
		if err := comp.UpdateAsset("main.js", []byte("/* banner */\n")); err != nil {
			return err
		}
		return comp.EmitAsset("manifest.txt", []byte(strings.Join(names, "\n")))
	})

	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.js", "manifest.txt"}, assetNames(stats))

	manifest, err := mfs.ReadFile("/project/dist/manifest.txt")
	require.NoError(t, err)
	assert.Equal(t, "1.chunk.js\nmain.js", string(manifest))
	main, err := mfs.ReadFile("/project/dist/main.js")
	require.NoError(t, err)
	assert.Equal(t, "/* banner */\n", string(main))
	assert.False(t, mfs.Exists("/project/dist/1.chunk.js"))
}

func TestOutputTemplates(t *testing.T) {
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{Output: compilation.Output{
		Path:          "build",
		Filename:      "js/[name].[contenthash].js",
		ChunkFilename: "js/chunk-[id].js",
	}})
	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	names := assetNames(stats)
	require.Len(t, names, 2)
	assert.Equal(t, "js/chunk-1.js", names[0])
	assert.Regexp(t, `^js/main\.[0-9a-f]{16}\.js$`, names[1])
	assert.True(t, mfs.Exists("/project/build/js/chunk-1.js"))
}

func TestHTMLEntry(t *testing.T) {
	mfs := testutil.NewProject(t, root, map[string]string{
		"index.html": `<!doctype html>
<script type="module" src="./src/main.js"></script>
<script type="module">console.log("inline")</script>
<script type="module" src="/src/other.js"></script>
<script src="./legacy.js"></script>`,
		"src/main.js":  "export {};\n",
		"src/other.js": "export {};\n",
	})
	c := newCompiler(t, mfs, compilation.Options{Entry: map[string][]string{"app": {"index.html"}}})
	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.HasErrors())
	assert.Equal(t, 2, stats.Modules)
	assert.Equal(t, []string{"app.js"}, assetNames(stats))
}

func TestMissingEntryDocument(t *testing.T) {
	c := newCompiler(t, lazyProject(t), compilation.Options{Entry: map[string][]string{
		"main": {"./src/main.js"},
		"page": {"page.html"},
	}})
	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	require.True(t, stats.HasErrors())
	assert.Equal(t, "/project/page.html", stats.Diagnostics.Errors()[0].File)
}

func TestResolveErrorsAreDiagnostics(t *testing.T) {
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import './missing.js';\n",
	})
	c := newCompiler(t, mfs, compilation.Options{})
	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.HasErrors())
	assert.Equal(t, []string{"main.js"}, assetNames(stats))
}

type failingGenerator struct {
	codegen.DefaultGenerator
}

func (g failingGenerator) Generate(ctx context.Context, in codegen.ModuleInput) (codegen.ModuleCode, error) {
	if strings.HasSuffix(string(in.Identifier), "a.js") {
		return codegen.ModuleCode{}, errors.New("cannot generate")
	}
	return g.DefaultGenerator.Generate(ctx, in)
}

func TestGeneratorErrorsAreDiagnostics(t *testing.T) {
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{Generator: failingGenerator{}})
	stats, err := c.Build(context.Background())
	require.NoError(t, err)
	require.True(t, stats.HasErrors())
	d := stats.Diagnostics.Errors()[0]
	assert.Equal(t, "/project/src/a.js", d.Module)
	assert.Contains(t, d.Message, "cannot generate")

	main, err := mfs.ReadFile("/project/dist/main.js")
	require.NoError(t, err)
	assert.NotContains(t, string(main), "export const a")
}

func TestBailFailsCompilation(t *testing.T) {
	mfs := testutil.NewProject(t, root, map[string]string{
		"src/main.js": "import './missing.js';\n",
	})
	c := newCompiler(t, mfs, compilation.Options{Bail: true})
	_, err := c.Build(context.Background())
	assert.ErrorContains(t, err, "make: ")
}

func TestUnlazy(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, lazyProject(t), compilation.Options{LazyCompilation: true})
	stats, err := c.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Modules)
	assert.Equal(t, 1, stats.Chunks)

	lazy := c.Artifact().LazyDependencies()
	require.Len(t, lazy, 1)
	stats, err = c.Unlazy(ctx, lazy...)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Modules)
	assert.Equal(t, 2, stats.Chunks)
}

func TestPersistentCacheResumesAcrossCompilers(t *testing.T) {
	ctx := context.Background()
	mfs := lazyProject(t)
	opts := compilation.Options{Cache: cache.Options{Type: cache.TypePersistent, Directory: "/cache", Version: "test"}}

	first := newCompiler(t, mfs, opts)
	stats, err := first.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.BuiltModules)
	require.NoError(t, first.Close())

	second := newCompiler(t, mfs, opts)
	stats, err = second.Build(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.BuiltModules)
	assert.Equal(t, 3, stats.Modules)
	assert.Equal(t, int64(3), stats.Cache["codegen"].Hits)
	assert.Equal(t, int64(2), stats.Cache["render"].Hits)
	assert.Empty(t, emittedNames(stats), "the files on disk are up to date")
}

func TestWatch(t *testing.T) {
	mfs := lazyProject(t)
	c := newCompiler(t, mfs, compilation.Options{})

	batches := make(chan watch.Batch, 3)
	testutil.WriteFiles(t, mfs, root, map[string]string{"src/a.js": "export const a = 5;\n"})
	batches <- watch.Batch{}
	batches <- watch.Batch{Modified: []string{"/project/src/a.js"}}
	close(batches)

	var all []*compilation.Stats
	err := c.Watch(context.Background(), batches, func(s *compilation.Stats, err error) {
		require.NoError(t, err)
		all = append(all, s)
	})
	require.NoError(t, err)
	require.Len(t, all, 2, "empty batches are skipped")
	assert.Equal(t, 3, all[0].BuiltModules)
	assert.Equal(t, 1, all[1].BuiltModules)
}

func TestWatchStopsWithContext(t *testing.T) {
	c := newCompiler(t, lazyProject(t), compilation.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	err := c.Watch(ctx, make(chan watch.Batch), func(*compilation.Stats, error) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsRelativeContext(t *testing.T) {
	_, err := compilation.New(context.Background(), mapfs.New(), compilation.Options{Context: "project"}, nil)
	assert.Error(t, err)
}
