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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/fardel/cache"
	"bennypowers.dev/fardel/internal/config"
	"bennypowers.dev/fardel/internal/version"
)

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

func load(t *testing.T, dir, file string) *viper.Viper {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, config.Read(v, dir, file))
	return v
}

func TestReadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fardel.yaml"), `
entry:
  main: ./src/main.js
  admin:
    - ./src/admin.js
    - ./src/polyfills.js
output:
  path: build
  filename: "[name].[contenthash].js"
resolve:
  extensions: [.js, .ts]
  conditions: [browser, import]
externals: ["lit", "@lit/**"]
parallelism: 4
bail: true
lazyCompilation: true
incremental: true
cache:
  type: persistent
  expire: 24h
  pageSize: 128
  pageItems: 50
`)
	v := load(t, dir, "")
	ctx, err := config.Context(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(dir), ctx)

	opts, err := config.CompilationOptions(v, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"main":  {"./src/main.js"},
		"admin": {"./src/admin.js", "./src/polyfills.js"},
	}, opts.Entry)
	assert.Equal(t, ctx+"/build", opts.Output.Path)
	assert.Equal(t, "[name].[contenthash].js", opts.Output.Filename)
	assert.Equal(t, "[id].chunk.js", opts.Output.ChunkFilename)
	assert.Equal(t, []string{".js", ".ts"}, opts.Resolve.Extensions)
	assert.Equal(t, []string{"browser", "import"}, opts.Resolve.Conditions)
	assert.Equal(t, []string{"lit", "@lit/**"}, opts.Resolve.Externals)
	assert.Equal(t, 4, opts.Parallelism)
	assert.True(t, opts.Bail)
	assert.True(t, opts.LazyCompilation)
	assert.True(t, opts.Incremental)

	assert.Equal(t, cache.TypePersistent, opts.Cache.Type)
	assert.Equal(t, ctx+"/node_modules/.cache/fardel", opts.Cache.Directory)
	assert.Equal(t, version.CacheVersion(), opts.Cache.Version)
	assert.Equal(t, 24*time.Hour, opts.Cache.Expire)
	assert.Equal(t, 128, opts.Cache.PageSize)
	assert.Equal(t, 50, opts.Cache.PageItems)
	assert.NotEmpty(t, opts.Cache.Snapshot.ManagedPaths)
}

func TestExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "conf", "build.toml")
	writeFile(t, file, `
context = ".."

[entry]
main = "./index.js"

[cache]
type = "false"
`)
	v := load(t, t.TempDir(), file)
	ctx, err := config.Context(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(dir), ctx)

	opts, err := config.CompilationOptions(v, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, cache.TypeDisabled, opts.Cache.Type)
	assert.Equal(t, ctx+"/dist", opts.Output.Path)
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	v := load(t, t.TempDir(), "")
	assert.Empty(t, v.ConfigFileUsed())

	err := config.Read(viper.New(), t.TempDir(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fardel.json"), `{"entry": {"main": "./main.js"}, "cache": {"type": "memory"}}`)
	t.Setenv("FARDEL_CACHE_TYPE", "redis")
	t.Setenv("FARDEL_CACHE_REDIS_ADDR", "localhost:6380")
	t.Setenv("FARDEL_BAIL", "true")

	v := load(t, dir, "")
	opts, err := config.CompilationOptions(v, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, cache.TypeRedis, opts.Cache.Type)
	assert.Equal(t, "localhost:6380", opts.Cache.Redis.Addr)
	assert.True(t, opts.Bail)
}

func TestCompilationOptionsErrors(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	_, err := config.CompilationOptions(v, "/p", nil)
	assert.ErrorContains(t, err, "no entries")

	v.Set("entry", map[string]any{"main": 42})
	_, err = config.CompilationOptions(v, "/p", nil)
	assert.ErrorContains(t, err, "entry main")

	v.Set("entry", map[string]any{"main": "./main.js"})
	v.Set("externals", []string{"[lit"})
	_, err = config.CompilationOptions(v, "/p", nil)
	assert.ErrorContains(t, err, "invalid pattern")
}

func TestArgEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "pages", "home.js"), "")
	writeFile(t, filepath.Join(dir, "src", "pages", "about.ts"), "")
	writeFile(t, filepath.Join(dir, "src", "util.js"), "")

	entries, err := config.ArgEntries(dir, []string{"./src/pages/*", "vendor=lit"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"src/pages/about": {"./src/pages/about.ts"},
		"src/pages/home":  {"./src/pages/home.js"},
		"vendor":          {"lit"},
	}, entries)

	_, err = config.ArgEntries(dir, []string{"./missing/*.js"})
	assert.ErrorContains(t, err, "matches no files")

	v := viper.New()
	config.SetDefaults(v)
	v.Set("entry", map[string]any{"main": "./main.js"})
	opts, err := config.CompilationOptions(v, dir, entries)
	require.NoError(t, err)
	assert.Equal(t, entries, opts.Entry)
}

func TestWatchOptions(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("entry", map[string]any{"main": "./main.js"})
	v.Set("watch.ignore", []string{"**/*.log"})
	opts, err := config.CompilationOptions(v, "/p", nil)
	require.NoError(t, err)

	w := config.WatchOptions(v, opts)
	assert.Equal(t, []string{
		"**/*.log",
		"dist", "dist/**",
		"node_modules/.cache/fardel", "node_modules/.cache/fardel/**",
	}, w.Ignore)
	assert.True(t, w.GitIgnore)
	assert.Equal(t, 100*time.Millisecond, w.Debounce)
}

func TestProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fardel.yml"), "context: ./ignored\nentry:\n  main: ./main.js\n")

	v := viper.New()
	ctx, err := config.Project(v, dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(dir), ctx)
	assert.Equal(t, filepath.Join(dir, "fardel.yml"), v.ConfigFileUsed())
	assert.Equal(t, "[name].js", v.GetString("output.filename"))

	c := config.CacheOptions(v, ctx)
	assert.Equal(t, cache.TypeMemory, c.Type)
	assert.Equal(t, ctx+"/node_modules/.cache/fardel", c.Directory)
}
