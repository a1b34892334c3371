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

// Package config loads fardel's configuration from a config file, FARDEL_
// environment variables and command-line flags, through viper.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"bennypowers.dev/fardel/cache"
	"bennypowers.dev/fardel/cache/snapshot"
	"bennypowers.dev/fardel/chunk"
	"bennypowers.dev/fardel/compilation"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/internal/version"
	"bennypowers.dev/fardel/resolve"
	"bennypowers.dev/fardel/storage/redisstore"
	"bennypowers.dev/fardel/watch"
)

// Name is the config file name, without extension.
const Name = "fardel"

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("context", ".")
	v.SetDefault("output.path", compilation.DefaultOutputDir)
	v.SetDefault("output.filename", chunk.DefaultFilename)
	v.SetDefault("output.chunkFilename", chunk.DefaultChunkFilename)
	v.SetDefault("cache.type", string(cache.TypeMemory))
	v.SetDefault("cache.directory", "node_modules/.cache/fardel")
	v.SetDefault("cache.maxGenerations", cache.DefaultMaxGenerations)
	v.SetDefault("snapshot.managedPaths", snapshot.DefaultOptions().ManagedPaths)
	v.SetDefault("watch.debounce", watch.DefaultDebounce)
	v.SetDefault("watch.gitignore", true)
}

// Read reads the config file: file when set, otherwise fardel.{yaml,yml,json,toml}
// in dir if there is one. Environment variables are bound with the FARDEL_
// prefix, dots becoming underscores.
func Read(v *viper.Viper, dir, file string) error {
	v.SetEnvPrefix("FARDEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
		return nil
	}
	v.SetConfigName(Name)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Project registers defaults, reads the configuration and returns the
// project directory. dir comes from the command line and wins over the
// context key; when empty the config file is searched in the working
// directory.
func Project(v *viper.Viper, dir, file string) (string, error) {
	SetDefaults(v)
	if err := Read(v, cmp.Or(dir, "."), file); err != nil {
		return "", err
	}
	if dir == "" {
		return Context(v)
	}
	abs, err := fs.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid context directory: %w", err)
	}
	return abs, nil
}

// Context returns the absolute project directory. A relative context is
// relative to the config file, or to the working directory without one.
func Context(v *viper.Viper) (string, error) {
	dir := v.GetString("context")
	if !filepath.IsAbs(dir) {
		base := "."
		if file := v.ConfigFileUsed(); file != "" {
			base = filepath.Dir(file)
		}
		dir = filepath.Join(base, dir)
	}
	abs, err := fs.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid context directory: %w", err)
	}
	return abs, nil
}

// Entries reads the entry key: a map of names to a request or a list of
// requests.
func Entries(v *viper.Viper) (map[string][]string, error) {
	raw := v.GetStringMap("entry")
	entries := make(map[string][]string, len(raw))
	for name, value := range raw {
		switch value := value.(type) {
		case string:
			entries[name] = []string{value}
		case []any:
			for _, r := range value {
				s, ok := r.(string)
				if !ok {
					return nil, fmt.Errorf("entry %s: request %v is not a string", name, r)
				}
				entries[name] = append(entries[name], s)
			}
		case []string:
			entries[name] = slices.Clone(value)
		default:
			return nil, fmt.Errorf("entry %s: want a request or a list of requests, got %T", name, value)
		}
	}
	return entries, nil
}

// ArgEntries turns command-line entries into named entries. An argument is
// name=request, or a request or doublestar glob relative to context, in
// which case each matching file is named by its path without extension.
func ArgEntries(context string, args []string) (map[string][]string, error) {
	entries := make(map[string][]string)
	for _, arg := range args {
		if name, request, ok := strings.Cut(arg, "="); ok {
			entries[name] = append(entries[name], request)
			continue
		}
		pattern := strings.TrimPrefix(path.Clean(filepath.ToSlash(arg)), "./")
		matches, err := doublestar.Glob(os.DirFS(context), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("entry %q matches no files", arg)
		}
		for _, m := range matches {
			name := strings.TrimSuffix(m, path.Ext(m))
			entries[name] = append(entries[name], "./"+m)
		}
	}
	return entries, nil
}

// CompilationOptions builds compiler options for the project in context.
// entries, when not empty, replace the configured ones.
func CompilationOptions(v *viper.Viper, context string, entries map[string][]string) (compilation.Options, error) {
	if len(entries) == 0 {
		var err error
		if entries, err = Entries(v); err != nil {
			return compilation.Options{}, err
		}
	}
	if len(entries) == 0 {
		return compilation.Options{}, errors.New("no entries configured")
	}
	for _, key := range []string{"externals", "snapshot.immutablePaths", "snapshot.managedPaths"} {
		for _, pattern := range v.GetStringSlice(key) {
			if !doublestar.ValidatePattern(pattern) {
				return compilation.Options{}, fmt.Errorf("%s: invalid pattern %q", key, pattern)
			}
		}
	}

	outputPath := v.GetString("output.path")
	if !path.IsAbs(outputPath) {
		outputPath = path.Join(context, outputPath)
	}

	return compilation.Options{
		Context: context,
		Entry:   entries,
		Output: compilation.Output{
			Path:          outputPath,
			Filename:      v.GetString("output.filename"),
			ChunkFilename: v.GetString("output.chunkFilename"),
		},
		Resolve: resolve.Options{
			Root:       context,
			Extensions: v.GetStringSlice("resolve.extensions"),
			Conditions: v.GetStringSlice("resolve.conditions"),
			Externals:  v.GetStringSlice("externals"),
		},
		Parallelism:     v.GetInt("parallelism"),
		Bail:            v.GetBool("bail"),
		LazyCompilation: v.GetBool("lazyCompilation"),
		Incremental:     v.GetBool("incremental"),
		Cache:           CacheOptions(v, context),
	}, nil
}

// CacheOptions builds cache options for the project in context. A relative
// cache directory is relative to context.
func CacheOptions(v *viper.Viper, context string) cache.Options {
	cacheType := cache.Type(v.GetString("cache.type"))
	if cacheType == "none" {
		cacheType = cache.TypeDisabled
	}
	dir := v.GetString("cache.directory")
	if !path.IsAbs(dir) {
		dir = path.Join(context, dir)
	}
	return cache.Options{
		Type:           cacheType,
		Directory:      dir,
		Version:        cmp.Or(v.GetString("cache.version"), version.CacheVersion()),
		MaxGenerations: v.GetUint32("cache.maxGenerations"),
		Expire:         v.GetDuration("cache.expire"),
		BucketSize:     v.GetInt("cache.bucketSize"),
		PageSize:       v.GetInt("cache.pageSize"),
		PageItems:      v.GetInt("cache.pageItems"),
		Redis: redisstore.Config{
			Addr:     v.GetString("cache.redis.addr"),
			Password: v.GetString("cache.redis.password"),
			DB:       v.GetInt("cache.redis.db"),
			Prefix:   v.GetString("cache.redis.prefix"),
		},
		Snapshot: snapshot.Options{
			ImmutablePaths: v.GetStringSlice("snapshot.immutablePaths"),
			ManagedPaths:   v.GetStringSlice("snapshot.managedPaths"),
		},
	}
}

// WatchOptions builds watcher options. The output and cache directories are
// always ignored when they are inside context.
func WatchOptions(v *viper.Viper, opts compilation.Options) watch.Options {
	ignore := slices.Clone(v.GetStringSlice("watch.ignore"))
	for _, dir := range []string{opts.Output.Path, opts.Cache.Directory} {
		if rel, ok := strings.CutPrefix(dir, opts.Context+"/"); ok {
			ignore = append(ignore, doublestar.EscapeMeta(rel), doublestar.EscapeMeta(rel)+"/**")
		}
	}
	return watch.Options{
		Debounce:  v.GetDuration("watch.debounce"),
		Ignore:    ignore,
		GitIgnore: v.GetBool("watch.gitignore"),
	}
}
