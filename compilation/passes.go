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
	"bytes"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bennypowers.dev/fardel/chunk"
	"bennypowers.dev/fardel/codegen"
	"bennypowers.dev/fardel/diagnostic"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/graph"
	"bennypowers.dev/fardel/hook"
	"bennypowers.dev/fardel/updater"
)

// makeModules checks the artifact out of the slot, brings it up to date and
// puts it back. The slot holds an artifact again whatever happens.
func (c *Compiler) makeModules(comp *Compilation, params []updater.UpdateParam, knownChanges bool) error {
	ctx := comp.ctx
	current := c.slot.Take()
	a, cacheParams, err := c.cache.BeforeMake(ctx, current, knownChanges)
	if err != nil {
		if current == nil {
			current = updater.NewArtifact()
		}
		c.slot.Replace(current)
		return fmt.Errorf("cache: %w", err)
	}

	entries, diags := c.entries()
	for _, d := range diags {
		comp.AddDiagnostic(d)
	}
	args := &MakeArgs{
		Compilation: comp,
		Entries:     entries,
		Params:      append(cacheParams, params...),
	}
	if err := c.Hooks.Make.Call(args); err != nil {
		c.slot.Replace(a)
		return fmt.Errorf("make hook: %w", err)
	}

	c.unchunkedMakes++
	err = c.updater.Update(ctx, a, append(args.Params, updater.BuildEntryAndClean(args.Entries...))...)
	c.slot.Replace(a)
	comp.artifact = c.slot.Read()
	if err != nil {
		return err
	}
	return c.cache.AfterMake(ctx, comp.artifact)
}

func (c *Compiler) finishModules(comp *Compilation) error {
	return c.Hooks.FinishModules.Call(comp)
}

func (c *Compiler) seal(comp *Compilation) error {
	if err := c.Hooks.OptimizeDependencies.Call(comp); err != nil {
		return fmt.Errorf("optimize dependencies: %w", err)
	}
	if _, err := hook.Loop(c.Hooks.OptimizeModules, comp, optimizeModulesLimit); err != nil {
		return fmt.Errorf("optimize modules: %w", err)
	}
	return nil
}

// chunkInput reports a module graph change when the entries moved, since the
// updater only compares modules.
type chunkInput struct {
	*updater.Artifact
	entriesChanged bool
}

func (in chunkInput) HasModuleGraphChange() bool {
	return in.entriesChanged || in.Artifact.HasModuleGraphChange()
}

func (c *Compiler) buildChunkGraph(comp *Compilation) error {
	sig := entrySignature(comp.artifact)
	in := chunkInput{Artifact: comp.artifact, entriesChanged: sig != c.entrySig}

	prev := c.chunkGraph
	var cg *chunk.ChunkGraph
	if c.unchunkedMakes > 1 {
		// an earlier compilation updated the module graph but never got
		// here, so the splitter's view of what changed is incomplete
		cg = c.splitter.Build(in)
	} else {
		cg = c.splitter.UpdateWithCompilation(in)
	}
	c.entrySig, c.chunkGraph, c.unchunkedMakes = sig, cg, 0
	comp.chunkGraph = cg
	comp.reused = prev != nil && cg == prev
	return c.Hooks.BuildChunkGraph.Call(comp)
}

// codeGeneration generates every module placed in a chunk. A module that
// fails to generate is reported and left out of its chunks.
func (c *Compiler) codeGeneration(comp *Compilation) error {
	cg := comp.chunkGraph
	mg := comp.ModuleGraph()
	seen := make(map[graph.ModuleIdentifier]struct{})
	var ids []graph.ModuleIdentifier
	for _, ch := range cg.Chunks() {
		for _, id := range cg.ChunkModules(ch.Ukey) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	codes := make([]codegen.ModuleCode, len(ids))
	errs := make([]error, len(ids))
	g, ctx := errgroup.WithContext(comp.ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, id := range ids {
		in := codegen.NewModuleInput(mg, id)
		g.Go(func() error {
			code, err := c.generator.Generate(ctx, in)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errs[i] = err
				return nil
			}
			codes[i] = code
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, id := range ids {
		if errs[i] != nil {
			comp.AddDiagnostic(diagnostic.FromError(diagnostic.KindCodegen, mg.Module(id).Resource, errs[i]).WithModule(string(id)))
			continue
		}
		comp.codes[id] = codes[i]
	}
	return nil
}

func (c *Compiler) renderInput(comp *Compilation, ch *chunk.Chunk) codegen.ChunkInput {
	cg := comp.chunkGraph
	in := codegen.ChunkInput{ID: ch.ID, Name: ch.Name}
	for _, gu := range ch.Groups {
		if g := cg.Group(gu); g.IsEntrypoint() {
			in.Entry = true
			in.Start = append(in.Start, g.Roots...)
		}
	}
	for _, id := range cg.ChunkModules(ch.Ukey) {
		if code, ok := comp.codes[id]; ok {
			in.Modules = append(in.Modules, code)
		}
	}
	return in
}

// render renders every chunk into an asset named by the output templates.
func (c *Compiler) render(comp *Compilation) error {
	chunks := comp.chunkGraph.Chunks()
	sources := make([][]byte, len(chunks))
	errs := make([]error, len(chunks))
	g, ctx := errgroup.WithContext(comp.ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, ch := range chunks {
		in := c.renderInput(comp, ch)
		g.Go(func() error {
			source, err := c.renderer.Render(ctx, in)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errs[i] = err
				return nil
			}
			sources[i] = source
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, ch := range chunks {
		if errs[i] != nil {
			comp.AddDiagnostic(diagnostic.Errorf(diagnostic.KindCodegen, "", "failed to render chunk %s: %v", ch.ID, errs[i]))
			continue
		}
		template := c.opts.Output.ChunkFilename
		if ch.Name != "" {
			template = c.opts.Output.Filename
		}
		name := chunk.Filename(template, ch, fmt.Sprintf("%016x", xxhash.Sum64(sources[i])))
		if err := comp.emitAsset(&Asset{Name: name, Source: sources[i], Chunk: ch}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) processAssets(comp *Compilation) error {
	return c.Hooks.ProcessAssets.Call(comp)
}

// upToDate reports whether file already holds a. Without a record of an
// earlier emit, the file is compared with a.
func (c *Compiler) upToDate(file string, a *Asset, h uint64) bool {
	if prev, ok := c.emitted[a.Name]; ok {
		return prev == h && c.fs.Exists(file)
	}
	current, err := c.fs.ReadFile(file)
	return err == nil && bytes.Equal(current, a.Source)
}

// emit writes the assets that changed since the last emit and removes the
// files of assets that are gone. It returns the names written.
func (c *Compiler) emit(comp *Compilation) ([]string, error) {
	out := c.opts.Output.Path
	hashes := make(map[string]uint64, len(comp.assets))
	var written []string
	for _, a := range comp.Assets() {
		file := path.Join(out, a.Name)
		h := xxhash.Sum64(a.Source)
		hashes[a.Name] = h
		if c.upToDate(file, a, h) {
			continue
		}
		if err := c.fs.MkdirAll(path.Dir(file), 0755); err != nil {
			return written, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := fs.WriteFileAtomic(c.fs, file, a.Source, 0644); err != nil {
			return written, fmt.Errorf("failed to emit %s: %w", a.Name, err)
		}
		written = append(written, a.Name)
	}
	for name := range c.emitted {
		if _, ok := hashes[name]; ok {
			continue
		}
		if err := c.fs.Remove(path.Join(out, name)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			c.logger.Warn("failed to remove stale asset", zap.String("asset", name), zap.Error(err))
		}
	}
	c.emitted = hashes
	return written, nil
}
