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

// Package watch provides the watch command for fardel.
package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"bennypowers.dev/fardel/compilation"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/internal/config"
	"bennypowers.dev/fardel/internal/logging"
	"bennypowers.dev/fardel/internal/output"
	"bennypowers.dev/fardel/watch"
)

// Cmd is the watch command.
var Cmd = &cobra.Command{
	Use:   "watch [entries...]",
	Short: "Compile the project and recompile on changes",
	Long: `Compile the project, then watch its directory and recompile incrementally
whenever files change. Runs until interrupted.`,
	RunE: run,
}

func init() {
	Cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a batch of changes is compiled")
	Cmd.Flags().StringSlice("ignore", nil, "Glob patterns of paths not to watch")
	Cmd.Flags().Bool("no-gitignore", false, "Watch paths ignored by .gitignore")

	_ = viper.BindPFlag("watch.debounce", Cmd.Flags().Lookup("debounce"))
	_ = viper.BindPFlag("watch.ignore", Cmd.Flags().Lookup("ignore"))
}

func run(cmd *cobra.Command, args []string) error {
	contextDir, _ := cmd.Flags().GetString("context")
	dir, err := config.Project(viper.GetViper(), contextDir, viper.GetString("config"))
	if err != nil {
		return err
	}
	entries, err := config.ArgEntries(dir, args)
	if err != nil {
		return err
	}
	opts, err := config.CompilationOptions(viper.GetViper(), dir, entries)
	if err != nil {
		return err
	}
	if noGitIgnore, _ := cmd.Flags().GetBool("no-gitignore"); noGitIgnore {
		viper.Set("watch.gitignore", false)
	}
	cmd.SilenceUsage = true

	logger := logging.New(viper.GetBool("verbose"))
	defer func() { _ = logger.Sync() }()

	wopts := config.WatchOptions(viper.GetViper(), opts)
	wopts.Logger = logger
	watcher, err := watch.New(dir, wopts)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	defer func() { _ = watcher.Close() }()

	compiler, err := compilation.New(cmd.Context(), fs.NewOSFileSystem(), opts, logger)
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}
	defer func() { _ = compiler.Close() }()

	printer := output.New(cmd.OutOrStdout(), viper.GetBool("no-color"))
	report := func(stats *compilation.Stats, err error) {
		if err != nil {
			printer.Error(err)
			return
		}
		printer.Stats(stats)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error { return compiler.Watch(ctx, watcher.Batches(), report) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
