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

// Package cache provides the cache command for fardel.
package cache

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fardelcache "bennypowers.dev/fardel/cache"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/internal/config"
	"bennypowers.dev/fardel/internal/logging"
	"bennypowers.dev/fardel/internal/output"
	"bennypowers.dev/fardel/storage"
)

// Cmd is the cache command.
var Cmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the persistent cache",
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the scopes stored in the persistent cache",
	RunE:  runInfo,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the persistent cache",
	Long: `Delete the persistent cache of the current cache version. With --all, every
version under the cache directory is deleted.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().Bool("all", false, "Delete every cache version")
	Cmd.AddCommand(infoCmd, cleanCmd)
}

func open(cmd *cobra.Command) (*storage.PackStorage, fardelcache.Options, error) {
	context, _ := cmd.Flags().GetString("context")
	dir, err := config.Project(viper.GetViper(), context, viper.GetString("config"))
	if err != nil {
		return nil, fardelcache.Options{}, err
	}
	opts := config.CacheOptions(viper.GetViper(), dir)
	if opts.Type == fardelcache.TypeRedis {
		return nil, opts, fmt.Errorf("the redis cache at %s is managed by redis", opts.Redis.Addr)
	}
	st := storage.NewPackStorage(fs.NewOSFileSystem(), storage.Options{
		Root:    opts.Directory,
		Version: opts.Version,
	}, logging.New(viper.GetBool("verbose")))
	return st, opts, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	st, _, err := open(cmd)
	if err != nil {
		return err
	}
	scopes, err := st.Info(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	output.New(cmd.OutOrStdout(), viper.GetBool("no-color")).CacheInfo(st.Dir(), scopes)
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	st, opts, err := open(cmd)
	if err != nil {
		return err
	}
	if all, _ := cmd.Flags().GetBool("all"); all {
		if err := fs.NewOSFileSystem().RemoveAll(opts.Directory); err != nil {
			return fmt.Errorf("failed to clean cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", opts.Directory)
		return nil
	}
	if err := st.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clean cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", st.Dir())
	return nil
}
