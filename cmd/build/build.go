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

// Package build provides the build command for fardel.
package build

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/fardel/compilation"
	"bennypowers.dev/fardel/fs"
	"bennypowers.dev/fardel/internal/config"
	"bennypowers.dev/fardel/internal/logging"
	"bennypowers.dev/fardel/internal/output"
)

// ErrCompilation is returned when the compilation reported errors.
var ErrCompilation = errors.New("compilation failed")

// Cmd is the build command.
var Cmd = &cobra.Command{
	Use:   "build [entries...]",
	Short: "Compile the project once",
	Long: `Compile the project's entries into chunks and write them to the output directory.

Entries given on the command line replace the configured ones. Each is either
name=request or a request or glob relative to the project directory, named by
its path without extension.`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	context, _ := cmd.Flags().GetString("context")
	dir, err := config.Project(viper.GetViper(), context, viper.GetString("config"))
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
	cmd.SilenceUsage = true

	logger := logging.New(viper.GetBool("verbose"))
	defer func() { _ = logger.Sync() }()

	compiler, err := compilation.New(cmd.Context(), fs.NewOSFileSystem(), opts, logger)
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}
	stats, err := compiler.Build(cmd.Context())
	if closeErr := compiler.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close cache: %w", closeErr))
	}
	if err != nil {
		return err
	}

	output.New(cmd.OutOrStdout(), viper.GetBool("no-color")).Stats(stats)
	if stats.HasErrors() {
		return ErrCompilation
	}
	return nil
}
