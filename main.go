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

// Command fardel compiles JavaScript and TypeScript modules into chunks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/fardel/cmd/build"
	"bennypowers.dev/fardel/cmd/cache"
	"bennypowers.dev/fardel/cmd/version"
	"bennypowers.dev/fardel/cmd/watch"
	"bennypowers.dev/fardel/internal/output"
)

var (
	cpuprofile     string
	cpuprofileFile *os.File
	rootCmd        = &cobra.Command{
		Use:   "fardel",
		Short: "Compile JavaScript and TypeScript modules into chunks",
		Long: `fardel builds a module graph from the configured entries, splits it into
chunks and writes them to the output directory. Rebuilds reuse cached work.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("could not create CPU profile: %w", err)
				}
				cpuprofileFile = f
				if err := pprof.StartCPUProfile(f); err != nil {
					closeErr := f.Close()
					return errors.Join(
						fmt.Errorf("could not start CPU profile: %w", err),
						closeErr,
					)
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofileFile != nil {
				pprof.StopCPUProfile()
				if err := cpuprofileFile.Close(); err != nil {
					return fmt.Errorf("closing CPU profile: %w", err)
				}
			}
			return nil
		},
	}
)

func init() {
	// Root flags (persistent across all commands)
	rootCmd.PersistentFlags().String("config", "", "Config file (default: fardel.{yaml,yml,json,toml} in the project directory)")
	rootCmd.PersistentFlags().StringP("context", "C", "", "Project directory (default: the context key, or the working directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")
	rootCmd.PersistentFlags().Bool("no-color", color.NoColor, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&cpuprofile, "cpuprofile", "", "Write CPU profile to file")

	// Compilation flags, shared by build and watch
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output directory")
	rootCmd.PersistentFlags().String("cache", "", "Cache type (false, memory, persistent, redis)")
	rootCmd.PersistentFlags().Bool("bail", false, "Fail on the first error instead of reporting diagnostics")
	rootCmd.PersistentFlags().Bool("incremental", false, "Update the chunk graph incrementally")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
	_ = viper.BindPFlag("output.path", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("cache.type", rootCmd.PersistentFlags().Lookup("cache"))
	_ = viper.BindPFlag("bail", rootCmd.PersistentFlags().Lookup("bail"))
	_ = viper.BindPFlag("incremental", rootCmd.PersistentFlags().Lookup("incremental"))

	// Add commands
	rootCmd.AddCommand(build.Cmd)
	rootCmd.AddCommand(watch.Cmd)
	rootCmd.AddCommand(cache.Cmd)
	rootCmd.AddCommand(version.Cmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, build.ErrCompilation) {
			output.New(os.Stderr, viper.GetBool("no-color")).Error(err)
		}
		os.Exit(1)
	}
}
