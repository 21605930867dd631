// lume [path], lume build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/lume-build/lume/internal/builder"
	"github.com/lume-build/lume/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagRelease bool
	flagClean   bool
)

func buildOptions() builder.Options {
	return builder.Options{
		Clean:   flagClean,
		Release: flagRelease,
	}
}

func doBuild(cmd *cobra.Command, args []string) {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	p, err := builder.NewProject(target, buildOptions())
	if err != nil {
		msg.Fatal("%v", err)
	}
	if errs := p.Build(); len(errs) > 0 {
		for _, err := range errs {
			msg.Error("%v", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lume [project path]",
	Short: "Incremental build system for jailbroken iOS",
	Long:  `Incremental build system for jailbroken iOS`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [project path]",
	Short: "Build every module of the project",
	Long:  `Build every module of the project. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// lume build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&flagRelease, "release", "r", false, "Build with optimizations and strip executables")
	cmd.Flags().BoolVarP(&flagClean, "clean", "c", false, "Discard all build state before building")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
