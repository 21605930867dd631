// lume clean [path]
package cmd

import (
	"os"
	"path/filepath"

	"github.com/lume-build/lume/internal/builder"
	"github.com/lume-build/lume/internal/msg"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [project path]",
	Short: "Remove all build state of the project",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		dir := filepath.Join(target, builder.BuildDirName)
		if err := os.RemoveAll(dir); err != nil {
			msg.Fatal("clean %s: %v", dir, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
