// lume pack [path]
package cmd

import (
	"github.com/lume-build/lume/internal/builder"
	"github.com/lume-build/lume/internal/msg"
	"github.com/spf13/cobra"
)

var flagCompression EnumValue = NewEnumValue("zstd", map[string]string{
	"zstd": "Compress the payload with zstd (default)",
	"gzip": "Compress the payload with gzip",
})

var packCmd = &cobra.Command{
	Use:   "pack [project path]",
	Short: "Build the project and assemble a deb package",
	Long:  `Build the project and assemble a deb package. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		opts := buildOptions()
		// only override Lume.toml when the flag was given explicitly
		if cmd.Flags().Changed("compression") {
			opts.Compression = flagCompression.Value()
		}
		p, err := builder.NewProject(target, opts)
		if err != nil {
			msg.Fatal("%v", err)
		}
		if err := p.BuildAndPackage(); err != nil {
			msg.Fatal("%v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
	addBuildFlags(packCmd)
	packCmd.Flags().VarP(&flagCompression, "compression", "z", "Payload compression, one of "+flagCompression.HelpString())
	packCmd.RegisterFlagCompletionFunc("compression", flagCompression.CompletionFunc())
}
