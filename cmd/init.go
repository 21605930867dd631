// lume init [name], lume new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/lume-build/lume/internal/builder"
	"github.com/lume-build/lume/internal/msg"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "lume"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn initializes a project in an existing specified directory
func initIn(dir, name, moduleType string) {
	control := `[control]
id = "com.example.` + strings.ToLower(name) + `"
name = "` + name + `"
version = "0.0.1"
author = "example"
description = "A project made with lume."
`

	switch moduleType {
	case "tool":
		writefile(control+`section = "Utilities"

[modules.`+name+`]
type = "tool"
files = ["src/**.c"]
`, dir, "Lume.toml")

		mkdir(dir, "src")
		writefile(`#include <stdio.h>

int main(void) {
    puts("Hello from `+name+`!");
    return 0;
}
`, dir, "src", "main.c")
	default:
		writefile(control+`section = "Tweaks"
depends = "mobilesubstrate"

[modules.`+name+`]
type = "tweak"
files = ["src/**.xm"]

[modules.`+name+`.filter]
bundles = ["com.apple.springboard"]
`, dir, "Lume.toml")

		mkdir(dir, "src")
		writefile(`%hook SpringBoard

- (void)applicationDidFinishLaunching:(id)application {
    %orig;
}

%end
`, dir, "src", "Tweak.xm")
	}

	// .gitignore
	writefile(builder.BuildDirName+`/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build, or %s to build and package.\n", color.HiCyanString(programName+" "+dir), color.HiCyanString(programName+" pack "+dir))
}

var flagType EnumValue = NewEnumValue("tweak", map[string]string{
	"tweak": "An injected library (default)",
	"tool":  "A command line executable",
})

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new project in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0], flagType.Value())
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new project in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]), flagType.Value())
	},
}

func init() {
	// lume init subcommand
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().VarP(&flagType, "type", "t", "Module type to scaffold, one of "+flagType.HelpString())
	initCmd.RegisterFlagCompletionFunc("type", flagType.CompletionFunc())

	// lume new subcommand
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().VarP(&flagType, "type", "t", "Module type to scaffold, one of "+flagType.HelpString())
	newCmd.RegisterFlagCompletionFunc("type", flagType.CompletionFunc())
}
