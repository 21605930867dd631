package main

import "github.com/lume-build/lume/cmd"

func main() {
	cmd.Execute()
}
