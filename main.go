package main

import (
	"os"

	"github.com/cmdq-dev/cmdq/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
