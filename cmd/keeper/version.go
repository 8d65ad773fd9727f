package main

import (
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the keeper version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("keeper " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
