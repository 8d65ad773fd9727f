package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keeper",
	Short: "Chainpot settlement keeper",
	Long: `Watches chainpot lottery pots on the ledger, drives them through close,
randomness commitment and settlement, and serves the operator API.`,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "http://localhost:4000", "base URL of a running keeper's operator API")
	rootCmd.PersistentFlags().String("token", "", "operator bearer token for client commands")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
