package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainpot/keeper/internal/ledger"
)

var keypairCmd = &cobra.Command{
	Use:   "keypair [path]",
	Short: "Generate a keeper keypair file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "keeper-keypair.json"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}

		signer, err := ledger.GenerateSigner()
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		if err := signer.Save(path); err != nil {
			return fmt.Errorf("write keypair file: %w", err)
		}

		cmd.Printf("Wrote %s\n", path)
		cmd.Printf("Public key: %s\n", signer.PublicKey())
		cmd.Println("Fund this address so the keeper can pay transaction fees.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keypairCmd)
}
