package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/chainpot/keeper/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running keeper's identity and loop state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var info models.KeeperInfo
		if err := callAPI(cmd, http.MethodGet, "/api/v1/keeper/status", &info); err != nil {
			return err
		}

		cmd.Printf("Keeper:       %s\n", info.KeeperID)
		cmd.Printf("Public key:   %s\n", info.PublicKey)
		cmd.Printf("Running:      %t\n", info.Running)
		cmd.Printf("Watched pots: %d\n", info.WatchedPots)
		cmd.Printf("Current slot: %d\n", info.CurrentSlot)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
