package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chainpot/keeper/internal/models"
)

var potsCmd = &cobra.Command{
	Use:   "pots",
	Short: "Inspect and control pots on a running keeper",
}

var potsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched pots and their keeper status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var statuses []models.PotStatus
		if err := callAPI(cmd, http.MethodGet, "/api/v1/pots", &statuses); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "POT\tPHASE\tSTATUS\tATTEMPTS\tLAST ERROR")
		for _, s := range statuses {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", s.PotID, s.Phase, s.Status, s.Attempts, s.LastError)
		}
		return w.Flush()
	},
}

var potsShowCmd = &cobra.Command{
	Use:   "show <pot-id>",
	Short: "Show one pot in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("pot id must be a number, got %q", args[0])
		}

		var status json.RawMessage
		if err := callAPI(cmd, http.MethodGet, "/api/v1/pots/"+args[0], &status); err != nil {
			return err
		}
		pretty, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(pretty))
		return nil
	},
}

var potsRetryCmd = &cobra.Command{
	Use:   "retry <pot-id>",
	Short: "Clear a pot's fault so the loop picks it up again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("pot id must be a number, got %q", args[0])
		}

		var resp struct {
			Message string `json:"message"`
		}
		if err := callAPI(cmd, http.MethodPost, "/api/v1/pots/"+args[0]+"/retry", &resp); err != nil {
			return err
		}
		cmd.Println(resp.Message)
		return nil
	},
}

func init() {
	potsCmd.AddCommand(potsListCmd, potsShowCmd, potsRetryCmd)
	rootCmd.AddCommand(potsCmd)
}
