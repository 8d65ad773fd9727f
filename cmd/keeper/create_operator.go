package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chainpot/keeper/internal/config"
	mongorepo "github.com/chainpot/keeper/internal/repositories/mongodb"
	"github.com/chainpot/keeper/internal/services"
	"github.com/chainpot/keeper/pkg/mongodb"
)

var (
	operatorEmail    string
	operatorName     string
	operatorPassword string
	operatorRole     string
)

var createOperatorCmd = &cobra.Command{
	Use:   "create-operator",
	Short: "Create an operator account for the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongodb.NewClient(ctx, cfg.MongoDB.URI)
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer client.Disconnect(context.Background())

		repo := mongorepo.NewOperatorRepository(client.Database(cfg.MongoDB.Database))
		operator, err := services.NewAuthService(repo, cfg).CreateOperator(ctx, operatorEmail, operatorName, operatorPassword, operatorRole)
		if err != nil {
			return err
		}

		cmd.Printf("Created operator %s with role %s\n", operator.Email, operator.Role)
		return nil
	},
}

func init() {
	createOperatorCmd.Flags().StringVar(&operatorEmail, "email", "", "operator email (required)")
	createOperatorCmd.Flags().StringVar(&operatorName, "name", "", "operator display name")
	createOperatorCmd.Flags().StringVar(&operatorPassword, "password", "", "operator password (required)")
	createOperatorCmd.Flags().StringVar(&operatorRole, "role", "viewer", "operator role: admin or viewer")
	createOperatorCmd.MarkFlagRequired("email")
	createOperatorCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(createOperatorCmd)
}
