package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/chainpot/keeper/api/routes"
	"github.com/chainpot/keeper/internal/config"
	"github.com/chainpot/keeper/internal/handlers"
	"github.com/chainpot/keeper/internal/jobs"
	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/oracle"
	"github.com/chainpot/keeper/internal/repositories"
	mongorepo "github.com/chainpot/keeper/internal/repositories/mongodb"
	"github.com/chainpot/keeper/internal/services"
	"github.com/chainpot/keeper/internal/tracker"
	"github.com/chainpot/keeper/pkg/logging"
	"github.com/chainpot/keeper/pkg/mongodb"
)

const (
	trackerCacheSize = 512
	trackerCacheTTL  = 2 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the settlement loop and operator API",
	RunE:  runKeeper,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runKeeper(cmd *cobra.Command, args []string) error {
	// Load .env before viper reads the environment. A missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	// Mongo backs operator accounts and the settlement archive.
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := mongodb.NewClient(connectCtx, cfg.MongoDB.URI)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("MongoDB disconnect failed", "error", err)
		}
	}()
	db := mongoClient.Database(cfg.MongoDB.Database)

	operatorRepo := mongorepo.NewOperatorRepository(db)
	var settlementRepo repositories.SettlementRepository
	var faultRepo repositories.FaultRepository
	var archive keeper.Archive
	if cfg.Archive.Enabled {
		settlementRepo = mongorepo.NewSettlementRepository(db)
		faultRepo = mongorepo.NewFaultRepository(db)
		archive = services.NewMongoArchive(settlementRepo, faultRepo)
	}

	// Ledger client, program addresses and the keeper keypair.
	client := ledger.NewRPCClient(cfg.Ledger.RPCEndpoint, cfg.Ledger.RequestTimeout)
	deriver, err := ledger.NewAddressDeriver(cfg.Ledger.ProgramID)
	if err != nil {
		return fmt.Errorf("derive program addresses: %w", err)
	}
	signer, err := ledger.LoadSigner(cfg.Ledger.KeypairPath)
	if err != nil {
		return fmt.Errorf("load keeper keypair: %w", err)
	}

	// The attestation key is pinned in config, never fetched from the oracle.
	oracleKey, err := base58.Decode(cfg.Oracle.PublicKey)
	if err != nil || len(oracleKey) != ed25519.PublicKeySize {
		return fmt.Errorf("Oracle.PublicKey must be a base58 ed25519 public key")
	}
	oracleClient := oracle.NewHTTPClient(cfg.Oracle.BaseURL, cfg.Oracle.RequestTimeout)

	tr, err := tracker.New(client, deriver, trackerCacheSize, trackerCacheTTL)
	if err != nil {
		return fmt.Errorf("create pot tracker: %w", err)
	}

	coordinator := keeper.New(keeper.Config{
		PollInterval:      cfg.Keeper.PollInterval,
		ConfirmInterval:   cfg.Keeper.ConfirmInterval,
		ConfirmTimeout:    cfg.Keeper.ConfirmTimeout,
		CommitOffsetSlots: cfg.Keeper.CommitOffsetSlots,
		InvalidCooldown:   cfg.Keeper.InvalidCooldown,
		Backoff: keeper.Policy{
			BaseDelay:   cfg.Keeper.RetryBaseDelay,
			Multiplier:  cfg.Keeper.RetryMultiplier,
			MaxDelay:    cfg.Keeper.RetryMaxDelay,
			MaxAttempts: cfg.Keeper.RetryMaxAttempts,
		},
		KeeperID: cfg.Keeper.ID,
	}, client, deriver, signer, oracleClient, ed25519.PublicKey(oracleKey), tr, archive, logger)

	// Seed the watch set from config, then from the on-ledger directory.
	for _, potID := range cfg.Keeper.WatchPots {
		coordinator.Watch(potID)
	}
	mergeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	added, err := coordinator.MergeDirectory(mergeCtx)
	cancel()
	if err != nil {
		logger.Warn("Initial directory merge failed", "error", err)
	} else {
		logger.Info("Watch set seeded", "configured", len(cfg.Keeper.WatchPots), "fromDirectory", added)
	}

	// Background jobs.
	runner := jobs.NewRunner(logger)
	if err := runner.Add(cfg.Keeper.DirectoryCron, jobs.NewDirectoryRefreshJob(coordinator, logger)); err != nil {
		return fmt.Errorf("schedule directory refresh: %w", err)
	}
	if cfg.Archive.Enabled && cfg.Archive.RetentionDays > 0 {
		if err := runner.Add(cfg.Archive.RetentionCron, jobs.NewArchiveRetentionJob(settlementRepo, faultRepo, cfg.Archive.RetentionDays, logger)); err != nil {
			return fmt.Errorf("schedule archive retention: %w", err)
		}
	}
	runner.Start()
	defer runner.Stop()

	// Operator API.
	authHandler := handlers.NewAuthHandler(services.NewAuthService(operatorRepo, cfg))
	potHandler := handlers.NewPotHandler(services.NewPotService(coordinator, tr, settlementRepo, faultRepo, logger))
	keeperHandler := handlers.NewKeeperHandler(services.NewKeeperService(coordinator, client, signer, logger))
	router := routes.SetupRouter(cfg, logger, authHandler, potHandler, keeperHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Operator API failed", "error", err)
		}
	}()

	if err := coordinator.Start(); err != nil {
		return fmt.Errorf("start settlement loop: %w", err)
	}
	logger.Info("Keeper running",
		"keeperId", coordinator.KeeperID(),
		"publicKey", signer.PublicKey(),
		"port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	coordinator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shut down operator API: %w", err)
	}

	logger.Info("Keeper exited")
	return nil
}
