package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the keeper daemon
type Config struct {
	Server  ServerConfig
	MongoDB MongoDBConfig
	JWT     JWTConfig
	Ledger  LedgerConfig
	Oracle  OracleConfig
	Keeper  KeeperConfig
	Archive ArchiveConfig
	Log     LogConfig
}

// ServerConfig holds the operator API configuration
type ServerConfig struct {
	Port         string
	AllowedHosts []string
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// JWTConfig holds operator token configuration
type JWTConfig struct {
	Secret    string
	ExpiresIn int // seconds
}

// LedgerConfig holds the ledger RPC connection configuration
type LedgerConfig struct {
	RPCEndpoint    string
	ProgramID      string // base58
	KeypairPath    string
	RequestTimeout time.Duration
}

// OracleConfig holds the randomness oracle configuration. PublicKey pins the
// attestation signing key; it is never fetched from the oracle itself.
type OracleConfig struct {
	BaseURL        string
	PublicKey      string // base58
	RequestTimeout time.Duration
}

// KeeperConfig holds the settlement loop configuration
type KeeperConfig struct {
	ID                string
	PollInterval      time.Duration
	ConfirmInterval   time.Duration
	ConfirmTimeout    time.Duration
	CommitOffsetSlots uint64
	InvalidCooldown   time.Duration
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryMaxAttempts  int
	WatchPots         []uint64
	DirectoryCron     string
}

// ArchiveConfig holds settlement/fault archive configuration. The archive is
// advisory; disabling it never affects the settlement loop.
type ArchiveConfig struct {
	Enabled       bool
	RetentionDays int // 0 keeps records forever
	RetentionCron string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	JSON       bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, environment variables take over
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("Server.Port", "4000")
	viper.SetDefault("Server.AllowedHosts", []string{"localhost:3000"})
	viper.SetDefault("MongoDB.URI", "mongodb://localhost:27017")
	viper.SetDefault("MongoDB.Database", "chainpot-keeper")
	viper.SetDefault("JWT.ExpiresIn", 24*60*60) // 24 hours
	viper.SetDefault("Ledger.RPCEndpoint", "http://localhost:8899")
	viper.SetDefault("Ledger.KeypairPath", "keeper-keypair.json")
	viper.SetDefault("Ledger.RequestTimeout", 15*time.Second)
	viper.SetDefault("Oracle.RequestTimeout", 15*time.Second)
	viper.SetDefault("Keeper.PollInterval", 5*time.Second)
	viper.SetDefault("Keeper.ConfirmInterval", 500*time.Millisecond)
	viper.SetDefault("Keeper.ConfirmTimeout", 30*time.Second)
	viper.SetDefault("Keeper.CommitOffsetSlots", 32)
	viper.SetDefault("Keeper.InvalidCooldown", 10*time.Minute)
	viper.SetDefault("Keeper.RetryBaseDelay", 2*time.Second)
	viper.SetDefault("Keeper.RetryMaxDelay", 2*time.Minute)
	viper.SetDefault("Keeper.RetryMultiplier", 2.0)
	viper.SetDefault("Keeper.RetryMaxAttempts", 8)
	viper.SetDefault("Keeper.DirectoryCron", "@every 1m")
	viper.SetDefault("Archive.Enabled", true)
	viper.SetDefault("Archive.RetentionDays", 0)
	viper.SetDefault("Archive.RetentionCron", "@daily")
	viper.SetDefault("Log.Level", "info")
	viper.SetDefault("Log.JSON", false)
	viper.SetDefault("Log.MaxSizeMB", 100)
	viper.SetDefault("Log.MaxBackups", 5)
	viper.SetDefault("Log.MaxAgeDays", 30)
}
