package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables. These are
// populated at startup by LoadConfig.
var (
	// UnderlyingAsset is the denom of the single asset the vault accepts.
	UnderlyingAsset string
	// FeeRecipient receives minted fee claims. Empty disables fee minting.
	FeeRecipient string

	// DBHost, DBPort, DBUser, DBPassword, DBName, DBSSLMode configure the
	// PostgreSQL connection for snapshots and parameter history.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// ListenAddr is the bind address for the observability API.
	ListenAddr string

	// AssessCron and SnapshotCron are cron expressions for the periodic risk
	// assessment and state snapshot jobs.
	AssessCron   string
	SnapshotCron string

	// SimulationMode runs the daemon against in-memory simulated yield
	// sources instead of live adapters.
	SimulationMode bool
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	UnderlyingAsset, err = getEnv("VAULT_UNDERLYING_ASSET")
	if err != nil {
		return err
	}

	FeeRecipient = os.Getenv("VAULT_FEE_RECIPIENT")

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}
	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}
	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}
	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}
	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}
	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	ListenAddr, err = getEnv("VAULT_LISTEN_ADDR")
	if err != nil {
		return err
	}

	AssessCron, err = getEnv("VAULT_ASSESS_CRON")
	if err != nil {
		return err
	}
	SnapshotCron, err = getEnv("VAULT_SNAPSHOT_CRON")
	if err != nil {
		return err
	}

	SimulationMode = os.Getenv("VAULT_SIMULATION_MODE") == "true"

	log.Debug().
		Str("UnderlyingAsset", UnderlyingAsset).
		Str("ListenAddr", ListenAddr).
		Bool("SimulationMode", SimulationMode).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if
// not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64 retrieves an environment variable as an int64, falling back
// to def when unset.
func getEnvAsInt64(key string, def int64) (int64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return def, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}
