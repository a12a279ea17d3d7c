// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS engine_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			snapshot_timestamp TIMESTAMPTZ NOT NULL,
			idle_balance NUMERIC(40, 0) NOT NULL,
			total_assets NUMERIC(40, 0) NOT NULL,
			total_claims NUMERIC(40, 0) NOT NULL,
			total_pending_claims NUMERIC(40, 0) NOT NULL,
			total_claimable_assets NUMERIC(40, 0) NOT NULL,
			ema_value DECIMAL(60, 18) NOT NULL,
			open_epoch_id BIGINT NOT NULL,
			lcr_bps BIGINT NOT NULL,
			system_status VARCHAR(16) NOT NULL,
			paused BOOLEAN NOT NULL,
			sources JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_engine_snapshots_timestamp ON engine_snapshots(snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS risk_parameter_sets (
			set_id SERIAL PRIMARY KEY,
			source_id BIGINT NOT NULL,
			haircut_bps BIGINT NOT NULL,
			stress_outflow_bps BIGINT NOT NULL,
			max_concentration_bps BIGINT NOT NULL,
			risk_tier INTEGER NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			active BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS idx_risk_parameter_sets_source ON risk_parameter_sets(source_id, applied_at DESC);

		CREATE TABLE IF NOT EXISTS epoch_history (
			epoch_id BIGINT PRIMARY KEY,
			status VARCHAR(16) NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ,
			total_claims_burned NUMERIC(40, 0) NOT NULL,
			total_assets_owed NUMERIC(40, 0) NOT NULL,
			total_assets_claimed NUMERIC(40, 0) NOT NULL
		);
	`
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("Database schema ensured")
	return nil
}
