// ./internal/state/params_store.go
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openyield/vault/internal/types"
)

// SaveRiskParams appends one source's applied risk parameter set to the
// history table and marks it as the active set for that source. Every
// accepted UPDATE_PARAMS command and every band action that rewrites
// parameters records a row.
func SaveRiskParams(id types.SourceID, params types.RiskParams) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE risk_parameter_sets SET active = FALSE WHERE source_id = $1 AND active;`,
		uint64(id),
	); err != nil {
		return fmt.Errorf("failed to deactivate prior risk parameters for source %d: %w", id, err)
	}

	query := `
		INSERT INTO risk_parameter_sets (
			source_id, haircut_bps, stress_outflow_bps,
			max_concentration_bps, risk_tier, applied_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, TRUE);
	`

	_, err = tx.Exec(
		query,
		uint64(id), params.HaircutBps, params.StressOutflowBps,
		params.MaxConcentrationBps, params.RiskTier, params.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk parameters for source %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit risk parameters for source %d: %w", id, err)
	}

	log.Debug().
		Uint64("source_id", uint64(id)).
		Int64("haircut_bps", params.HaircutBps).
		Msg("Risk parameters saved to database")
	return nil
}

// RiskParamsHistory returns the applied parameter sets for one source, newest
// first, capped at limit rows.
func RiskParamsHistory(id types.SourceID, limit int) ([]types.RiskParams, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT haircut_bps, stress_outflow_bps, max_concentration_bps, risk_tier, applied_at
		FROM risk_parameter_sets
		WHERE source_id = $1
		ORDER BY applied_at DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, uint64(id), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk parameter history: %w", err)
	}
	defer rows.Close()

	var out []types.RiskParams
	for rows.Next() {
		var p types.RiskParams
		var appliedAt time.Time
		if err := rows.Scan(&p.HaircutBps, &p.StressOutflowBps, &p.MaxConcentrationBps, &p.RiskTier, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk parameter row: %w", err)
		}
		p.UpdatedAt = appliedAt
		out = append(out, p)
	}
	return out, rows.Err()
}
