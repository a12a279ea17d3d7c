/*

This file manages the persistent global assessment counter for the vault
daemon. The counter is stored in the database so assessment cycle numbers
stay continuous across restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ensureAssessmentCounterTable creates the assessment_counter table if it doesn't exist
func ensureAssessmentCounterTable() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS assessment_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_assessment INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO assessment_counter (id, current_assessment)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`

	_, err := DB.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create assessment_counter table: %w", err)
	}

	log.Debug().Msg("Ensured assessment_counter table exists")
	return nil
}

// CurrentAssessmentNumber retrieves the current assessment number from the database
func CurrentAssessmentNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	if err := ensureAssessmentCounterTable(); err != nil {
		return 0, err
	}

	query := `SELECT current_assessment FROM assessment_counter WHERE id = 1;`

	var current int
	row := DB.QueryRow(query)
	err := row.Scan(&current)

	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Msg("No assessment counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current assessment number: %w", err)
	}

	return current, nil
}

// IncrementAssessmentNumber increments the assessment counter and returns the new value
func IncrementAssessmentNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	if err := ensureAssessmentCounterTable(); err != nil {
		return 0, err
	}

	updateQuery := `
		UPDATE assessment_counter
		SET current_assessment = current_assessment + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_assessment;`

	var next int
	row := DB.QueryRow(updateQuery)
	err := row.Scan(&next)

	if err != nil {
		return 0, fmt.Errorf("failed to increment assessment number: %w", err)
	}

	log.Info().Int("assessment", next).Msg("Incremented assessment counter")
	return next, nil
}
