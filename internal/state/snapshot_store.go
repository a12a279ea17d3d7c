// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openyield/vault/internal/types"
)

// SaveEngineSnapshot persists a full engine snapshot and returns its id.
func SaveEngineSnapshot(snapshot types.EngineSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	sourcesJSON, err := json.Marshal(snapshot.Sources)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := `
		INSERT INTO engine_snapshots (
			snapshot_timestamp, idle_balance, total_assets,
			total_claims, total_pending_claims, total_claimable_assets,
			ema_value, open_epoch_id, lcr_bps, system_status, paused, sources
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.Timestamp, snapshot.IdleBalance, snapshot.TotalAssets,
		snapshot.TotalClaims, snapshot.TotalPendingClaims, snapshot.TotalClaimableAssets,
		snapshot.EmaValue, snapshot.OpenEpochID, snapshot.LCRBps,
		string(snapshot.SystemStatus), snapshot.Paused, sourcesJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save engine snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("total_assets", snapshot.TotalAssets).
		Uint64("open_epoch_id", snapshot.OpenEpochID).
		Msg("Engine snapshot saved to database")

	return snapshotID, nil
}

// LatestEngineSnapshot returns the most recent persisted snapshot.
func LatestEngineSnapshot() (types.EngineSnapshot, error) {
	if DB == nil {
		return types.EngineSnapshot{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, snapshot_timestamp, idle_balance, total_assets,
		       total_claims, total_pending_claims, total_claimable_assets,
		       ema_value, open_epoch_id, lcr_bps, system_status, paused, sources
		FROM engine_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1;
	`

	var snap types.EngineSnapshot
	var sourcesJSON []byte
	var status string
	err := DB.QueryRow(query).Scan(
		&snap.SnapshotID, &snap.Timestamp, &snap.IdleBalance, &snap.TotalAssets,
		&snap.TotalClaims, &snap.TotalPendingClaims, &snap.TotalClaimableAssets,
		&snap.EmaValue, &snap.OpenEpochID, &snap.LCRBps, &status, &snap.Paused, &sourcesJSON,
	)
	if err != nil {
		return types.EngineSnapshot{}, fmt.Errorf("failed to load latest engine snapshot: %w", err)
	}
	snap.SystemStatus = types.SystemStatus(status)

	if err := json.Unmarshal(sourcesJSON, &snap.Sources); err != nil {
		return types.EngineSnapshot{}, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	return snap, nil
}

// SaveEpochHistory upserts the epoch snapshots so settled epochs stay queryable
// after restarts.
func SaveEpochHistory(epochs []types.EpochSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO epoch_history (
			epoch_id, status, opened_at, settled_at,
			total_claims_burned, total_assets_owed, total_assets_claimed
		) VALUES ($1, $2, $3, NULLIF($4, '0001-01-01T00:00:00Z'::timestamptz), $5, $6, $7)
		ON CONFLICT (epoch_id) DO UPDATE SET
			status = EXCLUDED.status,
			settled_at = EXCLUDED.settled_at,
			total_claims_burned = EXCLUDED.total_claims_burned,
			total_assets_owed = EXCLUDED.total_assets_owed,
			total_assets_claimed = EXCLUDED.total_assets_claimed;
	`

	for _, ep := range epochs {
		_, err := DB.Exec(
			query,
			ep.EpochID, string(ep.Status), ep.OpenedAt, ep.SettledAt,
			ep.TotalClaimsBurned, ep.TotalAssetsOwed, ep.TotalAssetsClaimed,
		)
		if err != nil {
			return fmt.Errorf("failed to save epoch %d: %w", ep.EpochID, err)
		}
	}

	log.Debug().Int("epochs", len(epochs)).Msg("Epoch history saved to database")
	return nil
}
