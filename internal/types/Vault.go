/*

This file contains the singleton vault accounting state and the snapshot types
used for persistence and the observability API.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultState is the single accounting aggregate mutated by every engine
// operation. It is owned by the engine under single-writer semantics; tests
// construct independent instances.
type VaultState struct {
	IdleBalance          sdkmath.Int `json:"idle_balance"`           // Assets held uninvested (includes assets already committed to settled epochs).
	TotalClaims          sdkmath.Int `json:"total_claims"`           // Outstanding proportional claims (mirrors ledger total supply).
	TotalPendingClaims   sdkmath.Int `json:"total_pending_claims"`   // Claims burned into the open epoch but not yet priced by settlement.
	TotalClaimableAssets sdkmath.Int `json:"total_claimable_assets"` // Assets owed to settled, unclaimed requests.

	EmaValue      sdkmath.LegacyDec `json:"ema_value"`       // Smoothed total-asset value used for all pricing.
	EmaLastUpdate time.Time         `json:"ema_last_update"` // Last EMA interpolation instant.

	ManagementFeeLastAccrual time.Time `json:"management_fee_last_accrual"`
	ManagementFeeBps         int64     `json:"management_fee_bps"` // Annualized, capped at 500 (5%).
	PerformanceFeeBps        int64     `json:"performance_fee_bps"` // Per-harvest profit share, capped at 5000 (50%).
}

// NewVaultState returns a zeroed vault state with all Int fields initialized.
func NewVaultState(now time.Time) VaultState {
	return VaultState{
		IdleBalance:              sdkmath.ZeroInt(),
		TotalClaims:              sdkmath.ZeroInt(),
		TotalPendingClaims:       sdkmath.ZeroInt(),
		TotalClaimableAssets:     sdkmath.ZeroInt(),
		EmaValue:                 sdkmath.LegacyZeroDec(),
		EmaLastUpdate:            now,
		ManagementFeeLastAccrual: now,
	}
}

// SystemStatus is the vault-wide health classification produced by the risk
// engine's layer-3 action decision.
type SystemStatus string

const (
	StatusHealthy   SystemStatus = "HEALTHY"   // LCR >= 150%: params refreshed.
	StatusCautious  SystemStatus = "CAUTIOUS"  // 120% <= LCR < 150%: params tightened.
	StatusDefensive SystemStatus = "DEFENSIVE" // 100% <= LCR < 120%: forced rebalance.
	StatusCritical  SystemStatus = "CRITICAL"  // LCR < 100%: new deposits halted.
)

// SourceSnapshot is the per-source view surfaced for observability.
type SourceSnapshot struct {
	SourceID            uint64    `json:"source_id"`
	Balance             string    `json:"balance"`
	HighWaterMark       string    `json:"high_water_mark"`
	RiskScore           int64     `json:"risk_score"`
	HaircutBps          int64     `json:"haircut_bps"`
	StressOutflowBps    int64     `json:"stress_outflow_bps"`
	MaxConcentrationBps int64     `json:"max_concentration_bps"`
	RiskTier            int       `json:"risk_tier"`
	ParamsUpdatedAt     time.Time `json:"params_updated_at"`
}

// EngineSnapshot captures the full read-only state of the engine at a point in
// time. Integer amounts are serialized as strings to survive JSONB round-trips
// without precision loss.
type EngineSnapshot struct {
	SnapshotID           int64            `json:"snapshot_id,omitempty"` // Auto-incremented by DB.
	Timestamp            time.Time        `json:"timestamp"`
	IdleBalance          string           `json:"idle_balance"`
	TotalAssets          string           `json:"total_assets"`
	TotalClaims          string           `json:"total_claims"`
	TotalPendingClaims   string           `json:"total_pending_claims"`
	TotalClaimableAssets string           `json:"total_claimable_assets"`
	EmaValue             string           `json:"ema_value"`
	OpenEpochID          uint64           `json:"open_epoch_id"`
	LCRBps               int64            `json:"lcr_bps"` // -1 when stressed outflows are zero (unbounded coverage).
	SystemStatus         SystemStatus     `json:"system_status"`
	Paused               bool             `json:"paused"`
	Sources              []SourceSnapshot `json:"sources"`
}
