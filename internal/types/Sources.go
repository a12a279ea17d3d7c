/*

This file contains the registry record kept for each external yield source and
the externally supplied protocol-health metrics the risk engine scores against.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// SourceID identifies a registered external yield source.
type SourceID uint64

// RiskParams are the per-source risk parameters supplied by the external risk
// computation. All bps fields are on the 10000 scale.
type RiskParams struct {
	HaircutBps          int64     `json:"haircut_bps"`           // HQLA haircut applied to the source balance, capped at 9500.
	StressOutflowBps    int64     `json:"stress_outflow_bps"`    // Assumed stressed outflow rate for the source.
	MaxConcentrationBps int64     `json:"max_concentration_bps"` // Max share of total assets this source may hold.
	RiskTier            int       `json:"risk_tier"`             // 0 (safest) .. 3.
	UpdatedAt           time.Time `json:"updated_at"`
}

// YieldSourceRecord is the registry entry for one external yield source. The
// record is owned by the risk engine; deployment operations mutate balances on
// the source itself, risk-report ingestion mutates the parameters.
type YieldSourceRecord struct {
	ID            SourceID    `json:"source_id"`
	HighWaterMark sdkmath.Int `json:"high_water_mark"` // Peak observed balance; decreases only via explicit reset.
	Params        RiskParams  `json:"risk_params"`
	RiskScore     int64       `json:"risk_score"` // Last composite score (0-10000), refreshed on assessment.
	RegisteredAt  time.Time   `json:"registered_at"`
}

// ProtocolMetrics are the externally observed health metrics for one source's
// underlying protocol, consumed by the layer-1 risk score.
type ProtocolMetrics struct {
	UtilizationBps     int64       `json:"utilization_bps"`      // Protocol utilization on the 10000 scale.
	AvailableLiquidity sdkmath.Int `json:"available_liquidity"`  // Withdrawable liquidity in the protocol, underlying units.
	OracleDeviationBps int64       `json:"oracle_deviation_bps"` // Absolute oracle-vs-market deviation.
}

// RiskScoreBreakdown carries the component values behind a composite score,
// logged and surfaced for observability.
type RiskScoreBreakdown struct {
	SourceID          SourceID `json:"source_id"`
	UtilizationRisk   int64    `json:"utilization_risk"`
	LiquidityRisk     int64    `json:"liquidity_risk"`
	OracleRisk        int64    `json:"oracle_risk"`
	ConcentrationRisk int64    `json:"concentration_risk"`
	Score             int64    `json:"score"`
}
