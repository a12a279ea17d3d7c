/*

This file contains the layer-1 per-source risk score: a deterministic weighted
composite over externally supplied protocol-health metrics. The function is
pure; transport and authentication of the metrics are external.

*/

package risk

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/openyield/vault/internal/types"
)

// Composite weights, bps of the final score.
const (
	utilizationWeight   = 3500
	liquidityWeight     = 3000
	oracleWeight        = 2000
	concentrationWeight = 1500
)

var (
	ErrInvalidMetrics    = errors.New("invalid protocol metrics")
	ErrInvalidRiskParams = errors.New("invalid risk parameters")
)

// ValidateMetrics rejects out-of-range protocol metrics before any scoring.
func ValidateMetrics(m types.ProtocolMetrics) error {
	if m.UtilizationBps < 0 || m.UtilizationBps > 10000 {
		return fmt.Errorf("%w: utilization %d out of [0,10000]", ErrInvalidMetrics, m.UtilizationBps)
	}
	if m.AvailableLiquidity.IsNil() || m.AvailableLiquidity.IsNegative() {
		return fmt.Errorf("%w: available liquidity must be non-negative", ErrInvalidMetrics)
	}
	if m.OracleDeviationBps < 0 {
		return fmt.Errorf("%w: oracle deviation %d cannot be negative", ErrInvalidMetrics, m.OracleDeviationBps)
	}
	return nil
}

// ValidateRiskParams rejects out-of-range per-source risk parameters. Every
// field is checked before any of them is committed.
func ValidateRiskParams(p types.RiskParams) error {
	if p.HaircutBps < 0 || p.HaircutBps > 9500 {
		return fmt.Errorf("%w: haircut %d out of [0,9500]", ErrInvalidRiskParams, p.HaircutBps)
	}
	if p.StressOutflowBps < 0 || p.StressOutflowBps > 10000 {
		return fmt.Errorf("%w: stress outflow %d out of [0,10000]", ErrInvalidRiskParams, p.StressOutflowBps)
	}
	if p.MaxConcentrationBps < 0 || p.MaxConcentrationBps > 10000 {
		return fmt.Errorf("%w: max concentration %d out of [0,10000]", ErrInvalidRiskParams, p.MaxConcentrationBps)
	}
	if p.RiskTier < 0 || p.RiskTier > 3 {
		return fmt.Errorf("%w: risk tier %d outside {0..3}", ErrInvalidRiskParams, p.RiskTier)
	}
	return nil
}

// UtilizationRisk maps protocol utilization to a risk component: a linear ramp
// from 0 up to 3000 at the 80% band edge, then 3000 for 80-90%, 7000 for
// 90-95%, and 10000 above 95%.
func UtilizationRisk(utilizationBps int64) int64 {
	switch {
	case utilizationBps < 8000:
		return utilizationBps * 3000 / 8000
	case utilizationBps < 9000:
		return 3000
	case utilizationBps < 9500:
		return 7000
	default:
		return 10000
	}
}

// LiquidityRisk is the vault's share of the protocol's withdrawable liquidity,
// capped at 10000. Zero available liquidity with nonzero exposure is maximal
// risk.
func LiquidityRisk(vaultExposure, availableLiquidity sdkmath.Int) int64 {
	if vaultExposure.IsZero() {
		return 0
	}
	if availableLiquidity.IsZero() {
		return 10000
	}
	share := vaultExposure.MulRaw(10000).Quo(availableLiquidity)
	if share.GT(sdkmath.NewInt(10000)) {
		return 10000
	}
	return share.Int64()
}

// OracleRisk scales oracle deviation by 20x, capped at 10000. A 5% deviation
// saturates the component.
func OracleRisk(oracleDeviationBps int64) int64 {
	risk := oracleDeviationBps * 20
	if risk > 10000 {
		return 10000
	}
	return risk
}

// ConcentrationRisk is the source's share of total vault assets.
func ConcentrationRisk(vaultExposure, totalVaultAssets sdkmath.Int) int64 {
	if vaultExposure.IsZero() || !totalVaultAssets.IsPositive() {
		return 0
	}
	share := vaultExposure.MulRaw(10000).Quo(totalVaultAssets)
	if share.GT(sdkmath.NewInt(10000)) {
		return 10000
	}
	return share.Int64()
}

// ScoreSource computes the composite 0-10000 risk score for one source from
// its exposure, the vault's total assets, and the supplied protocol metrics.
func ScoreSource(id types.SourceID, vaultExposure, totalVaultAssets sdkmath.Int, m types.ProtocolMetrics) (types.RiskScoreBreakdown, error) {
	if err := ValidateMetrics(m); err != nil {
		return types.RiskScoreBreakdown{}, err
	}
	if vaultExposure.IsNegative() {
		return types.RiskScoreBreakdown{}, fmt.Errorf("%w: exposure cannot be negative", ErrInvalidMetrics)
	}

	breakdown := types.RiskScoreBreakdown{
		SourceID:          id,
		UtilizationRisk:   UtilizationRisk(m.UtilizationBps),
		LiquidityRisk:     LiquidityRisk(vaultExposure, m.AvailableLiquidity),
		OracleRisk:        OracleRisk(m.OracleDeviationBps),
		ConcentrationRisk: ConcentrationRisk(vaultExposure, totalVaultAssets),
	}
	breakdown.Score = (breakdown.UtilizationRisk*utilizationWeight +
		breakdown.LiquidityRisk*liquidityWeight +
		breakdown.OracleRisk*oracleWeight +
		breakdown.ConcentrationRisk*concentrationWeight) / 10000

	return breakdown, nil
}
