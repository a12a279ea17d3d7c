/*

This file contains layer 2 and layer 3 of the risk model: the stressed
liquidity coverage ratio over haircut-adjusted assets, the score-to-parameter
bands, and the LCR-band action decision that gates capital deployment.

*/

package risk

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/openyield/vault/internal/types"
)

const (
	// LCRUnbounded marks an infinite coverage ratio (zero stressed outflows).
	LCRUnbounded int64 = -1

	// VaultStressOutflowBps is the vault-wide stressed outflow assumption
	// added on top of pending withdrawals: 30% of total assets.
	VaultStressOutflowBps int64 = 3000

	healthyLCRBps   int64 = 15000
	cautiousLCRBps  int64 = 12000
	defensiveLCRBps int64 = 10000
)

// Score-band edges shared by the haircut and stress-outflow maps.
var scoreBands = [4]int64{2000, 4000, 6000, 8000}

// haircut 5% -> 75% and stress outflow 10% -> 70%, in five bands.
var (
	haircutByBand       = [5]int64{500, 1500, 3000, 5000, 7500}
	stressOutflowByBand = [5]int64{1000, 2000, 3500, 5000, 7000}
)

func bandIndex(score int64) int {
	for i, edge := range scoreBands {
		if score < edge {
			return i
		}
	}
	return len(scoreBands)
}

// HaircutForScore maps a composite risk score to the HQLA haircut band.
func HaircutForScore(score int64) int64 {
	return haircutByBand[bandIndex(score)]
}

// StressOutflowForScore maps a composite risk score to the per-source stressed
// outflow band.
func StressOutflowForScore(score int64) int64 {
	return stressOutflowByBand[bandIndex(score)]
}

// SourceExposure pairs a source's balance with its haircut for the HQLA sum.
type SourceExposure struct {
	SourceID   types.SourceID
	Balance    sdkmath.Int
	HaircutBps int64
}

// Coverage is the layer-2 result.
type Coverage struct {
	HQLA             sdkmath.Int `json:"hqla"`
	StressedOutflows sdkmath.Int `json:"stressed_outflows"`
	LCRBps           int64       `json:"lcr_bps"` // LCRUnbounded when outflows are zero.
}

// LiquidityCoverage computes the stressed liquidity coverage ratio:
//
//	HQLA = sum(balance * (10000 - haircut) / 10000) + idle
//	StressedOutflows = pendingWithdrawals + totalAssets * 30%
//	LCR = HQLA * 10000 / StressedOutflows
func LiquidityCoverage(idleBalance, pendingWithdrawals, totalAssets sdkmath.Int, exposures []SourceExposure) (Coverage, error) {
	if idleBalance.IsNegative() || pendingWithdrawals.IsNegative() || totalAssets.IsNegative() {
		return Coverage{}, fmt.Errorf("%w: coverage inputs cannot be negative", ErrInvalidMetrics)
	}

	hqla := idleBalance
	for _, exp := range exposures {
		if exp.HaircutBps < 0 || exp.HaircutBps > 10000 {
			return Coverage{}, fmt.Errorf("%w: haircut %d for source %d", ErrInvalidRiskParams, exp.HaircutBps, exp.SourceID)
		}
		if exp.Balance.IsNegative() {
			return Coverage{}, fmt.Errorf("%w: balance for source %d cannot be negative", ErrInvalidMetrics, exp.SourceID)
		}
		hqla = hqla.Add(exp.Balance.MulRaw(10000 - exp.HaircutBps).QuoRaw(10000))
	}

	outflows := pendingWithdrawals.Add(totalAssets.MulRaw(VaultStressOutflowBps).QuoRaw(10000))

	cov := Coverage{HQLA: hqla, StressedOutflows: outflows}
	if outflows.IsZero() {
		cov.LCRBps = LCRUnbounded
		return cov, nil
	}
	cov.LCRBps = hqla.MulRaw(10000).Quo(outflows).Int64()
	return cov, nil
}

// DecideAction maps the vault-wide LCR to the layer-3 system status. An
// unbounded ratio is healthy by definition.
func DecideAction(lcrBps int64) types.SystemStatus {
	switch {
	case lcrBps == LCRUnbounded || lcrBps >= healthyLCRBps:
		return types.StatusHealthy
	case lcrBps >= cautiousLCRBps:
		return types.StatusCautious
	case lcrBps >= defensiveLCRBps:
		return types.StatusDefensive
	default:
		return types.StatusCritical
	}
}

// CheckConcentration rejects a deployment that would push a source's balance
// above its concentration limit relative to total vault assets. Checked
// synchronously before any funds move.
func CheckConcentration(postDeployBalance, totalAssets sdkmath.Int, maxConcentrationBps int64) error {
	if !totalAssets.IsPositive() {
		return fmt.Errorf("%w: total assets must be positive for concentration check", ErrInvalidMetrics)
	}
	share := postDeployBalance.MulRaw(10000).Quo(totalAssets)
	if share.GT(sdkmath.NewInt(maxConcentrationBps)) {
		return fmt.Errorf("deployment breaches concentration limit: %s bps > %d bps max", share, maxConcentrationBps)
	}
	return nil
}
