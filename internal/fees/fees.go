/*

This file contains the fee accrual engine. Two independent streams, both priced
at the EMA, never spot:

  - the management fee, a continuous time-proportional dilution accrued as the
    mandatory first step of every mutating operation, and
  - the per-source performance fee, gated by each source's high-water mark and
    charged only by an explicit harvest.

A source that drops and later recovers past its previous peak is charged only
on the amount beyond that peak, never on the recovery itself.

*/

package fees

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/types"
)

const (
	SecondsPerYear = 31_536_000

	// MaxManagementFeeBps caps the annualized management fee at 5%.
	MaxManagementFeeBps = 500
	// MaxPerformanceFeeBps caps the profit share at 50%.
	MaxPerformanceFeeBps = 5000
)

var (
	ErrManagementFeeTooHigh  = errors.New("management fee exceeds 500 bps")
	ErrPerformanceFeeTooHigh = errors.New("performance fee exceeds 5000 bps")
	ErrNegativeFeeBps        = errors.New("fee bps cannot be negative")
)

// ValidateManagementFeeBps enforces the management fee bound. Called on every
// admin write, not just at construction.
func ValidateManagementFeeBps(bps int64) error {
	if bps < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeFeeBps, bps)
	}
	if bps > MaxManagementFeeBps {
		return fmt.Errorf("%w: got %d", ErrManagementFeeTooHigh, bps)
	}
	return nil
}

// ValidatePerformanceFeeBps enforces the performance fee bound.
func ValidatePerformanceFeeBps(bps int64) error {
	if bps < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeFeeBps, bps)
	}
	if bps > MaxPerformanceFeeBps {
		return fmt.Errorf("%w: got %d", ErrPerformanceFeeTooHigh, bps)
	}
	return nil
}

// Accruer mints fee claims to a configured recipient through the claim ledger.
type Accruer struct {
	claims    ledger.ClaimLedger
	recipient string
	logger    zerolog.Logger
}

// NewAccruer creates a fee accruer. An empty recipient disables both fee
// streams until one is set.
func NewAccruer(claims ledger.ClaimLedger, recipient string) (*Accruer, error) {
	if claims == nil {
		return nil, errors.New("claim ledger cannot be nil")
	}
	return &Accruer{
		claims:    claims,
		recipient: recipient,
		logger:    logger.GetForComponent("fee_accruer"),
	}, nil
}

// SetRecipient changes the fee recipient. Empty disables fee minting.
func (a *Accruer) SetRecipient(recipient string) {
	a.recipient = recipient
}

// Recipient returns the configured fee recipient.
func (a *Accruer) Recipient() string {
	return a.recipient
}

// AccrueManagement mints the time-proportional management fee since the last
// accrual and advances the accrual clock. netAssets is the claimable-excluded
// total asset value; pricing uses the state's EMA.
//
// It is a strict no-op (no mint, no clock movement) when elapsed time is zero,
// the fee rate is zero, or the recipient is unset. Rate changes are never
// retroactive: admin rate updates accrue at the old rate first.
func (a *Accruer) AccrueManagement(state *types.VaultState, netAssets sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	elapsed := int64(now.Sub(state.ManagementFeeLastAccrual) / time.Second)
	if elapsed <= 0 || state.ManagementFeeBps == 0 || a.recipient == "" {
		return sdkmath.ZeroInt(), nil
	}
	if netAssets.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("net assets cannot be negative: %s", netAssets)
	}

	feeAssets := netAssets.
		MulRaw(state.ManagementFeeBps).
		MulRaw(elapsed).
		QuoRaw(SecondsPerYear * 10000)

	feeClaims := ledger.ConvertToClaims(feeAssets, state.EmaValue, state.TotalClaims)
	if feeClaims.IsPositive() {
		if err := a.claims.Mint(a.recipient, feeClaims); err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("failed to mint management fee claims: %w", err)
		}
		state.TotalClaims = state.TotalClaims.Add(feeClaims)
	}
	state.ManagementFeeLastAccrual = now

	a.logger.Debug().
		Int64("elapsedSeconds", elapsed).
		Int64("feeBps", state.ManagementFeeBps).
		Str("feeAssets", feeAssets.String()).
		Str("feeClaims", feeClaims.String()).
		Msg("Management fee accrued")

	return feeClaims, nil
}

// HarvestSource charges the performance fee for one source if its current
// balance exceeds its high-water mark, and ratchets the mark up to the new
// peak. Below the mark nothing is charged and the mark is unchanged: a loss
// must be recovered past the prior peak before any new fee.
func (a *Accruer) HarvestSource(state *types.VaultState, rec *types.YieldSourceRecord, currentBalance sdkmath.Int) (sdkmath.Int, error) {
	if rec == nil {
		return sdkmath.ZeroInt(), errors.New("source record cannot be nil")
	}
	if currentBalance.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("source balance cannot be negative: %s", currentBalance)
	}

	if !currentBalance.GT(rec.HighWaterMark) {
		a.logger.Debug().
			Uint64("sourceID", uint64(rec.ID)).
			Str("balance", currentBalance.String()).
			Str("highWaterMark", rec.HighWaterMark.String()).
			Msg("Source at or below high-water mark, no performance fee")
		return sdkmath.ZeroInt(), nil
	}

	profit := currentBalance.Sub(rec.HighWaterMark)
	feeAssets := profit.MulRaw(state.PerformanceFeeBps).QuoRaw(10000)

	feeClaims := sdkmath.ZeroInt()
	if a.recipient != "" {
		feeClaims = ledger.ConvertToClaims(feeAssets, state.EmaValue, state.TotalClaims)
		if feeClaims.IsPositive() {
			if err := a.claims.Mint(a.recipient, feeClaims); err != nil {
				return sdkmath.ZeroInt(), fmt.Errorf("failed to mint performance fee claims: %w", err)
			}
			state.TotalClaims = state.TotalClaims.Add(feeClaims)
		}
	}
	rec.HighWaterMark = currentBalance

	a.logger.Info().
		Uint64("sourceID", uint64(rec.ID)).
		Str("profit", profit.String()).
		Str("feeAssets", feeAssets.String()).
		Str("feeClaims", feeClaims.String()).
		Str("newHighWaterMark", rec.HighWaterMark.String()).
		Msg("Performance fee harvested")

	return feeClaims, nil
}
