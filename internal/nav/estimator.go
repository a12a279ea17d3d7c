/*

This file contains the manipulation-resistant NAV estimator. It maintains an
exponential moving average of total asset value that converges toward spot over
a configurable smoothing window. All settlement and fee pricing reads the EMA,
never spot, so a single-block donation or flash move cannot shift pricing; an
attacker must sustain a deviation for the full window.

*/

package nav

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/types"
)

var (
	ErrInvalidWindow   = errors.New("smoothing window must be positive")
	ErrInvalidFloorBps = errors.New("floor bps must be between 0 and 10000")
	ErrNegativeSpot    = errors.New("spot value cannot be negative")
)

// Estimator smooths the spot total-asset value into the vault state's EMA.
type Estimator struct {
	windowSeconds int64
	floorBps      int64
	logger        zerolog.Logger
}

// NewEstimator validates the smoothing window (seconds) and the EMA floor
// (bps of spot) and returns a configured estimator.
func NewEstimator(windowSeconds, floorBps int64) (*Estimator, error) {
	if windowSeconds <= 0 {
		return nil, ErrInvalidWindow
	}
	if floorBps < 0 || floorBps > 10000 {
		return nil, ErrInvalidFloorBps
	}
	return &Estimator{
		windowSeconds: windowSeconds,
		floorBps:      floorBps,
		logger:        logger.GetForComponent("nav_estimator"),
	}, nil
}

// Update advances the EMA toward spot and stamps the update time. It is called
// before every state-changing operation, after management fee accrual.
//
// Rules:
//   - While no claims are outstanding (supply and pending both zero) the EMA
//     snaps directly to spot, so the virtual seed never penalizes the genuine
//     first depositor.
//   - Otherwise ema += (spot - ema) * min(elapsed, W) / W. Clamping elapsed to
//     the window prevents overshoot beyond spot after long silent periods.
//   - The floor invariant ema >= spot * floorBps / 10000 is enforced by
//     clamping after interpolation.
func (e *Estimator) Update(state *types.VaultState, spot sdkmath.Int, now time.Time) error {
	if spot.IsNegative() {
		return ErrNegativeSpot
	}

	spotDec := sdkmath.LegacyNewDecFromInt(spot)

	if state.TotalClaims.Add(state.TotalPendingClaims).IsZero() {
		state.EmaValue = spotDec
		state.EmaLastUpdate = now
		e.logger.Debug().
			Str("spot", spot.String()).
			Msg("No claims outstanding, EMA snapped to spot")
		return nil
	}

	elapsed := int64(now.Sub(state.EmaLastUpdate) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > e.windowSeconds {
		elapsed = e.windowSeconds
	}

	if elapsed > 0 {
		delta := spotDec.Sub(state.EmaValue).
			MulInt64(elapsed).
			QuoInt64(e.windowSeconds)
		state.EmaValue = state.EmaValue.Add(delta)
	}

	floor := spotDec.MulInt64(e.floorBps).QuoInt64(10000)
	if state.EmaValue.LT(floor) {
		e.logger.Warn().
			Str("ema", state.EmaValue.String()).
			Str("floor", floor.String()).
			Str("spot", spot.String()).
			Msg("EMA below floor, clamping")
		state.EmaValue = floor
	}

	state.EmaLastUpdate = now

	e.logger.Debug().
		Str("spot", spot.String()).
		Str("ema", state.EmaValue.String()).
		Int64("elapsedSeconds", elapsed).
		Msg("EMA updated")

	return nil
}

// WindowSeconds returns the configured smoothing window.
func (e *Estimator) WindowSeconds() int64 {
	return e.windowSeconds
}

// FloorBps returns the configured EMA floor in bps of spot.
func (e *Estimator) FloorBps() int64 {
	return e.floorBps
}
