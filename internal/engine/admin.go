/*

Administrative operations: fee schedule changes, fee recipient rotation,
high-water-mark resets, and the pause switch. Fee rate changes run the
pre-operation hook first so the elapsed interval accrues at the old rate, then
restamp the accrual clock so no interval is ever charged at two rates.

*/

package engine

import (
	"fmt"
	"time"

	"github.com/openyield/vault/internal/fees"
	"github.com/openyield/vault/internal/types"
)

// SetManagementFeeBps changes the annualized management fee rate. The hook
// accrues the pending interval at the old rate before the new rate takes
// effect.
func (e *Engine) SetManagementFeeBps(bps int64, now time.Time) error {
	opLogger, release, err := e.begin("set_management_fee", now)
	if err != nil {
		return err
	}
	defer release()

	if err := fees.ValidateManagementFeeBps(bps); err != nil {
		return err
	}

	old := e.state.ManagementFeeBps
	e.state.ManagementFeeBps = bps
	// The hook skips the clock when the old rate was zero or the recipient is
	// unset; restamp so the new rate never reaches back over that gap.
	e.state.ManagementFeeLastAccrual = now

	opLogger.Info().
		Int64("oldBps", old).
		Int64("newBps", bps).
		Msg("Management fee rate updated")
	return nil
}

// SetPerformanceFeeBps changes the performance fee rate applied to harvested
// profit above each source's high-water mark.
func (e *Engine) SetPerformanceFeeBps(bps int64, now time.Time) error {
	opLogger, release, err := e.begin("set_performance_fee", now)
	if err != nil {
		return err
	}
	defer release()

	if err := fees.ValidatePerformanceFeeBps(bps); err != nil {
		return err
	}

	old := e.state.PerformanceFeeBps
	e.state.PerformanceFeeBps = bps

	opLogger.Info().
		Int64("oldBps", old).
		Int64("newBps", bps).
		Msg("Performance fee rate updated")
	return nil
}

// SetFeeRecipient rotates the account that receives minted fee claims. An
// empty recipient disables fee minting without touching the rates.
func (e *Engine) SetFeeRecipient(recipient string, now time.Time) error {
	opLogger, release, err := e.begin("set_fee_recipient", now)
	if err != nil {
		return err
	}
	defer release()

	e.accruer.SetRecipient(recipient)
	if recipient != "" {
		// Same gap rule as rate changes: accrual resumes from now, not from
		// whenever the recipient was last set.
		e.state.ManagementFeeLastAccrual = now
	}

	opLogger.Info().
		Str("recipient", recipient).
		Msg("Fee recipient updated")
	return nil
}

// ResetHighWaterMark snaps a source's high-water mark down to its current
// balance. Governance uses this after a realized, permanent loss so future
// recovery back to the old mark is not treated as fee-free.
func (e *Engine) ResetHighWaterMark(id types.SourceID, now time.Time) error {
	opLogger, release, err := e.begin("reset_high_water_mark", now)
	if err != nil {
		return err
	}
	defer release()

	rs := e.findSource(id)
	if rs == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownSource, id)
	}
	balance, err := rs.adapter.Balance()
	if err != nil {
		return fmt.Errorf("source %d balance query failed: %w", id, err)
	}

	old := rs.record.HighWaterMark
	rs.record.HighWaterMark = balance

	opLogger.Warn().
		Uint64("sourceID", uint64(id)).
		Str("oldHighWaterMark", old.String()).
		Str("newHighWaterMark", balance.String()).
		Msg("High-water mark reset")
	return nil
}

// Pause halts deposits and deployments. Settled entitlements remain claimable
// and withdrawals keep flowing while paused.
func (e *Engine) Pause(now time.Time) error {
	opLogger, release, err := e.begin("pause", now)
	if err != nil {
		return err
	}
	defer release()

	e.paused = true
	opLogger.Warn().Msg("Engine paused")
	return nil
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(now time.Time) error {
	opLogger, release, err := e.begin("unpause", now)
	if err != nil {
		return err
	}
	defer release()

	e.paused = false
	opLogger.Info().Msg("Engine unpaused")
	return nil
}
