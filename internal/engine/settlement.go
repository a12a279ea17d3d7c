/*

This file contains the epoch settlement queue: withdrawal requests burn claims
into the open epoch, settlement prices the batch at the EMA and funds it from
idle (pulling from sources in waterfall order when idle is short), and settled
requests are claimable forever. A settlement that cannot source enough
liquidity fails whole: the epoch stays OPEN and no epoch counters move.

*/

package engine

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/types"
)

var (
	ErrSettleTooEarly        = errors.New("epoch has not met the minimum dwell time")
	ErrInsufficientLiquidity = errors.New("insufficient aggregate liquidity for settlement")
	ErrEpochNotFound         = errors.New("epoch does not exist")
	ErrEpochNotSettled       = errors.New("epoch is not settled")
	ErrNothingToClaim        = errors.New("no unclaimed request for epoch")
	ErrDuplicateEpoch        = errors.New("duplicate epoch id in batch")
)

// RequestWithdraw burns the requester's claims into the open epoch. Burning is
// immediate and irreversible; there is no cancellation. Repeat requests in the
// same open epoch accumulate into one record.
func (e *Engine) RequestWithdraw(requester string, claims sdkmath.Int, now time.Time) (uint64, error) {
	opLogger, release, err := e.begin("request_withdraw", now)
	if err != nil {
		return 0, err
	}
	defer release()

	if requester == "" {
		return 0, ErrEmptyAccount
	}
	if !claims.IsPositive() {
		return 0, fmt.Errorf("%w: got %s", ErrAmountNotPositive, claims)
	}
	if e.claims.BalanceOf(requester).LT(claims) {
		return 0, fmt.Errorf("%w: requester %s holds %s, requested %s",
			ErrInsufficientClaims, requester, e.claims.BalanceOf(requester), claims)
	}

	if err := e.claims.Burn(requester, claims); err != nil {
		return 0, fmt.Errorf("claim burn failed: %w", err)
	}
	e.state.TotalClaims = e.state.TotalClaims.Sub(claims)
	e.state.TotalPendingClaims = e.state.TotalPendingClaims.Add(claims)

	epoch := e.epochs[e.openEpochID]
	epoch.TotalClaimsBurned = epoch.TotalClaimsBurned.Add(claims)

	key := requestKey{epochID: epoch.ID, requester: requester}
	req, ok := e.requests[key]
	if !ok {
		req = &types.WithdrawRequest{
			EpochID:      epoch.ID,
			Requester:    requester,
			ClaimsBurned: sdkmath.ZeroInt(),
		}
		e.requests[key] = req
	}
	req.ClaimsBurned = req.ClaimsBurned.Add(claims)

	opLogger.Info().
		Str("requester", requester).
		Str("claimsBurned", claims.String()).
		Uint64("epochID", epoch.ID).
		Str("epochTotalBurned", epoch.TotalClaimsBurned.String()).
		Msg("Withdrawal requested")

	return epoch.ID, nil
}

// Settle closes the open epoch after the minimum dwell time, pricing the
// burned claims at the EMA against the pre-burn claim supply, and atomically
// opens the next epoch. If idle funds are short, the shortfall is pulled from
// sources in registration order; insufficient aggregate liquidity fails the
// whole settlement.
func (e *Engine) Settle(now time.Time) (uint64, error) {
	opLogger, release, err := e.begin("settle", now)
	if err != nil {
		return 0, err
	}
	defer release()

	epoch := e.epochs[e.openEpochID]
	if now.Sub(epoch.OpenedAt) < e.settleDwell {
		return 0, fmt.Errorf("%w: opened %s ago, dwell is %s",
			ErrSettleTooEarly, now.Sub(epoch.OpenedAt), e.settleDwell)
	}

	// Exchange rate over the pre-burn denominator: burned claims were removed
	// from supply at request time but are still entitled to their share.
	owed := sdkmath.ZeroInt()
	denom := e.state.TotalClaims.Add(e.state.TotalPendingClaims)
	if epoch.TotalClaimsBurned.IsPositive() && denom.IsPositive() {
		owed = e.state.EmaValue.
			MulInt(epoch.TotalClaimsBurned).
			QuoInt(denom).
			TruncateInt()
	}

	if e.availableIdle().LT(owed) {
		shortfall := owed.Sub(e.availableIdle())

		// Pre-check aggregate reported liquidity so an unfundable settlement
		// fails before any source is touched.
		withdrawable := sdkmath.ZeroInt()
		for _, rs := range e.sources {
			bal, err := rs.adapter.Balance()
			if err != nil {
				return 0, fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
			}
			withdrawable = withdrawable.Add(bal)
		}
		if withdrawable.LT(shortfall) {
			return 0, fmt.Errorf("%w: shortfall %s, sources hold %s",
				ErrInsufficientLiquidity, shortfall, withdrawable)
		}

		// Waterfall: pull from sources in registration order until covered.
		for _, rs := range e.sources {
			if !shortfall.IsPositive() {
				break
			}
			pulled, err := e.pullFromSource(rs, shortfall)
			if err != nil {
				return 0, err
			}
			shortfall = shortfall.Sub(pulled)
		}

		// A source may deliver less than it reported. Pulled funds stay in
		// idle so a retry can succeed, but this settlement fails whole.
		if e.availableIdle().LT(owed) {
			return 0, fmt.Errorf("%w: sources under-delivered, still short %s",
				ErrInsufficientLiquidity, owed.Sub(e.availableIdle()))
		}
	}

	epoch.Status = types.EpochSettled
	epoch.SettledAt = now
	epoch.TotalAssetsOwed = owed
	e.state.TotalPendingClaims = e.state.TotalPendingClaims.Sub(epoch.TotalClaimsBurned)
	e.state.TotalClaimableAssets = e.state.TotalClaimableAssets.Add(owed)

	nextID := e.openEpochID + 1
	e.epochs[nextID] = types.NewEpoch(nextID, now)
	e.openEpochID = nextID

	opLogger.Info().
		Uint64("settledEpochID", epoch.ID).
		Uint64("openEpochID", nextID).
		Str("claimsBurned", epoch.TotalClaimsBurned.String()).
		Str("assetsOwed", owed.String()).
		Str("totalClaimableAssets", e.state.TotalClaimableAssets.String()).
		Msg("Epoch settled")

	return epoch.ID, nil
}

// Claim pays the requester their pro-rata share of a settled epoch's owed
// assets and zeroes the request. Claims never expire; a second claim against
// the same request is rejected.
func (e *Engine) Claim(requester string, epochID uint64, now time.Time) (sdkmath.Int, error) {
	opLogger, release, err := e.begin("claim", now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer release()

	payout, err := e.claimOne(opLogger, requester, epochID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return payout, nil
}

// ClaimMany composes Claim across multiple settled epochs under one hook
// invocation. Any failing epoch aborts the batch before it mutates.
func (e *Engine) ClaimMany(requester string, epochIDs []uint64, now time.Time) (sdkmath.Int, error) {
	opLogger, release, err := e.begin("claim_many", now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer release()

	// Validate the whole batch before paying any of it. A repeated epoch id
	// would pass validation twice and then fail mid-payout, so it is rejected
	// up front.
	seen := make(map[uint64]struct{}, len(epochIDs))
	for _, id := range epochIDs {
		if _, dup := seen[id]; dup {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: epoch %d", ErrDuplicateEpoch, id)
		}
		seen[id] = struct{}{}
		if err := e.checkClaimable(requester, id); err != nil {
			return sdkmath.ZeroInt(), err
		}
	}

	total := sdkmath.ZeroInt()
	for _, id := range epochIDs {
		payout, err := e.claimOne(opLogger, requester, id)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(payout)
	}
	return total, nil
}

func (e *Engine) checkClaimable(requester string, epochID uint64) error {
	if requester == "" {
		return ErrEmptyAccount
	}
	epoch, ok := e.epochs[epochID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrEpochNotFound, epochID)
	}
	if epoch.Status != types.EpochSettled {
		return fmt.Errorf("%w: id %d is %s", ErrEpochNotSettled, epochID, epoch.Status)
	}
	req, ok := e.requests[requestKey{epochID: epochID, requester: requester}]
	if !ok || !req.ClaimsBurned.IsPositive() {
		return fmt.Errorf("%w: epoch %d, requester %s", ErrNothingToClaim, epochID, requester)
	}
	return nil
}

// claimOne performs the per-epoch payout. Callers hold the guard and have run
// the pre-operation hook.
func (e *Engine) claimOne(opLogger zerolog.Logger, requester string, epochID uint64) (sdkmath.Int, error) {
	if err := e.checkClaimable(requester, epochID); err != nil {
		return sdkmath.ZeroInt(), err
	}
	epoch := e.epochs[epochID]
	req := e.requests[requestKey{epochID: epochID, requester: requester}]

	payout := epoch.TotalAssetsOwed.
		Mul(req.ClaimsBurned).
		Quo(epoch.TotalClaimsBurned)
	if epoch.TotalAssetsClaimed.Add(payout).GT(epoch.TotalAssetsOwed) {
		return sdkmath.ZeroInt(), fmt.Errorf("claim conservation violated for epoch %d", epochID)
	}

	req.ClaimsBurned = sdkmath.ZeroInt()
	epoch.TotalAssetsClaimed = epoch.TotalAssetsClaimed.Add(payout)
	e.state.TotalClaimableAssets = e.state.TotalClaimableAssets.Sub(payout)
	e.state.IdleBalance = e.state.IdleBalance.Sub(payout)

	opLogger.Info().
		Str("requester", requester).
		Uint64("epochID", epochID).
		Str("payout", payout.String()).
		Str("epochClaimed", epoch.TotalAssetsClaimed.String()).
		Msg("Settled request claimed")

	return payout, nil
}
