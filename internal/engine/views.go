/*

Read-only views over the engine: the full snapshot consumed by persistence and
the observability API, the epoch history, and per-requester pending requests.
Views never mutate state and never run the pre-operation hook.

*/

package engine

import (
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/openyield/vault/internal/types"
)

// Snapshot captures the current engine state for persistence and the API.
// Source balances are live adapter queries; a source whose balance query fails
// is reported with an empty balance rather than failing the whole snapshot.
func (e *Engine) Snapshot(now time.Time) types.EngineSnapshot {
	sources := make([]types.SourceSnapshot, 0, len(e.sources))
	total := e.state.IdleBalance
	for _, rs := range e.sources {
		balStr := ""
		bal, err := rs.adapter.Balance()
		if err == nil {
			balStr = bal.String()
			total = total.Add(bal)
		} else {
			e.logger.Warn().
				Uint64("sourceID", uint64(rs.record.ID)).
				Err(err).
				Msg("Source balance unavailable for snapshot")
		}
		sources = append(sources, types.SourceSnapshot{
			SourceID:            uint64(rs.record.ID),
			Balance:             balStr,
			HighWaterMark:       rs.record.HighWaterMark.String(),
			RiskScore:           rs.record.RiskScore,
			HaircutBps:          rs.record.Params.HaircutBps,
			StressOutflowBps:    rs.record.Params.StressOutflowBps,
			MaxConcentrationBps: rs.record.Params.MaxConcentrationBps,
			RiskTier:            rs.record.Params.RiskTier,
			ParamsUpdatedAt:     rs.record.Params.UpdatedAt,
		})
	}
	total = total.Sub(e.state.TotalClaimableAssets)
	if total.IsNegative() {
		total = sdkmath.ZeroInt()
	}

	return types.EngineSnapshot{
		Timestamp:            now,
		IdleBalance:          e.state.IdleBalance.String(),
		TotalAssets:          total.String(),
		TotalClaims:          e.state.TotalClaims.String(),
		TotalPendingClaims:   e.state.TotalPendingClaims.String(),
		TotalClaimableAssets: e.state.TotalClaimableAssets.String(),
		EmaValue:             e.state.EmaValue.String(),
		OpenEpochID:          e.openEpochID,
		LCRBps:               e.lastCoverage.LCRBps,
		SystemStatus:         e.status,
		Paused:               e.paused,
		Sources:              sources,
	}
}

// EpochHistory returns snapshots of every epoch in ascending id order.
func (e *Engine) EpochHistory() []types.EpochSnapshot {
	out := make([]types.EpochSnapshot, 0, len(e.epochs))
	for _, ep := range e.epochs {
		out = append(out, types.EpochSnapshot{
			EpochID:            ep.ID,
			Status:             ep.Status,
			OpenedAt:           ep.OpenedAt,
			SettledAt:          ep.SettledAt,
			TotalClaimsBurned:  ep.TotalClaimsBurned.String(),
			TotalAssetsOwed:    ep.TotalAssetsOwed.String(),
			TotalAssetsClaimed: ep.TotalAssetsClaimed.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpochID < out[j].EpochID })
	return out
}

// EpochByID returns the snapshot for one epoch.
func (e *Engine) EpochByID(id uint64) (types.EpochSnapshot, bool) {
	ep, ok := e.epochs[id]
	if !ok {
		return types.EpochSnapshot{}, false
	}
	return types.EpochSnapshot{
		EpochID:            ep.ID,
		Status:             ep.Status,
		OpenedAt:           ep.OpenedAt,
		SettledAt:          ep.SettledAt,
		TotalClaimsBurned:  ep.TotalClaimsBurned.String(),
		TotalAssetsOwed:    ep.TotalAssetsOwed.String(),
		TotalAssetsClaimed: ep.TotalAssetsClaimed.String(),
	}, true
}

// PendingRequests returns the requester's unclaimed requests across all
// epochs, open and settled, in ascending epoch order.
func (e *Engine) PendingRequests(requester string) []types.WithdrawRequest {
	out := make([]types.WithdrawRequest, 0)
	for key, req := range e.requests {
		if key.requester != requester || !req.ClaimsBurned.IsPositive() {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpochID < out[j].EpochID })
	return out
}

// State returns a copy of the accounting aggregate.
func (e *Engine) State() types.VaultState {
	return e.state
}

// OpenEpochID returns the id of the currently open epoch.
func (e *Engine) OpenEpochID() uint64 {
	return e.openEpochID
}

// Status returns the current system status from the latest risk assessment.
func (e *Engine) Status() types.SystemStatus {
	return e.status
}

// Paused reports whether the pause switch is set.
func (e *Engine) Paused() bool {
	return e.paused
}

// SourceCount returns the number of registered sources.
func (e *Engine) SourceCount() int {
	return len(e.sources)
}

// SourceIDs returns the registered source ids in waterfall order.
func (e *Engine) SourceIDs() []types.SourceID {
	out := make([]types.SourceID, 0, len(e.sources))
	for _, rs := range e.sources {
		out = append(out, rs.record.ID)
	}
	return out
}

// UnderlyingAsset returns the denom of the single asset the vault accepts.
func (e *Engine) UnderlyingAsset() string {
	return e.underlyingAsset
}
