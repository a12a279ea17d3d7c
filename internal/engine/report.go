/*

This file contains the risk-report ingestion path and the built-in periodic
risk assessment. ApplyRiskCommand is the single dispatch point for externally
computed commands; AssessRisk runs the three-layer internal assessment (score
sources, measure stressed coverage, decide and apply the band action).

*/

package engine

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/risk"
	"github.com/openyield/vault/internal/types"
)

var (
	ErrUnknownCommandType = errors.New("unknown risk command type")
	ErrEmptyParamUpdates  = errors.New("update command carries no parameter updates")
)

// ApplyRiskCommand validates and applies one externally computed risk command.
// UPDATE_PARAMS is all-or-nothing: every update is validated against a
// registered source before any parameter set is committed.
func (e *Engine) ApplyRiskCommand(cmd types.RiskCommand, now time.Time) error {
	opLogger, release, err := e.begin("apply_risk_command", now)
	if err != nil {
		return err
	}
	defer release()

	switch cmd.Type {
	case types.RiskCommandUpdateParams:
		if len(cmd.ParamUpdates) == 0 {
			return ErrEmptyParamUpdates
		}
		for _, upd := range cmd.ParamUpdates {
			if e.findSource(upd.SourceID) == nil {
				return fmt.Errorf("%w: id %d", ErrUnknownSource, upd.SourceID)
			}
			if err := risk.ValidateRiskParams(upd.Params); err != nil {
				return fmt.Errorf("invalid parameters for source %d: %w", upd.SourceID, err)
			}
		}
		for _, upd := range cmd.ParamUpdates {
			rs := e.findSource(upd.SourceID)
			params := upd.Params
			params.UpdatedAt = now
			rs.record.Params = params
		}
		if cmd.Snapshot != nil {
			e.status = cmd.Snapshot.SystemStatus
		}
		opLogger.Info().
			Int("paramUpdates", len(cmd.ParamUpdates)).
			Str("systemStatus", string(e.status)).
			Msg("Risk parameters updated from external report")
		return nil

	case types.RiskCommandRebalance:
		rs := e.findSource(cmd.RebalanceSource)
		if rs == nil {
			return fmt.Errorf("%w: id %d", ErrUnknownSource, cmd.RebalanceSource)
		}
		if cmd.RebalanceAmount.IsNil() || !cmd.RebalanceAmount.IsPositive() {
			return fmt.Errorf("%w: rebalance amount %s", ErrAmountNotPositive, cmd.RebalanceAmount)
		}
		pulled, err := e.pullFromSource(rs, cmd.RebalanceAmount)
		if err != nil {
			return err
		}
		opLogger.Warn().
			Uint64("sourceID", uint64(cmd.RebalanceSource)).
			Str("requested", cmd.RebalanceAmount.String()).
			Str("pulled", pulled.String()).
			Msg("Defensive rebalance executed from external report")
		return nil

	case types.RiskCommandPause:
		e.paused = true
		opLogger.Warn().Msg("Engine paused by external risk report")
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommandType, cmd.Type)
	}
}

// AssessRisk runs the internal three-layer assessment against the supplied
// per-source protocol metrics. Sources without metrics keep their previous
// score. The returned snapshot reflects the state after the band action was
// applied.
func (e *Engine) AssessRisk(metrics map[types.SourceID]types.ProtocolMetrics, now time.Time) (types.VaultRiskSnapshot, error) {
	opLogger, release, err := e.begin("assess_risk", now)
	if err != nil {
		return types.VaultRiskSnapshot{}, err
	}
	defer release()

	spot, err := e.spotAssets()
	if err != nil {
		return types.VaultRiskSnapshot{}, err
	}

	// Layer 1: composite score per source, exposure-weighted aggregate.
	aggregate := int64(0)
	weighted := sdkmath.ZeroInt()
	for _, rs := range e.sources {
		m, ok := metrics[rs.record.ID]
		if !ok {
			continue
		}
		bal, err := rs.adapter.Balance()
		if err != nil {
			return types.VaultRiskSnapshot{}, fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
		}
		breakdown, err := risk.ScoreSource(rs.record.ID, bal, spot, m)
		if err != nil {
			return types.VaultRiskSnapshot{}, fmt.Errorf("scoring source %d failed: %w", rs.record.ID, err)
		}
		rs.record.RiskScore = breakdown.Score
		weighted = weighted.Add(bal.MulRaw(breakdown.Score))

		opLogger.Debug().
			Uint64("sourceID", uint64(rs.record.ID)).
			Int64("utilizationRisk", breakdown.UtilizationRisk).
			Int64("liquidityRisk", breakdown.LiquidityRisk).
			Int64("oracleRisk", breakdown.OracleRisk).
			Int64("concentrationRisk", breakdown.ConcentrationRisk).
			Int64("score", breakdown.Score).
			Msg("Source risk scored")
	}
	deployed := sdkmath.ZeroInt()
	for _, rs := range e.sources {
		bal, err := rs.adapter.Balance()
		if err != nil {
			return types.VaultRiskSnapshot{}, fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
		}
		deployed = deployed.Add(bal)
	}
	if deployed.IsPositive() {
		aggregate = weighted.Quo(deployed).Int64()
	}

	// Layer 2: stressed liquidity coverage with the current haircuts.
	cov, err := e.currentCoverage(spot)
	if err != nil {
		return types.VaultRiskSnapshot{}, err
	}
	e.lastCoverage = cov

	// Layer 3: decide the band and apply its action.
	status := risk.DecideAction(cov.LCRBps)
	if err := e.applyBandAction(opLogger, status); err != nil {
		return types.VaultRiskSnapshot{}, err
	}
	e.status = status

	snapshot := types.VaultRiskSnapshot{
		StressedLCRBps:     cov.LCRBps,
		AggregateRiskScore: aggregate,
		SystemStatus:       status,
		Timestamp:          now,
	}

	opLogger.Info().
		Int64("stressedLCRBps", cov.LCRBps).
		Int64("aggregateRiskScore", aggregate).
		Str("systemStatus", string(status)).
		Msg("Risk assessment completed")

	return snapshot, nil
}

// currentCoverage measures stressed liquidity coverage over the live source
// balances with each source's current haircut. Callers hold the guard.
func (e *Engine) currentCoverage(spot sdkmath.Int) (risk.Coverage, error) {
	exposures := make([]risk.SourceExposure, 0, len(e.sources))
	for _, rs := range e.sources {
		bal, err := rs.adapter.Balance()
		if err != nil {
			return risk.Coverage{}, fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
		}
		exposures = append(exposures, risk.SourceExposure{
			SourceID:   rs.record.ID,
			Balance:    bal,
			HaircutBps: rs.record.Params.HaircutBps,
		})
	}
	pending := ledger.ConvertToAssets(e.state.TotalPendingClaims, e.state.EmaValue, e.state.TotalClaims.Add(e.state.TotalPendingClaims))
	return risk.LiquidityCoverage(e.availableIdle(), pending, spot, exposures)
}

// applyBandAction applies the per-band posture. Healthy refreshes parameters
// from the score bands, cautious tightens them, defensive forces a rebalance
// out of the riskiest source, critical halts deposits via the status check in
// Deposit.
func (e *Engine) applyBandAction(opLogger zerolog.Logger, status types.SystemStatus) error {
	switch status {
	case types.StatusHealthy:
		for _, rs := range e.sources {
			rs.record.Params.HaircutBps = risk.HaircutForScore(rs.record.RiskScore)
			rs.record.Params.StressOutflowBps = risk.StressOutflowForScore(rs.record.RiskScore)
		}

	case types.StatusCautious:
		for _, rs := range e.sources {
			banded := risk.HaircutForScore(rs.record.RiskScore)
			if banded > rs.record.Params.HaircutBps {
				rs.record.Params.HaircutBps = banded
			}
			stress := risk.StressOutflowForScore(rs.record.RiskScore)
			if stress > rs.record.Params.StressOutflowBps {
				rs.record.Params.StressOutflowBps = stress
			}
			// Shrink the concentration headroom to 90% of its current value.
			rs.record.Params.MaxConcentrationBps = rs.record.Params.MaxConcentrationBps * 9000 / 10000
		}
		opLogger.Warn().Msg("Cautious posture, risk parameters tightened")

	case types.StatusDefensive:
		riskiest := e.riskiestSource()
		if riskiest != nil {
			bal, err := riskiest.adapter.Balance()
			if err != nil {
				return fmt.Errorf("source %d balance query failed: %w", riskiest.record.ID, err)
			}
			half := bal.QuoRaw(2)
			if half.IsPositive() {
				pulled, err := e.pullFromSource(riskiest, half)
				if err != nil {
					return err
				}
				opLogger.Warn().
					Uint64("sourceID", uint64(riskiest.record.ID)).
					Str("pulled", pulled.String()).
					Msg("Defensive posture, forced rebalance from riskiest source")
			}
		}

	case types.StatusCritical:
		opLogger.Error().Msg("Critical posture, new deposits halted")
	}
	return nil
}

// riskiestSource returns the registered source with the highest composite
// score, or nil when none are registered.
func (e *Engine) riskiestSource() *registeredSource {
	var worst *registeredSource
	for _, rs := range e.sources {
		if worst == nil || rs.record.RiskScore > worst.record.RiskScore {
			worst = rs
		}
	}
	return worst
}
