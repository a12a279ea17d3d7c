/*

This file contains the vault engine core: the single-writer aggregate that owns
the vault accounting state, the source registry, and the epoch queue. Every
mutating entry point runs through the same guarded pre-operation hook: acquire
the reentrancy guard, accrue the management fee, refresh the NAV estimate, then
act. External calls to yield-source adapters happen only after validation, and
their effects are measured by balance delta rather than trusted.

*/

package engine

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/fees"
	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/nav"
	"github.com/openyield/vault/internal/risk"
	"github.com/openyield/vault/internal/source"
	"github.com/openyield/vault/internal/types"
)

var (
	ErrReentrantCall        = errors.New("reentrant call rejected")
	ErrPaused               = errors.New("vault is paused")
	ErrDepositsHalted       = errors.New("new deposits halted by risk status")
	ErrAmountNotPositive    = errors.New("amount must be positive")
	ErrEmptyAccount         = errors.New("account cannot be empty")
	ErrUnknownSource        = errors.New("source is not registered")
	ErrSourceExists         = errors.New("source is already registered")
	ErrTooManySources       = errors.New("source registry is full")
	ErrAssetMismatch        = errors.New("source underlying asset mismatch")
	ErrSourceBalanceNonzero = errors.New("source balance must be zero for removal")
	ErrInsufficientIdle     = errors.New("insufficient idle balance")
	ErrInsufficientClaims   = errors.New("insufficient claim balance")
	ErrLCRFloorBreach       = errors.New("deployment would breach LCR floor")
)

// Params are the engine's tunable constants. Bounds are enforced at
// construction and on every admin write.
type Params struct {
	SmoothingWindowSeconds int64
	EmaFloorBps            int64
	SettleDwellSeconds     int64
	LCRFloorBps            int64
	MaxSources             int
	ManagementFeeBps       int64
	PerformanceFeeBps      int64
}

// Config holds the collaborators and parameters for a new engine.
type Config struct {
	Claims          ledger.ClaimLedger
	UnderlyingAsset string
	FeeRecipient    string
	Params          Params
	Now             time.Time
}

type registeredSource struct {
	record  types.YieldSourceRecord
	adapter source.YieldSource
}

type requestKey struct {
	epochID   uint64
	requester string
}

// Engine is the vault accounting and risk engine. It is not safe for
// concurrent use: external calls are strictly serialized by the caller, and
// the busy flag guards against reentrancy through adapter callbacks. Callers
// that share an engine across goroutines wrap it in Synced.
type Engine struct {
	logger zerolog.Logger

	state     types.VaultState
	claims    ledger.ClaimLedger
	accruer   *fees.Accruer
	estimator *nav.Estimator

	underlyingAsset string
	maxSources      int
	lcrFloorBps     int64
	settleDwell     time.Duration

	// Fixed-capacity registry: slice order is the waterfall order; removal
	// compacts with swap-with-last.
	sources []*registeredSource

	epochs      map[uint64]*types.Epoch
	openEpochID uint64
	requests    map[requestKey]*types.WithdrawRequest

	paused       bool
	status       types.SystemStatus
	lastCoverage risk.Coverage
	busy         bool
}

// New validates the configuration and returns an engine with epoch 1 open.
func New(cfg Config) (*Engine, error) {
	if cfg.Claims == nil {
		return nil, errors.New("claim ledger cannot be nil")
	}
	if cfg.UnderlyingAsset == "" {
		return nil, errors.New("underlying asset cannot be empty")
	}
	if cfg.Params.MaxSources <= 0 {
		return nil, errors.New("max sources must be positive")
	}
	if cfg.Params.SettleDwellSeconds < 0 {
		return nil, errors.New("settlement dwell cannot be negative")
	}
	if cfg.Params.LCRFloorBps < 0 {
		return nil, errors.New("LCR floor cannot be negative")
	}
	if err := fees.ValidateManagementFeeBps(cfg.Params.ManagementFeeBps); err != nil {
		return nil, err
	}
	if err := fees.ValidatePerformanceFeeBps(cfg.Params.PerformanceFeeBps); err != nil {
		return nil, err
	}

	estimator, err := nav.NewEstimator(cfg.Params.SmoothingWindowSeconds, cfg.Params.EmaFloorBps)
	if err != nil {
		return nil, fmt.Errorf("invalid NAV estimator configuration: %w", err)
	}
	accruer, err := fees.NewAccruer(cfg.Claims, cfg.FeeRecipient)
	if err != nil {
		return nil, err
	}

	state := types.NewVaultState(cfg.Now)
	state.ManagementFeeBps = cfg.Params.ManagementFeeBps
	state.PerformanceFeeBps = cfg.Params.PerformanceFeeBps

	e := &Engine{
		logger:          logger.GetForComponent("vault_engine"),
		state:           state,
		claims:          cfg.Claims,
		accruer:         accruer,
		estimator:       estimator,
		underlyingAsset: cfg.UnderlyingAsset,
		maxSources:      cfg.Params.MaxSources,
		lcrFloorBps:     cfg.Params.LCRFloorBps,
		settleDwell:     time.Duration(cfg.Params.SettleDwellSeconds) * time.Second,
		sources:         make([]*registeredSource, 0, cfg.Params.MaxSources),
		epochs:          make(map[uint64]*types.Epoch),
		openEpochID:     1,
		requests:        make(map[requestKey]*types.WithdrawRequest),
		status:          types.StatusHealthy,
		// No assessment has run yet; zero would read as 0% coverage.
		lastCoverage: risk.Coverage{LCRBps: risk.LCRUnbounded},
	}
	e.epochs[1] = types.NewEpoch(1, cfg.Now)

	e.logger.Info().
		Str("underlyingAsset", cfg.UnderlyingAsset).
		Int("maxSources", cfg.Params.MaxSources).
		Int64("managementFeeBps", cfg.Params.ManagementFeeBps).
		Int64("performanceFeeBps", cfg.Params.PerformanceFeeBps).
		Msg("Vault engine created")

	return e, nil
}

// begin is the mandatory pre-operation hook for every mutating entry point:
// reentrancy guard, management fee accrual, NAV refresh, in that order. The
// returned release func must be called on every exit path.
func (e *Engine) begin(op string, now time.Time) (zerolog.Logger, func(), error) {
	if e.busy {
		return zerolog.Logger{}, nil, ErrReentrantCall
	}
	e.busy = true
	release := func() { e.busy = false }

	opLogger := e.logger.With().
		Str("op", op).
		Str("trace_id", uuid.New().String()).
		Logger()

	spot, err := e.spotAssets()
	if err != nil {
		release()
		return zerolog.Logger{}, nil, fmt.Errorf("failed to compute spot assets: %w", err)
	}
	if _, err := e.accruer.AccrueManagement(&e.state, spot, now); err != nil {
		release()
		return zerolog.Logger{}, nil, fmt.Errorf("management fee accrual failed: %w", err)
	}
	if err := e.estimator.Update(&e.state, spot, now); err != nil {
		release()
		return zerolog.Logger{}, nil, fmt.Errorf("NAV update failed: %w", err)
	}
	return opLogger, release, nil
}

// spotAssets recomputes the instantaneous total-assets value: idle plus every
// source's reported balance, minus assets already committed to settled
// requests. Claimable assets are excluded so new depositors are never priced
// against money already owed out.
func (e *Engine) spotAssets() (sdkmath.Int, error) {
	total := e.state.IdleBalance
	for _, rs := range e.sources {
		bal, err := rs.adapter.Balance()
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
		}
		if bal.IsNegative() {
			return sdkmath.Int{}, fmt.Errorf("source %d reported negative balance %s", rs.record.ID, bal)
		}
		total = total.Add(bal)
	}
	total = total.Sub(e.state.TotalClaimableAssets)
	if total.IsNegative() {
		e.logger.Warn().
			Str("total", total.String()).
			Msg("Spot assets computed negative, clamping to zero")
		total = sdkmath.ZeroInt()
	}
	return total, nil
}

// availableIdle is the idle balance net of assets already committed to
// settled, unclaimed requests.
func (e *Engine) availableIdle() sdkmath.Int {
	avail := e.state.IdleBalance.Sub(e.state.TotalClaimableAssets)
	if avail.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return avail
}

// Deposit credits assets to the vault and mints proportional claims to the
// depositor, priced at the EMA with virtual-offset inflation protection.
func (e *Engine) Deposit(depositor string, assets sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	opLogger, release, err := e.begin("deposit", now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer release()

	if depositor == "" {
		return sdkmath.ZeroInt(), ErrEmptyAccount
	}
	if !assets.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: got %s", ErrAmountNotPositive, assets)
	}
	if e.paused {
		return sdkmath.ZeroInt(), ErrPaused
	}
	if e.status == types.StatusCritical {
		return sdkmath.ZeroInt(), ErrDepositsHalted
	}

	wasEmpty := e.state.TotalClaims.Add(e.state.TotalPendingClaims).IsZero()

	minted := ledger.ConvertToClaims(assets, e.state.EmaValue, e.state.TotalClaims)
	if !minted.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit of %s converts to zero claims", ErrAmountNotPositive, assets)
	}
	if err := e.claims.Mint(depositor, minted); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("claim mint failed: %w", err)
	}
	e.state.TotalClaims = e.state.TotalClaims.Add(minted)
	e.state.IdleBalance = e.state.IdleBalance.Add(assets)

	// The vault was empty until this deposit, so the EMA snaps to the new
	// spot instead of interpolating from zero.
	if wasEmpty {
		spot, err := e.spotAssets()
		if err == nil {
			e.state.EmaValue = sdkmath.LegacyNewDecFromInt(spot)
		}
	}

	opLogger.Info().
		Str("depositor", depositor).
		Str("assets", assets.String()).
		Str("claimsMinted", minted.String()).
		Str("ema", e.state.EmaValue.String()).
		Msg("Deposit accepted")

	return minted, nil
}

// Harvest charges the per-source high-water-mark performance fee across every
// registered source. Operator triggered; there is no cooldown.
func (e *Engine) Harvest(now time.Time) (sdkmath.Int, error) {
	opLogger, release, err := e.begin("harvest", now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer release()

	totalFeeClaims := sdkmath.ZeroInt()
	for _, rs := range e.sources {
		bal, err := rs.adapter.Balance()
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
		}
		feeClaims, err := e.accruer.HarvestSource(&e.state, &rs.record, bal)
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("harvest of source %d failed: %w", rs.record.ID, err)
		}
		totalFeeClaims = totalFeeClaims.Add(feeClaims)
	}

	opLogger.Info().
		Int("sources", len(e.sources)).
		Str("totalFeeClaims", totalFeeClaims.String()).
		Msg("Harvest completed")

	return totalFeeClaims, nil
}

// RegisterSource admits a new yield source. The high-water mark initializes to
// the source's current reported balance, not zero, so the first harvest never
// charges a spurious fee.
func (e *Engine) RegisterSource(id types.SourceID, adapter source.YieldSource, params types.RiskParams, now time.Time) error {
	opLogger, release, err := e.begin("register_source", now)
	if err != nil {
		return err
	}
	defer release()

	if adapter == nil {
		return errors.New("source adapter cannot be nil")
	}
	if adapter.Asset() != e.underlyingAsset {
		return fmt.Errorf("%w: source holds %q, vault holds %q", ErrAssetMismatch, adapter.Asset(), e.underlyingAsset)
	}
	if e.findSource(id) != nil {
		return fmt.Errorf("%w: id %d", ErrSourceExists, id)
	}
	if len(e.sources) >= e.maxSources {
		return fmt.Errorf("%w: cap is %d", ErrTooManySources, e.maxSources)
	}
	if err := risk.ValidateRiskParams(params); err != nil {
		return err
	}

	bal, err := adapter.Balance()
	if err != nil {
		return fmt.Errorf("source %d balance query failed: %w", id, err)
	}
	params.UpdatedAt = now
	e.sources = append(e.sources, &registeredSource{
		record: types.YieldSourceRecord{
			ID:            id,
			HighWaterMark: bal,
			Params:        params,
			RegisteredAt:  now,
		},
		adapter: adapter,
	})

	opLogger.Info().
		Uint64("sourceID", uint64(id)).
		Str("initialBalance", bal.String()).
		Int("registered", len(e.sources)).
		Msg("Yield source registered")

	return nil
}

// RemoveSource drops a source from the registry. Rejected while the source
// still reports a nonzero balance. Removal compacts the registry by swapping
// with the last entry.
func (e *Engine) RemoveSource(id types.SourceID, now time.Time) error {
	opLogger, release, err := e.begin("remove_source", now)
	if err != nil {
		return err
	}
	defer release()

	idx := -1
	for i, rs := range e.sources {
		if rs.record.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: id %d", ErrUnknownSource, id)
	}
	bal, err := e.sources[idx].adapter.Balance()
	if err != nil {
		return fmt.Errorf("source %d balance query failed: %w", id, err)
	}
	if !bal.IsZero() {
		return fmt.Errorf("%w: source %d holds %s", ErrSourceBalanceNonzero, id, bal)
	}

	last := len(e.sources) - 1
	e.sources[idx] = e.sources[last]
	e.sources[last] = nil
	e.sources = e.sources[:last]

	opLogger.Info().
		Uint64("sourceID", uint64(id)).
		Int("remaining", len(e.sources)).
		Msg("Yield source removed")

	return nil
}

// Deploy moves idle capital into a registered source, subject to the
// concentration limit and the LCR floor, both checked before any funds move.
func (e *Engine) Deploy(id types.SourceID, amount sdkmath.Int, now time.Time) error {
	opLogger, release, err := e.begin("deploy", now)
	if err != nil {
		return err
	}
	defer release()

	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrAmountNotPositive, amount)
	}
	if e.paused {
		return ErrPaused
	}
	rs := e.findSource(id)
	if rs == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownSource, id)
	}
	if e.availableIdle().LT(amount) {
		return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientIdle, e.availableIdle(), amount)
	}

	preBal, err := rs.adapter.Balance()
	if err != nil {
		return fmt.Errorf("source %d balance query failed: %w", id, err)
	}
	spot, err := e.spotAssets()
	if err != nil {
		return err
	}
	if err := risk.CheckConcentration(preBal.Add(amount), spot, rs.record.Params.MaxConcentrationBps); err != nil {
		return err
	}
	cov, err := e.projectCoverage(id, amount)
	if err != nil {
		return err
	}
	if cov.LCRBps != risk.LCRUnbounded && cov.LCRBps < e.lcrFloorBps {
		return fmt.Errorf("%w: projected %d bps, floor %d bps", ErrLCRFloorBreach, cov.LCRBps, e.lcrFloorBps)
	}

	if err := rs.adapter.Deposit(amount); err != nil {
		return fmt.Errorf("source %d deposit failed: %w", id, err)
	}
	e.state.IdleBalance = e.state.IdleBalance.Sub(amount)

	// Deployed principal is not profit: the high-water mark rises with it so
	// the next harvest charges only genuine yield.
	rs.record.HighWaterMark = rs.record.HighWaterMark.Add(amount)

	postBal, err := rs.adapter.Balance()
	if err == nil && !postBal.Sub(preBal).Equal(amount) {
		opLogger.Warn().
			Uint64("sourceID", uint64(id)).
			Str("requested", amount.String()).
			Str("credited", postBal.Sub(preBal).String()).
			Msg("Source credited a different amount than requested")
	}

	opLogger.Info().
		Uint64("sourceID", uint64(id)).
		Str("amount", amount.String()).
		Str("idleBalance", e.state.IdleBalance.String()).
		Int64("projectedLCRBps", cov.LCRBps).
		Msg("Capital deployed")

	return nil
}

// Recall pulls capital from a source back to idle. The transferred amount is
// the measured balance delta, never the requested amount.
func (e *Engine) Recall(id types.SourceID, amount sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	opLogger, release, err := e.begin("recall", now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer release()

	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: got %s", ErrAmountNotPositive, amount)
	}
	rs := e.findSource(id)
	if rs == nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: id %d", ErrUnknownSource, id)
	}

	recalled, err := e.pullFromSource(rs, amount)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	opLogger.Info().
		Uint64("sourceID", uint64(id)).
		Str("requested", amount.String()).
		Str("recalled", recalled.String()).
		Msg("Capital recalled to idle")

	return recalled, nil
}

// pullFromSource withdraws up to amount from one source, measures the actual
// transfer by balance delta, and credits idle. Callers hold the guard.
func (e *Engine) pullFromSource(rs *registeredSource, amount sdkmath.Int) (sdkmath.Int, error) {
	pre, err := rs.adapter.Balance()
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
	}
	reported, err := rs.adapter.Withdraw(amount)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("source %d withdraw failed: %w", rs.record.ID, err)
	}
	post, err := rs.adapter.Balance()
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
	}

	actual := pre.Sub(post)
	if actual.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("source %d balance increased during withdraw", rs.record.ID)
	}
	if !actual.Equal(reported) {
		e.logger.Warn().
			Uint64("sourceID", uint64(rs.record.ID)).
			Str("reported", reported.String()).
			Str("measured", actual.String()).
			Msg("Source-reported withdrawal differs from measured delta, using delta")
	}
	e.state.IdleBalance = e.state.IdleBalance.Add(actual)
	return actual, nil
}

// projectCoverage computes the post-deployment liquidity coverage if amount
// moved from idle into source id.
func (e *Engine) projectCoverage(id types.SourceID, amount sdkmath.Int) (risk.Coverage, error) {
	exposures := make([]risk.SourceExposure, 0, len(e.sources))
	for _, rs := range e.sources {
		bal, err := rs.adapter.Balance()
		if err != nil {
			return risk.Coverage{}, fmt.Errorf("source %d balance query failed: %w", rs.record.ID, err)
		}
		if rs.record.ID == id {
			bal = bal.Add(amount)
		}
		exposures = append(exposures, risk.SourceExposure{
			SourceID:   rs.record.ID,
			Balance:    bal,
			HaircutBps: rs.record.Params.HaircutBps,
		})
	}
	spot, err := e.spotAssets()
	if err != nil {
		return risk.Coverage{}, err
	}
	pending := ledger.ConvertToAssets(e.state.TotalPendingClaims, e.state.EmaValue, e.state.TotalClaims.Add(e.state.TotalPendingClaims))
	return risk.LiquidityCoverage(e.availableIdle().Sub(amount), pending, spot, exposures)
}

func (e *Engine) findSource(id types.SourceID) *registeredSource {
	for _, rs := range e.sources {
		if rs.record.ID == id {
			return rs
		}
	}
	return nil
}
