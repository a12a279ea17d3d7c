package engine_test

import (
	"os"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openyield/vault/internal/engine"
	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/risk"
	"github.com/openyield/vault/internal/source"
	"github.com/openyield/vault/internal/types"
)

func TestMain(m *testing.M) {
	logger.Initialize("error")
	os.Exit(m.Run())
}

const testAsset = "uusdc"

func defaultParams() engine.Params {
	return engine.Params{
		SmoothingWindowSeconds: 3600,
		EmaFloorBps:            9500,
		SettleDwellSeconds:     300,
		LCRFloorBps:            0,
		MaxSources:             20,
		ManagementFeeBps:       0,
		PerformanceFeeBps:      1000,
	}
}

func newTestEngine(t *testing.T, params engine.Params, recipient string, now time.Time) (*engine.Engine, *ledger.MemoryLedger) {
	t.Helper()
	claims := ledger.NewMemoryLedger()
	eng, err := engine.New(engine.Config{
		Claims:          claims,
		UnderlyingAsset: testAsset,
		FeeRecipient:    recipient,
		Params:          params,
		Now:             now,
	})
	require.NoError(t, err)
	return eng, claims
}

func benignParams() types.RiskParams {
	return types.RiskParams{
		HaircutBps:          500,
		StressOutflowBps:    1000,
		MaxConcentrationBps: 10000,
		RiskTier:            0,
	}
}

func TestNewValidation(t *testing.T) {
	now := time.Now().UTC()

	_, err := engine.New(engine.Config{UnderlyingAsset: testAsset, Params: defaultParams(), Now: now})
	require.Error(t, err)

	bad := defaultParams()
	bad.ManagementFeeBps = 501
	_, err = engine.New(engine.Config{Claims: ledger.NewMemoryLedger(), UnderlyingAsset: testAsset, Params: bad, Now: now})
	require.Error(t, err)

	bad = defaultParams()
	bad.SmoothingWindowSeconds = 0
	_, err = engine.New(engine.Config{Claims: ledger.NewMemoryLedger(), UnderlyingAsset: testAsset, Params: bad, Now: now})
	require.Error(t, err)

	bad = defaultParams()
	bad.MaxSources = 0
	_, err = engine.New(engine.Config{Claims: ledger.NewMemoryLedger(), UnderlyingAsset: testAsset, Params: bad, Now: now})
	require.Error(t, err)
}

func TestFirstDepositMintsOneToOne(t *testing.T) {
	now := time.Now().UTC()
	eng, claims := newTestEngine(t, defaultParams(), "", now)

	minted, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1000), minted)
	require.Equal(t, sdkmath.NewInt(1000), claims.BalanceOf("alice"))

	state := eng.State()
	require.Equal(t, sdkmath.NewInt(1000), state.IdleBalance)
	require.Equal(t, sdkmath.NewInt(1000), state.TotalClaims)
	// The EMA snaps to the new spot on the first deposit so the next
	// depositor is priced against real value, not the stale empty estimate.
	require.Equal(t, sdkmath.LegacyNewDec(1000), state.EmaValue)
}

func TestSecondDepositPricedAtEma(t *testing.T) {
	now := time.Now().UTC()
	eng, claims := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(800), now)
	require.NoError(t, err)

	minted, err := eng.Deposit("bob", sdkmath.NewInt(500), now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500), minted)
	require.Equal(t, sdkmath.NewInt(500), claims.BalanceOf("bob"))
	require.Equal(t, sdkmath.NewInt(1300), eng.State().TotalClaims)
}

func TestDepositValidation(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("", sdkmath.NewInt(100), now)
	require.ErrorIs(t, err, engine.ErrEmptyAccount)

	_, err = eng.Deposit("alice", sdkmath.ZeroInt(), now)
	require.ErrorIs(t, err, engine.ErrAmountNotPositive)

	_, err = eng.Deposit("alice", sdkmath.NewInt(-5), now)
	require.ErrorIs(t, err, engine.ErrAmountNotPositive)
}

func TestPauseBlocksDepositsAndDeploys(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	require.NoError(t, eng.Pause(now))
	require.True(t, eng.Paused())

	_, err = eng.Deposit("alice", sdkmath.NewInt(100), now)
	require.ErrorIs(t, err, engine.ErrPaused)

	require.NoError(t, eng.Unpause(now))
	_, err = eng.Deposit("alice", sdkmath.NewInt(100), now)
	require.NoError(t, err)
}

func TestRegisterSourceChecks(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	// Asset mismatch.
	err := eng.RegisterSource(1, source.NewSimulated("uatom"), benignParams(), now)
	require.ErrorIs(t, err, engine.ErrAssetMismatch)

	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now))

	// Duplicate id.
	err = eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now)
	require.ErrorIs(t, err, engine.ErrSourceExists)

	// Out-of-range parameters.
	bad := benignParams()
	bad.HaircutBps = 9501
	err = eng.RegisterSource(2, source.NewSimulated(testAsset), bad, now)
	require.Error(t, err)

	require.Equal(t, 1, eng.SourceCount())
}

func TestRegisterSourceCap(t *testing.T) {
	now := time.Now().UTC()
	params := defaultParams()
	params.MaxSources = 2
	eng, _ := newTestEngine(t, params, "", now)

	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now))
	require.NoError(t, eng.RegisterSource(2, source.NewSimulated(testAsset), benignParams(), now))
	err := eng.RegisterSource(3, source.NewSimulated(testAsset), benignParams(), now)
	require.ErrorIs(t, err, engine.ErrTooManySources)
}

func TestRegisterSourceInitializesHighWaterMark(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "treasury", now)

	// A source admitted with a pre-existing balance must not be charged a
	// performance fee on that balance at the first harvest.
	sim := source.NewSimulated(testAsset)
	sim.AccrueYield(sdkmath.NewInt(250))
	require.NoError(t, eng.RegisterSource(1, sim, benignParams(), now))

	fee, err := eng.Harvest(now)
	require.NoError(t, err)
	require.True(t, fee.IsZero())
}

func TestRemoveSource(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(300), now))

	// Nonzero balance blocks removal.
	err = eng.RemoveSource(1, now)
	require.ErrorIs(t, err, engine.ErrSourceBalanceNonzero)

	_, err = eng.Recall(1, sdkmath.NewInt(300), now)
	require.NoError(t, err)
	require.NoError(t, eng.RemoveSource(1, now))
	require.Equal(t, 0, eng.SourceCount())

	err = eng.RemoveSource(1, now)
	require.ErrorIs(t, err, engine.ErrUnknownSource)
}

func TestDeployChecksIdleAndConcentration(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	params := benignParams()
	params.MaxConcentrationBps = 5000
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), params, now))

	// More than idle.
	err = eng.Deploy(1, sdkmath.NewInt(1001), now)
	require.ErrorIs(t, err, engine.ErrInsufficientIdle)

	// 650 of 1000 breaches the 50% concentration cap.
	err = eng.Deploy(1, sdkmath.NewInt(650), now)
	require.Error(t, err)

	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(500), now))
	require.Equal(t, sdkmath.NewInt(500), eng.State().IdleBalance)
}

func TestDeployRejectedBelowLCRFloor(t *testing.T) {
	now := time.Now().UTC()
	params := defaultParams()
	params.LCRFloorBps = 12000
	eng, _ := newTestEngine(t, params, "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	// With a 95% haircut, deploying 900 leaves HQLA 100 + 45 against
	// stressed outflows of 300: roughly 48% coverage, well under the floor.
	srcParams := benignParams()
	srcParams.HaircutBps = 9500
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), srcParams, now))

	err = eng.Deploy(1, sdkmath.NewInt(900), now)
	require.ErrorIs(t, err, engine.ErrLCRFloorBreach)

	// Nothing moved.
	require.Equal(t, sdkmath.NewInt(1000), eng.State().IdleBalance)
}

func TestRecallMeasuresDelta(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	sim := source.NewSimulated(testAsset)
	require.NoError(t, eng.RegisterSource(1, sim, benignParams(), now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(500), now))

	recalled, err := eng.Recall(1, sdkmath.NewInt(200), now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(200), recalled)
	require.Equal(t, sdkmath.NewInt(700), eng.State().IdleBalance)

	// A source that only partially fills credits only the measured delta.
	sim.SetWithdrawCap(sdkmath.NewInt(50))
	recalled, err = eng.Recall(1, sdkmath.NewInt(200), now)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(50), recalled)
	require.Equal(t, sdkmath.NewInt(750), eng.State().IdleBalance)
}

func TestHarvestChargesOnlyYield(t *testing.T) {
	now := time.Now().UTC()
	eng, claims := newTestEngine(t, defaultParams(), "treasury", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	sim := source.NewSimulated(testAsset)
	require.NoError(t, eng.RegisterSource(1, sim, benignParams(), now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(500), now))

	// Deployment alone is principal, not profit.
	fee, err := eng.Harvest(now)
	require.NoError(t, err)
	require.True(t, fee.IsZero())

	// 100 of yield at a 10% performance fee.
	sim.AccrueYield(sdkmath.NewInt(100))
	fee, err = eng.Harvest(now)
	require.NoError(t, err)
	require.True(t, fee.IsPositive())
	require.Equal(t, fee, claims.BalanceOf("treasury"))
}

type reentrantAdapter struct {
	inner *source.Simulated
	eng   *engine.Engine
	tried bool
	err   error
}

func (r *reentrantAdapter) Deposit(amount sdkmath.Int) error { return r.inner.Deposit(amount) }
func (r *reentrantAdapter) Withdraw(amount sdkmath.Int) (sdkmath.Int, error) {
	return r.inner.Withdraw(amount)
}
func (r *reentrantAdapter) Asset() string { return r.inner.Asset() }
func (r *reentrantAdapter) Balance() (sdkmath.Int, error) {
	if r.eng != nil && !r.tried {
		r.tried = true
		_, r.err = r.eng.Deposit("mallory", sdkmath.NewInt(1), time.Now().UTC())
	}
	return r.inner.Balance()
}

func TestReentrantAdapterCallRejected(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	adapter := &reentrantAdapter{inner: source.NewSimulated(testAsset)}
	require.NoError(t, eng.RegisterSource(1, adapter, benignParams(), now))

	// Arm the adapter: its next balance query re-enters the engine.
	adapter.eng = eng
	_, err = eng.Deposit("alice", sdkmath.NewInt(100), now)
	require.NoError(t, err)
	require.True(t, adapter.tried)
	require.ErrorIs(t, adapter.err, engine.ErrReentrantCall)
}

func TestSetFeeBpsValidatesAndRestamps(t *testing.T) {
	t0 := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "treasury", t0)

	require.Error(t, eng.SetManagementFeeBps(501, t0))
	require.Error(t, eng.SetPerformanceFeeBps(5001, t0))

	later := t0.Add(time.Hour)
	require.NoError(t, eng.SetManagementFeeBps(100, later))
	state := eng.State()
	require.Equal(t, int64(100), state.ManagementFeeBps)
	// The accrual clock restamps so the new rate cannot reach back over the
	// zero-fee hour.
	require.Equal(t, later, state.ManagementFeeLastAccrual)

	require.NoError(t, eng.SetPerformanceFeeBps(2000, later))
	require.Equal(t, int64(2000), eng.State().PerformanceFeeBps)
}

func TestResetHighWaterMark(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "treasury", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	sim := source.NewSimulated(testAsset)
	require.NoError(t, eng.RegisterSource(1, sim, benignParams(), now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(500), now))

	// Permanent loss: balance drops below the mark.
	sim.AccrueYield(sdkmath.NewInt(-200))

	require.NoError(t, eng.ResetHighWaterMark(1, now))
	snap := eng.Snapshot(now)
	require.Equal(t, "300", snap.Sources[0].HighWaterMark)

	require.ErrorIs(t, eng.ResetHighWaterMark(9, now), engine.ErrUnknownSource)
}

func TestApplyRiskCommandUpdateParamsAtomic(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now))

	// Second update targets an unregistered source: the whole command is
	// rejected and the first source's parameters stay untouched.
	cmd := types.RiskCommand{
		Type: types.RiskCommandUpdateParams,
		ParamUpdates: []types.SourceParamsUpdate{
			{SourceID: 1, Params: types.RiskParams{HaircutBps: 3000, StressOutflowBps: 3500, MaxConcentrationBps: 2500, RiskTier: 2}},
			{SourceID: 9, Params: benignParams()},
		},
	}
	err := eng.ApplyRiskCommand(cmd, now)
	require.ErrorIs(t, err, engine.ErrUnknownSource)

	snap := eng.Snapshot(now)
	require.Equal(t, int64(500), snap.Sources[0].HaircutBps)

	// Valid command applies.
	cmd.ParamUpdates = cmd.ParamUpdates[:1]
	require.NoError(t, eng.ApplyRiskCommand(cmd, now))
	snap = eng.Snapshot(now)
	require.Equal(t, int64(3000), snap.Sources[0].HaircutBps)
	require.Equal(t, int64(2500), snap.Sources[0].MaxConcentrationBps)
}

func TestApplyRiskCommandRebalanceAndPause(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(400), now))

	require.NoError(t, eng.ApplyRiskCommand(types.RiskCommand{
		Type:            types.RiskCommandRebalance,
		RebalanceSource: 1,
		RebalanceAmount: sdkmath.NewInt(150),
	}, now))
	require.Equal(t, sdkmath.NewInt(750), eng.State().IdleBalance)

	require.NoError(t, eng.ApplyRiskCommand(types.RiskCommand{Type: types.RiskCommandPause}, now))
	require.True(t, eng.Paused())
	_, err = eng.Deposit("alice", sdkmath.NewInt(1), now)
	require.ErrorIs(t, err, engine.ErrPaused)

	err = eng.ApplyRiskCommand(types.RiskCommand{Type: "UNKNOWN"}, now)
	require.Error(t, err)
}

func benignMetrics(ids ...types.SourceID) map[types.SourceID]types.ProtocolMetrics {
	m := make(map[types.SourceID]types.ProtocolMetrics)
	for _, id := range ids {
		m[id] = types.ProtocolMetrics{
			UtilizationBps:     5000,
			AvailableLiquidity: sdkmath.NewInt(1_000_000),
			OracleDeviationBps: 10,
		}
	}
	return m
}

func TestAssessRiskHealthy(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	// All idle: HQLA 1000 against 30% stressed outflows of 300.
	snapshot, err := eng.AssessRisk(nil, now)
	require.NoError(t, err)
	require.Equal(t, types.StatusHealthy, snapshot.SystemStatus)
	require.Equal(t, int64(33333), snapshot.StressedLCRBps)
}

func TestAssessRiskDefensiveForcesRebalance(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	// Haircut 75% on a 900 deployment: HQLA 100 + 225 = 325 against 300 of
	// stressed outflows is 10833 bps, inside the defensive band.
	srcParams := benignParams()
	srcParams.HaircutBps = 7500
	sim := source.NewSimulated(testAsset)
	require.NoError(t, eng.RegisterSource(1, sim, srcParams, now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(900), now))

	snapshot, err := eng.AssessRisk(benignMetrics(1), now)
	require.NoError(t, err)
	require.Equal(t, types.StatusDefensive, snapshot.SystemStatus)
	require.Equal(t, int64(10833), snapshot.StressedLCRBps)

	// Half of the riskiest source's balance was pulled back to idle.
	bal, err := sim.Balance()
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(450), bal)
	require.Equal(t, sdkmath.NewInt(550), eng.State().IdleBalance)
}

func TestAssessRiskCriticalHaltsDeposits(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	srcParams := benignParams()
	srcParams.HaircutBps = 9500
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), srcParams, now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(900), now))

	snapshot, err := eng.AssessRisk(benignMetrics(1), now)
	require.NoError(t, err)
	require.Equal(t, types.StatusCritical, snapshot.SystemStatus)

	_, err = eng.Deposit("bob", sdkmath.NewInt(100), now)
	require.ErrorIs(t, err, engine.ErrDepositsHalted)

	// Withdrawal requests keep flowing in a halted vault.
	_, err = eng.RequestWithdraw("alice", sdkmath.NewInt(100), now)
	require.NoError(t, err)
}

func TestAssessRiskCautiousTightensParams(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)

	// Haircut 65% on 900 deployed: HQLA 100 + 315 = 415 against 300 is
	// 13833 bps, inside the cautious band.
	srcParams := benignParams()
	srcParams.HaircutBps = 6500
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), srcParams, now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(900), now))

	snapshot, err := eng.AssessRisk(benignMetrics(1), now)
	require.NoError(t, err)
	require.Equal(t, types.StatusCautious, snapshot.SystemStatus)

	snap := eng.Snapshot(now)
	// Haircut only ratchets up in the cautious band, never down.
	require.Equal(t, int64(6500), snap.Sources[0].HaircutBps)
	// Concentration headroom shrinks to 90% of its prior value.
	require.Equal(t, int64(9000), snap.Sources[0].MaxConcentrationBps)
}

func TestSnapshotReflectsState(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)
	require.NoError(t, eng.RegisterSource(1, source.NewSimulated(testAsset), benignParams(), now))
	require.NoError(t, eng.Deploy(1, sdkmath.NewInt(400), now))

	snap := eng.Snapshot(now)
	require.Equal(t, "600", snap.IdleBalance)
	require.Equal(t, "1000", snap.TotalAssets)
	require.Equal(t, "1000", snap.TotalClaims)
	require.Equal(t, uint64(1), snap.OpenEpochID)
	require.Equal(t, types.StatusHealthy, snap.SystemStatus)
	require.False(t, snap.Paused)
	require.Len(t, snap.Sources, 1)
	require.Equal(t, "400", snap.Sources[0].Balance)
}

func TestSnapshotBeforeFirstAssessmentReportsUnboundedLCR(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newTestEngine(t, defaultParams(), "", now)

	// Until an assessment runs there is nothing to cover, which must not read
	// as zero coverage.
	snap := eng.Snapshot(now)
	require.Equal(t, risk.LCRUnbounded, snap.LCRBps)
}
