package nav

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openyield/vault/internal/types"
)

func newTestState(t *testing.T, claims int64, ema int64, at time.Time) types.VaultState {
	t.Helper()
	state := types.NewVaultState(at)
	state.TotalClaims = sdkmath.NewInt(claims)
	state.EmaValue = sdkmath.LegacyNewDec(ema)
	state.EmaLastUpdate = at
	return state
}

func TestNewEstimatorValidation(t *testing.T) {
	_, err := NewEstimator(0, 9500)
	require.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewEstimator(-1, 9500)
	require.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewEstimator(3600, -1)
	require.ErrorIs(t, err, ErrInvalidFloorBps)

	_, err = NewEstimator(3600, 10001)
	require.ErrorIs(t, err, ErrInvalidFloorBps)

	est, err := NewEstimator(3600, 9500)
	require.NoError(t, err)
	require.Equal(t, int64(3600), est.WindowSeconds())
	require.Equal(t, int64(9500), est.FloorBps())
}

func TestUpdateRejectsNegativeSpot(t *testing.T) {
	est, err := NewEstimator(3600, 9500)
	require.NoError(t, err)

	now := time.Now().UTC()
	state := newTestState(t, 1000, 1000, now)
	err = est.Update(&state, sdkmath.NewInt(-1), now)
	require.ErrorIs(t, err, ErrNegativeSpot)
}

func TestSnapWhenNoClaimsOutstanding(t *testing.T) {
	est, err := NewEstimator(3600, 9500)
	require.NoError(t, err)

	now := time.Now().UTC()
	state := types.NewVaultState(now)

	require.NoError(t, est.Update(&state, sdkmath.NewInt(1000), now.Add(time.Second)))
	require.Equal(t, sdkmath.LegacyNewDec(1000), state.EmaValue)

	// Snap again even when the value moves sharply: with no claims there is
	// nothing to protect.
	require.NoError(t, est.Update(&state, sdkmath.NewInt(50), now.Add(2*time.Second)))
	require.Equal(t, sdkmath.LegacyNewDec(50), state.EmaValue)
}

func TestLinearConvergenceTowardSpot(t *testing.T) {
	// Floor disabled so the interpolation itself is visible.
	est, err := NewEstimator(3600, 0)
	require.NoError(t, err)

	t0 := time.Now().UTC()
	state := newTestState(t, 1000, 1000, t0)

	// Half the window closes half the gap.
	require.NoError(t, est.Update(&state, sdkmath.NewInt(1360), t0.Add(1800*time.Second)))
	require.Equal(t, sdkmath.LegacyNewDec(1180), state.EmaValue)

	// Another full window reaches spot exactly.
	require.NoError(t, est.Update(&state, sdkmath.NewInt(1360), t0.Add(1800*time.Second).Add(3600*time.Second)))
	require.Equal(t, sdkmath.LegacyNewDec(1360), state.EmaValue)
}

func TestElapsedClampedToWindow(t *testing.T) {
	est, err := NewEstimator(3600, 0)
	require.NoError(t, err)

	t0 := time.Now().UTC()
	state := newTestState(t, 1000, 1000, t0)

	// A week of silence must not overshoot: elapsed clamps to the window and
	// the EMA lands exactly on spot.
	require.NoError(t, est.Update(&state, sdkmath.NewInt(2000), t0.Add(7*24*time.Hour)))
	require.Equal(t, sdkmath.LegacyNewDec(2000), state.EmaValue)
}

func TestZeroElapsedLeavesEmaUnchanged(t *testing.T) {
	est, err := NewEstimator(3600, 0)
	require.NoError(t, err)

	t0 := time.Now().UTC()
	state := newTestState(t, 1000, 1000, t0)

	require.NoError(t, est.Update(&state, sdkmath.NewInt(5000), t0))
	require.Equal(t, sdkmath.LegacyNewDec(1000), state.EmaValue)
}

func TestFloorClampBoundsLag(t *testing.T) {
	est, err := NewEstimator(3600, 9500)
	require.NoError(t, err)

	t0 := time.Now().UTC()
	state := newTestState(t, 1000, 100, t0)

	// The EMA may lag spot by at most 5%: a stale low estimate is pulled
	// straight up to the floor even with no elapsed time.
	require.NoError(t, est.Update(&state, sdkmath.NewInt(1000), t0))
	require.Equal(t, sdkmath.LegacyNewDec(950), state.EmaValue)
}

func TestPendingClaimsBlockSnap(t *testing.T) {
	est, err := NewEstimator(3600, 0)
	require.NoError(t, err)

	t0 := time.Now().UTC()
	state := types.NewVaultState(t0)
	state.TotalPendingClaims = sdkmath.NewInt(500)
	state.EmaValue = sdkmath.LegacyNewDec(500)

	// Burned-but-unsettled claims still price against the EMA, so the
	// estimator must keep smoothing rather than snapping.
	require.NoError(t, est.Update(&state, sdkmath.NewInt(4100), t0.Add(1800*time.Second)))
	require.Equal(t, sdkmath.LegacyNewDec(2300), state.EmaValue)
}
