package engine_test

import (
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openyield/vault/internal/engine"
	"github.com/openyield/vault/internal/ledger"
)

func newSyncedEngine(t *testing.T, now time.Time) (*engine.Synced, ledger.ClaimLedger) {
	t.Helper()
	claims := ledger.NewMemoryLedger()
	eng, err := engine.New(engine.Config{
		Claims:          claims,
		UnderlyingAsset: testAsset,
		Params:          defaultParams(),
		Now:             now,
	})
	require.NoError(t, err)
	return engine.NewSynced(eng), claims
}

// The daemon shares one engine between HTTP handler goroutines and scheduled
// jobs; mutating and reading concurrently through the wrapper must be safe
// (run with -race) and leave the books consistent.
func TestSyncedConcurrentMutationsAndReads(t *testing.T) {
	now := time.Now().UTC()
	eng, claims := newSyncedEngine(t, now)

	const depositors = 4
	const perDepositor = 50

	var wg sync.WaitGroup
	wg.Add(depositors + 2)

	for i := 0; i < depositors; i++ {
		depositor := string(rune('a' + i))
		go func() {
			defer wg.Done()
			for j := 0; j < perDepositor; j++ {
				_, err := eng.Deposit(depositor, sdkmath.NewInt(10), now)
				assert.NoError(t, err)
			}
		}()
	}

	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			_ = eng.Snapshot(now)
			_ = eng.Status()
			_ = eng.EpochHistory()
		}
	}()
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			_ = eng.State()
			_ = eng.PendingRequests("a")
		}
	}()

	wg.Wait()

	// Every deposit landed exactly once. Claim supply differs from assets
	// because same-instant deposits are priced at the lagging EMA.
	want := sdkmath.NewInt(depositors * perDepositor * 10)
	require.Equal(t, want, eng.State().IdleBalance)
	require.True(t, claims.TotalSupply().IsPositive())
}

func TestSyncedDelegatesSemantics(t *testing.T) {
	now := time.Now().UTC()
	eng, _ := newSyncedEngine(t, now)

	_, err := eng.Deposit("alice", sdkmath.NewInt(1000), now)
	require.NoError(t, err)
	_, err = eng.RequestWithdraw("alice", sdkmath.NewInt(400), now)
	require.NoError(t, err)

	_, err = eng.Settle(now.Add(300 * time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(2), eng.OpenEpochID())

	paid, err := eng.Claim("alice", 1, now.Add(301*time.Second))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(400), paid)
}
