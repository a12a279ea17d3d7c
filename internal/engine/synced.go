/*

This file wraps the engine for concurrent callers. The engine itself is
single-writer; Synced serializes every external call behind one mutex so the
daemon can share an engine between HTTP handlers and scheduled jobs. The
engine's busy flag still catches reentrancy through adapter callbacks, which
happen inside an operation and never touch the outer mutex.

*/

package engine

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/openyield/vault/internal/source"
	"github.com/openyield/vault/internal/types"
)

// Synced is a concurrency-safe facade over Engine. All methods delegate under
// a single mutex.
type Synced struct {
	mu  sync.Mutex
	eng *Engine
}

// NewSynced wraps an engine for shared use across goroutines. The wrapped
// engine must not be called directly afterwards.
func NewSynced(eng *Engine) *Synced {
	return &Synced{eng: eng}
}

func (s *Synced) Deposit(depositor string, assets sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Deposit(depositor, assets, now)
}

func (s *Synced) Harvest(now time.Time) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Harvest(now)
}

func (s *Synced) RegisterSource(id types.SourceID, adapter source.YieldSource, params types.RiskParams, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.RegisterSource(id, adapter, params, now)
}

func (s *Synced) RemoveSource(id types.SourceID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.RemoveSource(id, now)
}

func (s *Synced) Deploy(id types.SourceID, amount sdkmath.Int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Deploy(id, amount, now)
}

func (s *Synced) Recall(id types.SourceID, amount sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Recall(id, amount, now)
}

func (s *Synced) RequestWithdraw(requester string, claims sdkmath.Int, now time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.RequestWithdraw(requester, claims, now)
}

func (s *Synced) Settle(now time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Settle(now)
}

func (s *Synced) Claim(requester string, epochID uint64, now time.Time) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Claim(requester, epochID, now)
}

func (s *Synced) ClaimMany(requester string, epochIDs []uint64, now time.Time) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.ClaimMany(requester, epochIDs, now)
}

func (s *Synced) ApplyRiskCommand(cmd types.RiskCommand, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.ApplyRiskCommand(cmd, now)
}

func (s *Synced) AssessRisk(metrics map[types.SourceID]types.ProtocolMetrics, now time.Time) (types.VaultRiskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.AssessRisk(metrics, now)
}

func (s *Synced) SetManagementFeeBps(bps int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SetManagementFeeBps(bps, now)
}

func (s *Synced) SetPerformanceFeeBps(bps int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SetPerformanceFeeBps(bps, now)
}

func (s *Synced) SetFeeRecipient(recipient string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SetFeeRecipient(recipient, now)
}

func (s *Synced) ResetHighWaterMark(id types.SourceID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.ResetHighWaterMark(id, now)
}

func (s *Synced) Pause(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Pause(now)
}

func (s *Synced) Unpause(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Unpause(now)
}

func (s *Synced) Snapshot(now time.Time) types.EngineSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Snapshot(now)
}

func (s *Synced) EpochHistory() []types.EpochSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.EpochHistory()
}

func (s *Synced) EpochByID(id uint64) (types.EpochSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.EpochByID(id)
}

func (s *Synced) PendingRequests(requester string) []types.WithdrawRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.PendingRequests(requester)
}

func (s *Synced) State() types.VaultState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.State()
}

func (s *Synced) OpenEpochID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.OpenEpochID()
}

func (s *Synced) Status() types.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Status()
}

func (s *Synced) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.Paused()
}

func (s *Synced) SourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SourceCount()
}

func (s *Synced) SourceIDs() []types.SourceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.SourceIDs()
}

func (s *Synced) UnderlyingAsset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.UnderlyingAsset()
}
