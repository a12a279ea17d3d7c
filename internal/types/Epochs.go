/*

This file contains the withdrawal settlement batch types. Epochs and requests
are owned by the epoch settlement queue.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EpochStatus is the settlement state of a withdrawal batch.
type EpochStatus string

const (
	EpochOpen    EpochStatus = "OPEN"
	EpochSettled EpochStatus = "SETTLED"
)

// Epoch is one withdrawal-processing batch window. Exactly one epoch is OPEN
// at any time; settled epochs are retained forever so claims never expire.
type Epoch struct {
	ID                 uint64      `json:"epoch_id"`
	Status             EpochStatus `json:"status"`
	OpenedAt           time.Time   `json:"opened_at"`
	SettledAt          time.Time   `json:"settled_at,omitempty"`
	TotalClaimsBurned  sdkmath.Int `json:"total_claims_burned"`
	TotalAssetsOwed    sdkmath.Int `json:"total_assets_owed"`
	TotalAssetsClaimed sdkmath.Int `json:"total_assets_claimed"`
}

// NewEpoch opens a fresh epoch with zeroed totals.
func NewEpoch(id uint64, openedAt time.Time) *Epoch {
	return &Epoch{
		ID:                 id,
		Status:             EpochOpen,
		OpenedAt:           openedAt,
		TotalClaimsBurned:  sdkmath.ZeroInt(),
		TotalAssetsOwed:    sdkmath.ZeroInt(),
		TotalAssetsClaimed: sdkmath.ZeroInt(),
	}
}

// WithdrawRequest records one requester's burned claims within one epoch.
// Keyed by (epoch id, requester); a requester accumulates into the open epoch
// and the record is zeroed when the payout is claimed.
type WithdrawRequest struct {
	EpochID      uint64      `json:"epoch_id"`
	Requester    string      `json:"requester"`
	ClaimsBurned sdkmath.Int `json:"claims_burned"`
}

// EpochSnapshot is the per-epoch view surfaced for observability and history
// persistence.
type EpochSnapshot struct {
	EpochID            uint64      `json:"epoch_id"`
	Status             EpochStatus `json:"status"`
	OpenedAt           time.Time   `json:"opened_at"`
	SettledAt          time.Time   `json:"settled_at,omitempty"`
	TotalClaimsBurned  string      `json:"total_claims_burned"`
	TotalAssetsOwed    string      `json:"total_assets_owed"`
	TotalAssetsClaimed string      `json:"total_assets_claimed"`
}
