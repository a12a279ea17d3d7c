/*

This file contains the inbound risk-report command types. An external process
periodically supplies risk parameters, defensive rebalance instructions, or an
emergency pause; the engine validates and applies each command atomically.
Transport and signature verification of the report are external to this system.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// RiskCommandType tags the variants of an inbound risk report command.
type RiskCommandType string

const (
	RiskCommandUpdateParams RiskCommandType = "UPDATE_PARAMS"
	RiskCommandRebalance    RiskCommandType = "REBALANCE"
	RiskCommandPause        RiskCommandType = "PAUSE"
)

// SourceParamsUpdate is one source's parameter set inside an UPDATE_PARAMS
// command.
type SourceParamsUpdate struct {
	SourceID SourceID   `json:"source_id"`
	Params   RiskParams `json:"params"`
}

// VaultRiskSnapshot is the vault-wide portion of an UPDATE_PARAMS command.
type VaultRiskSnapshot struct {
	StressedLCRBps     int64        `json:"stressed_lcr_bps"`
	AggregateRiskScore int64        `json:"aggregate_risk_score"`
	SystemStatus       SystemStatus `json:"system_status"`
	Timestamp          time.Time    `json:"timestamp"`
}

// RiskCommand is the tagged-variant inbound message consumed by the engine's
// single dispatch point. Only the fields for the tagged variant are read.
type RiskCommand struct {
	Type RiskCommandType `json:"type"`

	// Fields for UPDATE_PARAMS
	ParamUpdates []SourceParamsUpdate `json:"param_updates,omitempty"`
	Snapshot     *VaultRiskSnapshot   `json:"snapshot,omitempty"`

	// Fields for REBALANCE
	RebalanceSource SourceID    `json:"rebalance_source,omitempty"`
	RebalanceAmount sdkmath.Int `json:"rebalance_amount,omitempty"`
}
