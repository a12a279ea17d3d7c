/*

This file contains the default engine parameters. Each value can be overridden
from the environment; the defaults are calibrated for a conservative posture
that favors withdrawal liquidity over deployment headroom.

*/

package config

import (
	"github.com/openyield/vault/internal/engine"
)

// DefaultEngineParams is the baseline parameter set used when no environment
// overrides are present.
var DefaultEngineParams = engine.Params{
	// One hour smoothing window. Long enough that a flash donation decays to
	// noise, short enough that organic yield shows up within the day.
	SmoothingWindowSeconds: 3600,

	// The EMA may lag spot by at most 5% on the downside. Real losses are
	// recognized quickly; upward manipulation still has to fight the window.
	EmaFloorBps: 9500,

	// Five minute minimum epoch dwell so a request and its settlement can
	// never share an instant.
	SettleDwellSeconds: 300,

	// Deployments must keep the stressed coverage ratio at or above 120%.
	LCRFloorBps: 12000,

	MaxSources: 20,

	// 1% annual management fee, 10% performance fee over high-water mark.
	ManagementFeeBps:  100,
	PerformanceFeeBps: 1000,
}

// LoadEngineParams returns the engine parameters with any environment
// overrides applied on top of the defaults.
func LoadEngineParams() (engine.Params, error) {
	p := DefaultEngineParams
	var err error

	if p.SmoothingWindowSeconds, err = getEnvAsInt64("VAULT_SMOOTHING_WINDOW_SECONDS", p.SmoothingWindowSeconds); err != nil {
		return engine.Params{}, err
	}
	if p.EmaFloorBps, err = getEnvAsInt64("VAULT_EMA_FLOOR_BPS", p.EmaFloorBps); err != nil {
		return engine.Params{}, err
	}
	if p.SettleDwellSeconds, err = getEnvAsInt64("VAULT_SETTLE_DWELL_SECONDS", p.SettleDwellSeconds); err != nil {
		return engine.Params{}, err
	}
	if p.LCRFloorBps, err = getEnvAsInt64("VAULT_LCR_FLOOR_BPS", p.LCRFloorBps); err != nil {
		return engine.Params{}, err
	}
	if p.ManagementFeeBps, err = getEnvAsInt64("VAULT_MANAGEMENT_FEE_BPS", p.ManagementFeeBps); err != nil {
		return engine.Params{}, err
	}
	if p.PerformanceFeeBps, err = getEnvAsInt64("VAULT_PERFORMANCE_FEE_BPS", p.PerformanceFeeBps); err != nil {
		return engine.Params{}, err
	}

	maxSources, err := getEnvAsInt64("VAULT_MAX_SOURCES", int64(p.MaxSources))
	if err != nil {
		return engine.Params{}, err
	}
	p.MaxSources = int(maxSources)

	return p, nil
}
