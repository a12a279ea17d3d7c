package source

import (
	sdkmath "cosmossdk.io/math"
)

// YieldSource is the four-operation capability every pluggable external yield
// source exposes to the vault. The vault is the only caller. Transferred
// amounts are never trusted as requested: the engine measures balance deltas
// around every Deposit and Withdraw.
type YieldSource interface {
	// Deposit pulls amount of the underlying asset and puts it to work.
	Deposit(amount sdkmath.Int) error

	// Withdraw returns up to amount of the underlying asset. The actual
	// transferred amount is reported back, and independently verified by the
	// engine via balance delta.
	Withdraw(amount sdkmath.Int) (sdkmath.Int, error)

	// Balance reports the current principal-plus-yield valuation in
	// underlying-asset units.
	Balance() (sdkmath.Int, error)

	// Asset identifies the underlying asset. Checked against the vault's own
	// underlying asset at registration time.
	Asset() string
}
