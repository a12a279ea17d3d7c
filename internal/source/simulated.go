/*

This file contains a simulated yield source used by tests and by the daemon's
sim mode. It models yield by direct balance adjustment and supports a
configurable withdrawal cap so partial-fill behavior can be exercised.

*/

package source

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrDepositNotPositive = errors.New("deposit amount must be positive")
	ErrWithdrawNegative   = errors.New("withdraw amount cannot be negative")
)

// Simulated is an in-process YieldSource.
type Simulated struct {
	asset   string
	balance sdkmath.Int

	// WithdrawCap, when set, limits how much a single Withdraw returns
	// regardless of balance. Zero (nil-equivalent) means uncapped.
	withdrawCap sdkmath.Int
}

// NewSimulated creates a simulated source holding the given asset.
func NewSimulated(asset string) *Simulated {
	return &Simulated{
		asset:       asset,
		balance:     sdkmath.ZeroInt(),
		withdrawCap: sdkmath.ZeroInt(),
	}
}

// Deposit credits the source's working balance.
func (s *Simulated) Deposit(amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrDepositNotPositive, amount)
	}
	s.balance = s.balance.Add(amount)
	return nil
}

// Withdraw returns up to amount, bounded by balance and the withdraw cap.
func (s *Simulated) Withdraw(amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: got %s", ErrWithdrawNegative, amount)
	}
	out := amount
	if out.GT(s.balance) {
		out = s.balance
	}
	if s.withdrawCap.IsPositive() && out.GT(s.withdrawCap) {
		out = s.withdrawCap
	}
	s.balance = s.balance.Sub(out)
	return out, nil
}

// Balance reports the current simulated valuation.
func (s *Simulated) Balance() (sdkmath.Int, error) {
	return s.balance, nil
}

// Asset identifies the underlying asset.
func (s *Simulated) Asset() string {
	return s.asset
}

// AccrueYield adjusts the balance by delta to simulate yield or loss. A loss
// larger than the balance floors at zero.
func (s *Simulated) AccrueYield(delta sdkmath.Int) {
	next := s.balance.Add(delta)
	if next.IsNegative() {
		next = sdkmath.ZeroInt()
	}
	s.balance = next
}

// SetWithdrawCap limits single-withdrawal size; zero removes the cap.
func (s *Simulated) SetWithdrawCap(cap sdkmath.Int) {
	s.withdrawCap = cap
}
