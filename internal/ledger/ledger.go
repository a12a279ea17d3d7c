/*

This file contains the fungible-claim bookkeeping collaborator: a proportional
claim ledger with standard mint/burn primitives, plus the virtual-offset
conversion math between asset value and claims. The conversion uses integer
floor arithmetic with one virtual claim priced against one virtual asset unit,
so an empty-vault deposit always mints at least the deposited amount of claims
and donation-based share inflation attacks are blunted.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrAmountNotPositive   = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient claim balance")
	ErrEmptyHolder         = errors.New("holder cannot be empty")
)

// ClaimLedger is the external collaborator contract for claim issuance and
// redemption. The engine is the only caller.
type ClaimLedger interface {
	Mint(holder string, claims sdkmath.Int) error
	Burn(holder string, claims sdkmath.Int) error
	BalanceOf(holder string) sdkmath.Int
	TotalSupply() sdkmath.Int
}

// MemoryLedger is an in-process ClaimLedger backed by a balance map.
type MemoryLedger struct {
	balances map[string]sdkmath.Int
	supply   sdkmath.Int
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]sdkmath.Int),
		supply:   sdkmath.ZeroInt(),
	}
}

// Mint credits claims to holder and grows total supply.
func (l *MemoryLedger) Mint(holder string, claims sdkmath.Int) error {
	if holder == "" {
		return ErrEmptyHolder
	}
	if !claims.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrAmountNotPositive, claims)
	}
	bal, ok := l.balances[holder]
	if !ok {
		bal = sdkmath.ZeroInt()
	}
	l.balances[holder] = bal.Add(claims)
	l.supply = l.supply.Add(claims)
	return nil
}

// Burn debits claims from holder and shrinks total supply.
func (l *MemoryLedger) Burn(holder string, claims sdkmath.Int) error {
	if holder == "" {
		return ErrEmptyHolder
	}
	if !claims.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrAmountNotPositive, claims)
	}
	bal, ok := l.balances[holder]
	if !ok || bal.LT(claims) {
		return fmt.Errorf("%w: holder %s has %s, needs %s", ErrInsufficientBalance, holder, bal, claims)
	}
	l.balances[holder] = bal.Sub(claims)
	l.supply = l.supply.Sub(claims)
	return nil
}

// BalanceOf returns holder's claim balance.
func (l *MemoryLedger) BalanceOf(holder string) sdkmath.Int {
	bal, ok := l.balances[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// TotalSupply returns outstanding claims.
func (l *MemoryLedger) TotalSupply() sdkmath.Int {
	return l.supply
}

// ConvertToClaims prices an asset amount into claims against the supplied
// total value (the EMA) and claim supply:
//
//	claims = assets * (supply + 1) / (value + 1)
//
// Integer floor throughout; the +1 terms are the virtual seed.
func ConvertToClaims(assets sdkmath.Int, totalValue sdkmath.LegacyDec, totalClaims sdkmath.Int) sdkmath.Int {
	if !assets.IsPositive() {
		return sdkmath.ZeroInt()
	}
	num := sdkmath.LegacyNewDecFromInt(assets).
		MulInt(totalClaims.Add(sdkmath.OneInt()))
	den := totalValue.Add(sdkmath.LegacyOneDec())
	return num.Quo(den).TruncateInt()
}

// ConvertToAssets is the inverse pricing of ConvertToClaims:
//
//	assets = claims * (value + 1) / (supply + 1)
func ConvertToAssets(claims sdkmath.Int, totalValue sdkmath.LegacyDec, totalClaims sdkmath.Int) sdkmath.Int {
	if !claims.IsPositive() {
		return sdkmath.ZeroInt()
	}
	num := totalValue.Add(sdkmath.LegacyOneDec()).
		MulInt(claims)
	den := sdkmath.LegacyNewDecFromInt(totalClaims.Add(sdkmath.OneInt()))
	return num.Quo(den).TruncateInt()
}
