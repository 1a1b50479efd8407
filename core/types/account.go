package types

import "math/big"

// Account tracks the fungible balances held by a single ledger participant.
// Balances are keyed by asset symbol and denominated in the asset's smallest
// unit as arbitrary-precision integers.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the balance held for the asset. The returned value is never
// nil; absent assets report zero.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[asset]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance stores the balance for the asset, initialising the map if needed.
func (a *Account) SetBalance(asset string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = amount
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for asset, bal := range a.Balances {
		if bal == nil {
			clone.Balances[asset] = big.NewInt(0)
			continue
		}
		clone.Balances[asset] = new(big.Int).Set(bal)
	}
	return clone
}
