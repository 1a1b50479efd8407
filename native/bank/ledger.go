package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"lendledger/core/types"
	"lendledger/crypto"
)

var (
	errNilState            = errors.New("bank: state not configured")
	errInvalidAsset        = errors.New("bank: asset symbol required")
	errNegativeAmount      = errors.New("bank: negative transfer amount")
	errInsufficientBalance = errors.New("bank: insufficient balance")
	errInsufficientAllow   = errors.New("bank: insufficient allowance")
)

type ledgerState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Ledger is the default asset-transfer primitive. It moves fungible balances
// between participant accounts and tracks spender allowances so that the
// lending engine and whitelisted swap services can pull funds on behalf of
// their owners. Callers must treat observed balance deltas as ground truth;
// the ledger itself delivers exact amounts, but alternative implementations
// may not.
type Ledger struct {
	mu         sync.Mutex
	state      ledgerState
	allowances map[string]*big.Int
}

// NewLedger constructs a transfer ledger bound to the account state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, allowances: make(map[string]*big.Int)}
}

// NormalizeAsset canonicalises an asset symbol to its uppercase form.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", errInvalidAsset
	}
	return trimmed, nil
}

func allowanceKey(owner, spender crypto.Address, asset string) string {
	return string(owner.Bytes()) + "|" + string(spender.Bytes()) + "|" + asset
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

// Approve sets the allowance the spender may pull from the owner for the
// asset. A nil or zero amount revokes the allowance.
func (l *Ledger) Approve(owner, spender crypto.Address, asset string, amount *big.Int) error {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey(owner, spender, normalized)
	if amount == nil || amount.Sign() <= 0 {
		delete(l.allowances, key)
		return nil
	}
	l.allowances[key] = new(big.Int).Set(amount)
	return nil
}

// Allowance reports the remaining allowance for the owner/spender/asset tuple.
func (l *Ledger) Allowance(owner, spender crypto.Address, asset string) *big.Int {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return big.NewInt(0)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if allowed, ok := l.allowances[allowanceKey(owner, spender, normalized)]; ok {
		return new(big.Int).Set(allowed)
	}
	return big.NewInt(0)
}

// BalanceOf reports the balance held by addr for the asset.
func (l *Ledger) BalanceOf(addr crypto.Address, asset string) (*big.Int, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.Balance(normalized)), nil
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(normalized, from, to, amount)
}

// TransferFrom moves amount of asset from the owner to the recipient on the
// spender's authority, consuming allowance. Owners can always move their own
// funds without a standing allowance.
func (l *Ledger) TransferFrom(spender crypto.Address, asset string, owner, to crypto.Address, amount *big.Int) error {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !spender.Equal(owner) {
		key := allowanceKey(owner, spender, normalized)
		allowed, ok := l.allowances[key]
		if !ok || allowed.Cmp(amount) < 0 {
			return errInsufficientAllow
		}
		remaining := new(big.Int).Sub(allowed, amount)
		if remaining.Sign() > 0 {
			l.allowances[key] = remaining
		} else {
			delete(l.allowances, key)
		}
	}
	return l.move(normalized, owner, to, amount)
}

func (l *Ledger) move(asset string, from, to crypto.Address, amount *big.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance(asset).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", errInsufficientBalance, asset)
	}
	fromAcc.SetBalance(asset, new(big.Int).Sub(fromAcc.Balance(asset), amount))
	toAcc.SetBalance(asset, new(big.Int).Add(toAcc.Balance(asset), amount))
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}
