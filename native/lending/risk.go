package lending

import (
	"errors"
	"fmt"
	"math/big"

	"lendledger/crypto"
)

// ErrCapExceeded is wrapped with the violated dimension when a match would
// push an outstanding-principal counter past its cap.
var ErrCapExceeded = errors.New("lending engine: principal cap exceeded")

// RiskLimits carries the governance-controlled bounds on lending activity. A
// nil or zero cap disables that dimension; a zero rate-band side disables that
// side; a zero MaxDuration disables the duration bound.
type RiskLimits struct {
	MaxPrincipalPerAsset    *big.Int
	MaxPrincipalPerLender   *big.Int
	MaxPrincipalPerBorrower *big.Int
	MaxPrincipalGlobal      *big.Int
	MaxDuration             int64
	MinRateBps              uint64
	MaxRateBps              uint64
}

// Clone returns a deep copy of the limits.
func (l RiskLimits) Clone() RiskLimits {
	clone := RiskLimits{
		MaxDuration: l.MaxDuration,
		MinRateBps:  l.MinRateBps,
		MaxRateBps:  l.MaxRateBps,
	}
	if l.MaxPrincipalPerAsset != nil {
		clone.MaxPrincipalPerAsset = new(big.Int).Set(l.MaxPrincipalPerAsset)
	}
	if l.MaxPrincipalPerLender != nil {
		clone.MaxPrincipalPerLender = new(big.Int).Set(l.MaxPrincipalPerLender)
	}
	if l.MaxPrincipalPerBorrower != nil {
		clone.MaxPrincipalPerBorrower = new(big.Int).Set(l.MaxPrincipalPerBorrower)
	}
	if l.MaxPrincipalGlobal != nil {
		clone.MaxPrincipalGlobal = new(big.Int).Set(l.MaxPrincipalGlobal)
	}
	return clone
}

// RateInBand reports whether the annual rate falls inside the configured band.
func (l RiskLimits) RateInBand(rateBps uint64) bool {
	if l.MinRateBps > 0 && rateBps < l.MinRateBps {
		return false
	}
	if l.MaxRateBps > 0 && rateBps > l.MaxRateBps {
		return false
	}
	return true
}

// RiskUsage tracks outstanding principal per asset, lender and borrower plus
// a global total. Counters increment at match and decrement at closure; the
// pair must stay symmetric or the registry desynchronises.
type RiskUsage struct {
	AssetPrincipal    map[string]*big.Int `json:"assetPrincipal"`
	LenderPrincipal   map[string]*big.Int `json:"lenderPrincipal"`
	BorrowerPrincipal map[string]*big.Int `json:"borrowerPrincipal"`
	GlobalPrincipal   *big.Int            `json:"globalPrincipal"`
}

// NewRiskUsage returns an initialised usage registry.
func NewRiskUsage() *RiskUsage {
	return &RiskUsage{
		AssetPrincipal:    make(map[string]*big.Int),
		LenderPrincipal:   make(map[string]*big.Int),
		BorrowerPrincipal: make(map[string]*big.Int),
		GlobalPrincipal:   big.NewInt(0),
	}
}

func (u *RiskUsage) ensure() {
	if u.AssetPrincipal == nil {
		u.AssetPrincipal = make(map[string]*big.Int)
	}
	if u.LenderPrincipal == nil {
		u.LenderPrincipal = make(map[string]*big.Int)
	}
	if u.BorrowerPrincipal == nil {
		u.BorrowerPrincipal = make(map[string]*big.Int)
	}
	if u.GlobalPrincipal == nil {
		u.GlobalPrincipal = big.NewInt(0)
	}
}

func counterOf(m map[string]*big.Int, key string) *big.Int {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return big.NewInt(0)
}

func lenderKey(addr crypto.Address) string   { return string(addr.Bytes()) }
func borrowerKey(addr crypto.Address) string { return string(addr.Bytes()) }

// CheckCaps verifies every affected counter stays within its cap after adding
// principal. No counter is mutated.
func (u *RiskUsage) CheckCaps(limits RiskLimits, asset string, lender, borrower crypto.Address, principal *big.Int) error {
	if u == nil || principal == nil {
		return nil
	}
	u.ensure()
	check := func(current, cap *big.Int, dimension string) error {
		if cap == nil || cap.Sign() == 0 {
			return nil
		}
		next := new(big.Int).Add(current, principal)
		if next.Cmp(cap) > 0 {
			return fmt.Errorf("%w: %s", ErrCapExceeded, dimension)
		}
		return nil
	}
	if err := check(counterOf(u.AssetPrincipal, asset), limits.MaxPrincipalPerAsset, "asset"); err != nil {
		return err
	}
	if err := check(counterOf(u.LenderPrincipal, lenderKey(lender)), limits.MaxPrincipalPerLender, "lender"); err != nil {
		return err
	}
	if err := check(counterOf(u.BorrowerPrincipal, borrowerKey(borrower)), limits.MaxPrincipalPerBorrower, "borrower"); err != nil {
		return err
	}
	return check(u.GlobalPrincipal, limits.MaxPrincipalGlobal, "global")
}

// Add increments all four counters by principal.
func (u *RiskUsage) Add(asset string, lender, borrower crypto.Address, principal *big.Int) {
	if u == nil || principal == nil || principal.Sign() <= 0 {
		return
	}
	u.ensure()
	u.AssetPrincipal[asset] = new(big.Int).Add(counterOf(u.AssetPrincipal, asset), principal)
	u.LenderPrincipal[lenderKey(lender)] = new(big.Int).Add(counterOf(u.LenderPrincipal, lenderKey(lender)), principal)
	u.BorrowerPrincipal[borrowerKey(borrower)] = new(big.Int).Add(counterOf(u.BorrowerPrincipal, borrowerKey(borrower)), principal)
	u.GlobalPrincipal = new(big.Int).Add(u.GlobalPrincipal, principal)
}

// Sub decrements all four counters by principal, flooring at zero so a
// desynchronised registry cannot underflow.
func (u *RiskUsage) Sub(asset string, lender, borrower crypto.Address, principal *big.Int) {
	if u == nil || principal == nil || principal.Sign() <= 0 {
		return
	}
	u.ensure()
	floor := func(current *big.Int) *big.Int {
		next := new(big.Int).Sub(current, principal)
		if next.Sign() < 0 {
			return big.NewInt(0)
		}
		return next
	}
	u.AssetPrincipal[asset] = floor(counterOf(u.AssetPrincipal, asset))
	u.LenderPrincipal[lenderKey(lender)] = floor(counterOf(u.LenderPrincipal, lenderKey(lender)))
	u.BorrowerPrincipal[borrowerKey(borrower)] = floor(counterOf(u.BorrowerPrincipal, borrowerKey(borrower)))
	u.GlobalPrincipal = floor(u.GlobalPrincipal)
}

// Clone returns a deep copy of the usage registry.
func (u *RiskUsage) Clone() *RiskUsage {
	clone := NewRiskUsage()
	if u == nil {
		return clone
	}
	for k, v := range u.AssetPrincipal {
		if v != nil {
			clone.AssetPrincipal[k] = new(big.Int).Set(v)
		}
	}
	for k, v := range u.LenderPrincipal {
		if v != nil {
			clone.LenderPrincipal[k] = new(big.Int).Set(v)
		}
	}
	for k, v := range u.BorrowerPrincipal {
		if v != nil {
			clone.BorrowerPrincipal[k] = new(big.Int).Set(v)
		}
	}
	if u.GlobalPrincipal != nil {
		clone.GlobalPrincipal = new(big.Int).Set(u.GlobalPrincipal)
	}
	return clone
}
