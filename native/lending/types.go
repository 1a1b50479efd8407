package lending

import (
	"math/big"

	"lendledger/crypto"
)

// Offer is a lender's escrowed proposal to lend a fixed amount under stated
// terms. The escrowed balance for an active offer always equals Amount.
type Offer struct {
	ID        uint64         `json:"id"`
	Lender    crypto.Address `json:"lender"`
	LendAsset string         `json:"lendAsset"`
	Amount    *big.Int       `json:"amount"`
	// RateBps is the annual interest rate in basis points.
	RateBps uint64 `json:"rateBps"`
	// Duration is the loan term in seconds.
	Duration           int64  `json:"duration"`
	CollateralAsset    string `json:"collateralAsset"`
	CollateralRatioBps uint64 `json:"collateralRatioBps"`
	CreatedAt          int64  `json:"createdAt"`
	Active             bool   `json:"active"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Request is a borrower's escrowed collateral proposal seeking a loan. The
// escrowed balance for an active request always equals CollateralAmount.
type Request struct {
	ID          uint64         `json:"id"`
	Borrower    crypto.Address `json:"borrower"`
	BorrowAsset string         `json:"borrowAsset"`
	Amount      *big.Int       `json:"amount"`
	// MaxRateBps is the highest annual rate the borrower accepts; the loan is
	// written at this rate when matched.
	MaxRateBps       uint64   `json:"maxRateBps"`
	Duration         int64    `json:"duration"`
	CollateralAsset  string   `json:"collateralAsset"`
	CollateralAmount *big.Int `json:"collateralAmount"`
	CreatedAt        int64    `json:"createdAt"`
	Active           bool     `json:"active"`
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if r.CollateralAmount != nil {
		clone.CollateralAmount = new(big.Int).Set(r.CollateralAmount)
	} else {
		clone.CollateralAmount = big.NewInt(0)
	}
	return &clone
}

// Loan is a matched obligation between a lender and a borrower. Exactly one of
// Repaid or Liquidated becomes true, exactly once; a closed loan admits no
// further transitions.
type Loan struct {
	ID uint64 `json:"id"`
	// OfferID and RequestID record provenance; exactly one is nonzero.
	OfferID   uint64         `json:"offerId,omitempty"`
	RequestID uint64         `json:"requestId,omitempty"`
	Lender    crypto.Address `json:"lender"`
	Borrower  crypto.Address `json:"borrower"`
	LendAsset string         `json:"lendAsset"`
	// CollateralRatioBps of zero disables the ratio-based liquidation trigger.
	CollateralAsset    string   `json:"collateralAsset"`
	Principal          *big.Int `json:"principal"`
	RateBps            uint64   `json:"rateBps"`
	CollateralRatioBps uint64   `json:"collateralRatioBps"`
	StartTime          int64    `json:"startTime"`
	Duration           int64    `json:"duration"`
	CollateralAmount   *big.Int `json:"collateralAmount"`
	LenderCertID       uint64   `json:"lenderCertId"`
	BorrowerCertID     uint64   `json:"borrowerCertId"`
	Repaid             bool     `json:"repaid"`
	Liquidated         bool     `json:"liquidated"`
}

// Closed reports whether the loan reached a terminal state.
func (l *Loan) Closed() bool {
	return l != nil && (l.Repaid || l.Liquidated)
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if l.CollateralAmount != nil {
		clone.CollateralAmount = new(big.Int).Set(l.CollateralAmount)
	} else {
		clone.CollateralAmount = big.NewInt(0)
	}
	return &clone
}

// FeeLedger accumulates accrued-but-unclaimed protocol fees per asset. Claims
// zero the balance before any transfer leaves the vault.
type FeeLedger struct {
	Balances map[string]*big.Int `json:"balances"`
}

// NewFeeLedger returns an empty fee ledger.
func NewFeeLedger() *FeeLedger {
	return &FeeLedger{Balances: make(map[string]*big.Int)}
}

func (f *FeeLedger) ensure() {
	if f.Balances == nil {
		f.Balances = make(map[string]*big.Int)
	}
}

// Balance reports the unclaimed fee balance for the asset, never nil.
func (f *FeeLedger) Balance(asset string) *big.Int {
	if f == nil || f.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := f.Balances[asset]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Credit adds amount to the asset's fee balance.
func (f *FeeLedger) Credit(asset string, amount *big.Int) {
	if f == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	f.ensure()
	current, ok := f.Balances[asset]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	f.Balances[asset] = new(big.Int).Add(current, amount)
}

// Take zeroes and returns the asset's fee balance (claim-then-pay ordering).
func (f *FeeLedger) Take(asset string) *big.Int {
	if f == nil || f.Balances == nil {
		return big.NewInt(0)
	}
	current, ok := f.Balances[asset]
	if !ok || current == nil || current.Sign() == 0 {
		return big.NewInt(0)
	}
	delete(f.Balances, asset)
	return current
}

// Clone returns a deep copy of the fee ledger.
func (f *FeeLedger) Clone() *FeeLedger {
	clone := NewFeeLedger()
	if f == nil {
		return clone
	}
	for asset, bal := range f.Balances {
		if bal != nil {
			clone.Balances[asset] = new(big.Int).Set(bal)
		}
	}
	return clone
}
