package lending

import "math/big"

// secondsPerYear fixes the accrual denominator at a 365-day year.
const secondsPerYear = 365 * 24 * 60 * 60

// accruedInterest computes linear interest for the loan at the given time:
// principal × rateBps × elapsed / (365d × 10000), with elapsed clamped to
// [0, duration]. Closed loans accrue nothing.
func accruedInterest(loan *Loan, now int64) *big.Int {
	if loan == nil || loan.Closed() || loan.Principal == nil {
		return big.NewInt(0)
	}
	elapsed := now - loan.StartTime
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	if elapsed > loan.Duration {
		elapsed = loan.Duration
	}
	interest := new(big.Int).Mul(loan.Principal, new(big.Int).SetUint64(loan.RateBps))
	interest.Mul(interest, big.NewInt(elapsed))
	denom := new(big.Int).Mul(big.NewInt(secondsPerYear), basisPoints)
	return interest.Quo(interest, denom)
}

// AccruedInterest reports the interest accrued so far on the loan. It is a
// pure read with no side effects; closed loans report zero.
func (e *Engine) AccruedInterest(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.state.LoanGet(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errLoanNotFound
	}
	return accruedInterest(loan, e.now()), nil
}
