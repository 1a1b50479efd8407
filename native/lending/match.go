package lending

import (
	"math/big"

	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

// collateralMeetsRatio evaluates collateralValue >= principalValue × ratio /
// 10000 using live oracle prices. checked is false when either price is
// unavailable, letting callers decide between failing and skipping.
func (e *Engine) collateralMeetsRatio(principal *big.Int, lendAsset string, collateral *big.Int, collateralAsset string, ratioBps uint64) (ok bool, checked bool) {
	priceLend, okLend := e.fetchPrice(lendAsset)
	priceCollateral, okCollateral := e.fetchPrice(collateralAsset)
	if !okLend || !okCollateral {
		return false, false
	}
	collateralValue := new(big.Int).Mul(collateral, priceCollateral)
	principalValue := new(big.Int).Mul(principal, priceLend)
	lhs := new(big.Int).Mul(collateralValue, basisPoints)
	rhs := new(big.Int).Mul(principalValue, new(big.Int).SetUint64(ratioBps))
	return lhs.Cmp(rhs) >= 0, true
}

// impliedRatioBps back-computes the collateral ratio from live prices for use
// as the liquidation threshold. Returns 0 (no ratio trigger) when either
// price is unavailable.
func (e *Engine) impliedRatioBps(principal *big.Int, lendAsset string, collateral *big.Int, collateralAsset string) uint64 {
	priceLend, okLend := e.fetchPrice(lendAsset)
	priceCollateral, okCollateral := e.fetchPrice(collateralAsset)
	if !okLend || !okCollateral {
		return 0
	}
	principalValue := new(big.Int).Mul(principal, priceLend)
	if principalValue.Sign() == 0 {
		return 0
	}
	collateralValue := new(big.Int).Mul(collateral, priceCollateral)
	ratio := new(big.Int).Mul(collateralValue, basisPoints)
	ratio.Quo(ratio, principalValue)
	if !ratio.IsUint64() {
		return 0
	}
	return ratio.Uint64()
}

func (e *Engine) checkMatchBounds(duration int64, asset string, lender, borrower crypto.Address, principal *big.Int, usage *RiskUsage) error {
	if max := e.params.Limits.MaxDuration; max > 0 && duration > max {
		return errDurationExceeded
	}
	return usage.CheckCaps(e.params.Limits, asset, lender, borrower, principal)
}

// recordCertificates mints both position certificates for a committed loan and
// writes their ids back onto the loan record.
func (e *Engine) recordCertificates(loan *Loan) error {
	if e.issuer == nil {
		return errNilIssuer
	}
	lenderCert, err := e.issuer.Mint(loan.Lender, loan.ID, CertSideLender)
	if err != nil {
		return err
	}
	borrowerCert, err := e.issuer.Mint(loan.Borrower, loan.ID, CertSideBorrower)
	if err != nil {
		return err
	}
	loan.LenderCertID = lenderCert
	loan.BorrowerCertID = borrowerCert
	return e.state.LoanPut(loan)
}

// AcceptOffer matches an active offer against the caller, who posts
// collateralAmount of the offer's collateral asset. On success the offer is
// retired, the principal is released to the borrower and both position
// certificates are issued.
func (e *Engine) AcceptOffer(borrower crypto.Address, offerID uint64, collateralAmount *big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return 0, err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	offer, err := e.state.OfferGet(offerID)
	if err != nil {
		return 0, err
	}
	if offer == nil {
		return 0, errOfferNotFound
	}
	if !offer.Active {
		return 0, errOfferInactive
	}

	if e.params.ValidateCollateral && offer.CollateralRatioBps > 0 {
		ok, checked := e.collateralMeetsRatio(offer.Amount, offer.LendAsset, collateralAmount, offer.CollateralAsset, offer.CollateralRatioBps)
		if checked && !ok {
			return 0, errInsufficientCollateral
		}
		// Unchecked means a price was unavailable; matching proceeds and the
		// recorded ratio still arms the liquidation trigger.
	}

	usage, err := e.loadRisk()
	if err != nil {
		return 0, err
	}
	if err := e.checkMatchBounds(offer.Duration, offer.LendAsset, offer.Lender, borrower, offer.Amount, usage); err != nil {
		return 0, err
	}

	if err := e.pullExact(borrower, offer.CollateralAsset, collateralAmount); err != nil {
		return 0, err
	}

	loanID, err := e.state.NextLoanID()
	if err != nil {
		return 0, err
	}
	usage.Add(offer.LendAsset, offer.Lender, borrower, offer.Amount)
	if err := e.state.RiskPut(usage); err != nil {
		return 0, err
	}
	offer.Active = false
	if err := e.state.OfferPut(offer); err != nil {
		return 0, err
	}
	loan := &Loan{
		ID:                 loanID,
		OfferID:            offer.ID,
		Lender:             offer.Lender,
		Borrower:           borrower,
		LendAsset:          offer.LendAsset,
		CollateralAsset:    offer.CollateralAsset,
		Principal:          new(big.Int).Set(offer.Amount),
		RateBps:            offer.RateBps,
		CollateralRatioBps: offer.CollateralRatioBps,
		StartTime:          e.now(),
		Duration:           offer.Duration,
		CollateralAmount:   new(big.Int).Set(collateralAmount),
	}
	if err := e.state.LoanPut(loan); err != nil {
		return 0, err
	}

	// Issuer interaction only after the match is committed, so a failing
	// state put can never leave orphan certificates behind.
	if err := e.recordCertificates(loan); err != nil {
		return 0, err
	}
	if err := e.payOut(loan.LendAsset, loan.Borrower, loan.Principal); err != nil {
		return 0, err
	}
	e.emit(newLoanEvent(EventTypeLoanMatched, loan))
	return loanID, nil
}

// AcceptRequest matches an active request against the caller, who funds the
// principal. When collateral validation is enabled and no ratio is stated the
// escrowed collateral must cover 100% of the principal's value; the implied
// ratio is recorded as the liquidation threshold when prices resolve, and 0
// (no ratio trigger) otherwise.
func (e *Engine) AcceptRequest(lender crypto.Address, requestID uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return 0, err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	request, err := e.state.RequestGet(requestID)
	if err != nil {
		return 0, err
	}
	if request == nil {
		return 0, errRequestNotFound
	}
	if !request.Active {
		return 0, errRequestInactive
	}

	ratioBps := uint64(0)
	if e.params.ValidateCollateral {
		ok, checked := e.collateralMeetsRatio(request.Amount, request.BorrowAsset, request.CollateralAmount, request.CollateralAsset, 10_000)
		if checked && !ok {
			return 0, errInsufficientCollateral
		}
		if checked {
			ratioBps = e.impliedRatioBps(request.Amount, request.BorrowAsset, request.CollateralAmount, request.CollateralAsset)
		}
	}

	usage, err := e.loadRisk()
	if err != nil {
		return 0, err
	}
	if err := e.checkMatchBounds(request.Duration, request.BorrowAsset, lender, request.Borrower, request.Amount, usage); err != nil {
		return 0, err
	}

	if err := e.pullExact(lender, request.BorrowAsset, request.Amount); err != nil {
		return 0, err
	}

	loanID, err := e.state.NextLoanID()
	if err != nil {
		return 0, err
	}
	usage.Add(request.BorrowAsset, lender, request.Borrower, request.Amount)
	if err := e.state.RiskPut(usage); err != nil {
		return 0, err
	}
	request.Active = false
	if err := e.state.RequestPut(request); err != nil {
		return 0, err
	}
	loan := &Loan{
		ID:                 loanID,
		RequestID:          request.ID,
		Lender:             lender,
		Borrower:           request.Borrower,
		LendAsset:          request.BorrowAsset,
		CollateralAsset:    request.CollateralAsset,
		Principal:          new(big.Int).Set(request.Amount),
		RateBps:            request.MaxRateBps,
		CollateralRatioBps: ratioBps,
		StartTime:          e.now(),
		Duration:           request.Duration,
		CollateralAmount:   new(big.Int).Set(request.CollateralAmount),
	}
	if err := e.state.LoanPut(loan); err != nil {
		return 0, err
	}

	if err := e.recordCertificates(loan); err != nil {
		return 0, err
	}
	if err := e.payOut(loan.LendAsset, loan.Borrower, loan.Principal); err != nil {
		return 0, err
	}
	e.emit(newLoanEvent(EventTypeLoanMatched, loan))
	return loanID, nil
}
