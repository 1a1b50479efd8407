package lending

import (
	"math/big"

	"lendledger/crypto"
	"lendledger/native/bank"
	nativecommon "lendledger/native/common"
)

type settlement struct {
	interest       *big.Int
	ownerFee       *big.Int
	lenderInterest *big.Int
	totalDue       *big.Int
}

func (e *Engine) settlementFor(loan *Loan) settlement {
	interest := accruedInterest(loan, e.now())
	ownerFee := new(big.Int).Mul(interest, new(big.Int).SetUint64(e.params.OwnerFeeBps))
	ownerFee.Quo(ownerFee, basisPoints)
	lenderInterest := new(big.Int).Sub(interest, ownerFee)
	totalDue := new(big.Int).Add(loan.Principal, interest)
	return settlement{interest: interest, ownerFee: ownerFee, lenderInterest: lenderInterest, totalDue: totalDue}
}

func (e *Engine) burnCertificates(loan *Loan) error {
	if e.issuer == nil {
		return errNilIssuer
	}
	if err := e.issuer.Burn(loan.LenderCertID); err != nil {
		return err
	}
	return e.issuer.Burn(loan.BorrowerCertID)
}

// closeRepaid commits the terminal repaid state: loan flag, fee credit and
// risk decrement land before any funds leave the vault.
func (e *Engine) closeRepaid(loan *Loan, s settlement) error {
	loan.Repaid = true
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	fees, err := e.loadFees()
	if err != nil {
		return err
	}
	fees.Credit(loan.LendAsset, s.ownerFee)
	if err := e.state.FeesPut(fees); err != nil {
		return err
	}
	usage, err := e.loadRisk()
	if err != nil {
		return err
	}
	usage.Sub(loan.LendAsset, loan.Lender, loan.Borrower, loan.Principal)
	if err := e.state.RiskPut(usage); err != nil {
		return err
	}

	lenderPayout := new(big.Int).Add(loan.Principal, s.lenderInterest)
	if err := e.payOut(loan.LendAsset, loan.Lender, lenderPayout); err != nil {
		return err
	}
	if err := e.payOut(loan.CollateralAsset, loan.Borrower, loan.CollateralAmount); err != nil {
		return err
	}
	if err := e.burnCertificates(loan); err != nil {
		return err
	}
	e.emit(newLoanEvent(EventTypeLoanRepaid, loan))
	return nil
}

// RepayFull settles an open loan in its lend asset. The borrower pays
// principal plus accrued interest; the protocol skims ownerFeeBps of the
// interest and the lender receives the rest alongside the principal. The full
// collateral returns to the borrower and both certificates are retired.
func (e *Engine) RepayFull(borrower crypto.Address, loanID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loadOpenLoan(loanID)
	if err != nil {
		return err
	}
	if !borrower.Equal(loan.Borrower) {
		return errUnauthorized
	}
	s := e.settlementFor(loan)
	if err := e.pullExact(borrower, loan.LendAsset, s.totalDue); err != nil {
		return err
	}
	return e.closeRepaid(loan, s)
}

// RepayWithSwap settles an open loan by converting inputAsset into the lend
// asset through a whitelisted swap service. The service receives a transient
// allowance for exactly inputAmount, revoked immediately after the call, and
// the realized vault delta must cover the amount due. Surplus output is
// returned to the borrower.
func (e *Engine) RepayWithSwap(borrower crypto.Address, loanID uint64, svc SwapService, inputAsset string, inputAmount *big.Int, path []string, minOut *big.Int, deadline int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loadOpenLoan(loanID)
	if err != nil {
		return err
	}
	if !borrower.Equal(loan.Borrower) {
		return errUnauthorized
	}
	if !e.swapAllowed(svc) {
		return errSwapNotWhitelisted
	}
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return errInvalidAmount
	}
	inputNorm, err := bank.NormalizeAsset(inputAsset)
	if err != nil {
		return err
	}
	normPath, err := normalizePath(path)
	if err != nil {
		return err
	}
	if normPath[0] != inputNorm || normPath[len(normPath)-1] != loan.LendAsset {
		return errInvalidPath
	}

	s := e.settlementFor(loan)
	if err := e.pullExact(borrower, inputNorm, inputAmount); err != nil {
		return err
	}

	before, err := e.vaultBalance(loan.LendAsset)
	if err != nil {
		return err
	}
	if _, err := e.swapFromVault(svc, inputNorm, inputAmount, minOut, normPath, e.vault, deadline); err != nil {
		// The swap never delivered; the pulled input is still in the vault.
		if refundErr := e.payOut(inputNorm, borrower, inputAmount); refundErr != nil {
			return refundErr
		}
		return err
	}
	after, err := e.vaultBalance(loan.LendAsset)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(s.totalDue) < 0 {
		// The input was consumed by the swap; hand the realized output back
		// so a failed repayment leaves the borrower whole.
		if refundErr := e.payOut(loan.LendAsset, borrower, delta); refundErr != nil {
			return refundErr
		}
		return errSwapOutputShortfall
	}
	surplus := new(big.Int).Sub(delta, s.totalDue)

	if err := e.closeRepaid(loan, s); err != nil {
		return err
	}
	return e.payOut(loan.LendAsset, loan.Borrower, surplus)
}

// swapFromVault grants the service a transient allowance for exactly amountIn,
// invokes the swap and revokes any residual allowance on every exit path. The
// returned value is the service-reported output in the final path asset.
func (e *Engine) swapFromVault(svc SwapService, asset string, amountIn, minOut *big.Int, path []string, recipient crypto.Address, deadline int64) (*big.Int, error) {
	if e.transfer == nil {
		return nil, errNilTransfer
	}
	if err := e.transfer.Approve(e.vault, svc.Address(), asset, amountIn); err != nil {
		return nil, err
	}
	amounts, swapErr := svc.Swap(amountIn, minOut, path, recipient, deadline)
	if err := e.transfer.Approve(e.vault, svc.Address(), asset, nil); err != nil {
		return nil, err
	}
	if swapErr != nil {
		return nil, swapErr
	}
	if len(amounts) == 0 || amounts[len(amounts)-1] == nil {
		return nil, errSwapOutputShortfall
	}
	out := amounts[len(amounts)-1]
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, errSwapOutputShortfall
	}
	return new(big.Int).Set(out), nil
}

func normalizePath(path []string) ([]string, error) {
	if len(path) < 2 {
		return nil, errInvalidPath
	}
	normalized := make([]string, len(path))
	for i, hop := range path {
		norm, err := bank.NormalizeAsset(hop)
		if err != nil {
			return nil, err
		}
		normalized[i] = norm
	}
	return normalized, nil
}

// liquidationEligible reports nil when the loan may be liquidated now: either
// past expiry plus grace, or undercollateralized on live prices when a ratio
// trigger is recorded. A required ratio check with a missing price fails the
// attempt outright.
func (e *Engine) liquidationEligible(loan *Loan, now int64) error {
	if now > loan.StartTime+loan.Duration+e.params.GracePeriod {
		return nil
	}
	if loan.CollateralRatioBps == 0 {
		return errNotLiquidatable
	}
	priceLend, okLend := e.fetchPrice(loan.LendAsset)
	priceCollateral, okCollateral := e.fetchPrice(loan.CollateralAsset)
	if !okLend || !okCollateral {
		return ErrPriceUnavailable
	}
	collateralValue := new(big.Int).Mul(loan.CollateralAmount, priceCollateral)
	principalValue := new(big.Int).Mul(loan.Principal, priceLend)
	lhs := new(big.Int).Mul(collateralValue, basisPoints)
	rhs := new(big.Int).Mul(principalValue, new(big.Int).SetUint64(loan.CollateralRatioBps))
	if lhs.Cmp(rhs) < 0 {
		return nil
	}
	return errNotLiquidatable
}

func (e *Engine) liquidationAuthorized(caller crypto.Address, loan *Loan) bool {
	if caller.Equal(loan.Lender) {
		return true
	}
	if e.issuer == nil {
		return false
	}
	owner, err := e.issuer.OwnerOf(loan.LenderCertID)
	if err != nil {
		return false
	}
	return owner.Equal(caller)
}

// penaltyCollateral sizes the liquidation penalty in collateral units:
// principal × penaltyBps / 10000 converted at live prices, capped at the
// available collateral. When either price is unavailable the penalty falls
// back to penaltyBps of the collateral itself, keeping expiry liquidations
// executable without a feed.
func (e *Engine) penaltyCollateral(loan *Loan) *big.Int {
	penaltyLend := new(big.Int).Mul(loan.Principal, new(big.Int).SetUint64(e.params.PenaltyBps))
	penaltyLend.Quo(penaltyLend, basisPoints)
	if penaltyLend.Sign() == 0 {
		return big.NewInt(0)
	}
	var penalty *big.Int
	priceLend, okLend := e.fetchPrice(loan.LendAsset)
	priceCollateral, okCollateral := e.fetchPrice(loan.CollateralAsset)
	if okLend && okCollateral && priceCollateral.Sign() > 0 {
		penalty = new(big.Int).Mul(penaltyLend, priceLend)
		penalty.Quo(penalty, priceCollateral)
	} else {
		penalty = new(big.Int).Mul(loan.CollateralAmount, new(big.Int).SetUint64(e.params.PenaltyBps))
		penalty.Quo(penalty, basisPoints)
	}
	if penalty.Cmp(loan.CollateralAmount) > 0 {
		penalty = new(big.Int).Set(loan.CollateralAmount)
	}
	return penalty
}

// closeLiquidated commits the terminal liquidated state and credits the
// penalty to the fee ledger in collateral units. The liquidator share is
// returned for delivery by the caller-specific path.
func (e *Engine) closeLiquidated(loan *Loan) (*big.Int, error) {
	penalty := e.penaltyCollateral(loan)
	share := new(big.Int).Sub(loan.CollateralAmount, penalty)

	loan.Liquidated = true
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	fees.Credit(loan.CollateralAsset, penalty)
	if err := e.state.FeesPut(fees); err != nil {
		return nil, err
	}
	usage, err := e.loadRisk()
	if err != nil {
		return nil, err
	}
	usage.Sub(loan.LendAsset, loan.Lender, loan.Borrower, loan.Principal)
	if err := e.state.RiskPut(usage); err != nil {
		return nil, err
	}
	return share, nil
}

// Liquidate closes an eligible loan, credits the penalty to the fee ledger
// and delivers the remaining collateral to the liquidator. Authorized for the
// original lender or the current holder of the lender certificate.
func (e *Engine) Liquidate(caller crypto.Address, loanID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loadOpenLoan(loanID)
	if err != nil {
		return err
	}
	if !e.liquidationAuthorized(caller, loan) {
		return errUnauthorized
	}
	if err := e.liquidationEligible(loan, e.now()); err != nil {
		return err
	}

	share, err := e.closeLiquidated(loan)
	if err != nil {
		return err
	}
	if err := e.payOut(loan.CollateralAsset, caller, share); err != nil {
		return err
	}
	if err := e.burnCertificates(loan); err != nil {
		return err
	}
	e.emit(newLoanEvent(EventTypeLoanLiquidated, loan))
	return nil
}

// LiquidateWithSwap behaves like Liquidate but routes the liquidator's
// collateral share through a whitelisted swap service, delivering the final
// path asset to the caller.
func (e *Engine) LiquidateWithSwap(caller crypto.Address, loanID uint64, svc SwapService, path []string, minOut *big.Int, deadline int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loadOpenLoan(loanID)
	if err != nil {
		return err
	}
	if !e.liquidationAuthorized(caller, loan) {
		return errUnauthorized
	}
	if !e.swapAllowed(svc) {
		return errSwapNotWhitelisted
	}
	normPath, err := normalizePath(path)
	if err != nil {
		return err
	}
	if normPath[0] != loan.CollateralAsset {
		return errInvalidPath
	}
	if err := e.liquidationEligible(loan, e.now()); err != nil {
		return err
	}

	share, err := e.closeLiquidated(loan)
	if err != nil {
		return err
	}
	if share.Sign() > 0 {
		if _, err := e.swapFromVault(svc, loan.CollateralAsset, share, minOut, normPath, caller, deadline); err != nil {
			return err
		}
	}
	if err := e.burnCertificates(loan); err != nil {
		return err
	}
	e.emit(newLoanEvent(EventTypeLoanLiquidated, loan))
	return nil
}
