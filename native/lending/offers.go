package lending

import (
	"math/big"

	"lendledger/crypto"
	"lendledger/native/bank"
	nativecommon "lendledger/native/common"
)

// CreateOffer escrows amount of lendAsset from the lender and records an
// active offer. The pulled balance must match amount exactly; fee-skimming
// assets are rejected rather than silently under-escrowed.
func (e *Engine) CreateOffer(lender crypto.Address, lendAsset string, amount *big.Int, rateBps uint64, duration int64, collateralAsset string, collateralRatioBps uint64) (uint64, error) {
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
	if amount == nil || amount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if duration <= 0 {
		return 0, errInvalidDuration
	}
	lendNorm, err := bank.NormalizeAsset(lendAsset)
	if err != nil {
		return 0, err
	}
	collateralNorm, err := bank.NormalizeAsset(collateralAsset)
	if err != nil {
		return 0, err
	}
	if !e.params.Limits.RateInBand(rateBps) {
		return 0, errRateOutsideBand
	}

	if err := e.pullExact(lender, lendNorm, amount); err != nil {
		return 0, err
	}

	id, err := e.state.NextOfferID()
	if err != nil {
		return 0, err
	}
	offer := &Offer{
		ID:                 id,
		Lender:             lender,
		LendAsset:          lendNorm,
		Amount:             new(big.Int).Set(amount),
		RateBps:            rateBps,
		Duration:           duration,
		CollateralAsset:    collateralNorm,
		CollateralRatioBps: collateralRatioBps,
		CreatedAt:          e.now(),
		Active:             true,
	}
	if err := e.state.OfferPut(offer); err != nil {
		return 0, err
	}
	e.emit(newOfferEvent(EventTypeOfferCreated, offer))
	return id, nil
}

// CancelOffer deactivates an active offer and refunds the full escrowed
// amount to the original lender. The offer is marked inactive before the
// refund leaves the vault.
func (e *Engine) CancelOffer(caller crypto.Address, id uint64) error {
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
	offer, err := e.state.OfferGet(id)
	if err != nil {
		return err
	}
	if offer == nil {
		return errOfferNotFound
	}
	if !offer.Active {
		return errOfferInactive
	}
	if !caller.Equal(offer.Lender) {
		return errUnauthorized
	}

	offer.Active = false
	if err := e.state.OfferPut(offer); err != nil {
		return err
	}
	if err := e.payOut(offer.LendAsset, offer.Lender, offer.Amount); err != nil {
		return err
	}
	e.emit(newOfferEvent(EventTypeOfferCancelled, offer))
	return nil
}

// CreateRequest escrows the borrower's collateral and records an active
// borrow request. The collateral leg carries the same escrow-exactness
// invariant as offers.
func (e *Engine) CreateRequest(borrower crypto.Address, borrowAsset string, amount *big.Int, maxRateBps uint64, duration int64, collateralAsset string, collateralAmount *big.Int) (uint64, error) {
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
	if amount == nil || amount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if duration <= 0 {
		return 0, errInvalidDuration
	}
	borrowNorm, err := bank.NormalizeAsset(borrowAsset)
	if err != nil {
		return 0, err
	}
	collateralNorm, err := bank.NormalizeAsset(collateralAsset)
	if err != nil {
		return 0, err
	}
	if !e.params.Limits.RateInBand(maxRateBps) {
		return 0, errRateOutsideBand
	}

	if err := e.pullExact(borrower, collateralNorm, collateralAmount); err != nil {
		return 0, err
	}

	id, err := e.state.NextRequestID()
	if err != nil {
		return 0, err
	}
	request := &Request{
		ID:               id,
		Borrower:         borrower,
		BorrowAsset:      borrowNorm,
		Amount:           new(big.Int).Set(amount),
		MaxRateBps:       maxRateBps,
		Duration:         duration,
		CollateralAsset:  collateralNorm,
		CollateralAmount: new(big.Int).Set(collateralAmount),
		CreatedAt:        e.now(),
		Active:           true,
	}
	if err := e.state.RequestPut(request); err != nil {
		return 0, err
	}
	e.emit(newRequestEvent(EventTypeRequestCreated, request))
	return id, nil
}

// CancelRequest deactivates an active request and returns the escrowed
// collateral to the borrower.
func (e *Engine) CancelRequest(caller crypto.Address, id uint64) error {
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
	request, err := e.state.RequestGet(id)
	if err != nil {
		return err
	}
	if request == nil {
		return errRequestNotFound
	}
	if !request.Active {
		return errRequestInactive
	}
	if !caller.Equal(request.Borrower) {
		return errUnauthorized
	}

	request.Active = false
	if err := e.state.RequestPut(request); err != nil {
		return err
	}
	if err := e.payOut(request.CollateralAsset, request.Borrower, request.CollateralAmount); err != nil {
		return err
	}
	e.emit(newRequestEvent(EventTypeRequestCancelled, request))
	return nil
}
