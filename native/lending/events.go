package lending

import (
	"strconv"

	"lendledger/core/types"
)

const (
	EventTypeOfferCreated     = "lending.offer.created"
	EventTypeOfferCancelled   = "lending.offer.cancelled"
	EventTypeRequestCreated   = "lending.request.created"
	EventTypeRequestCancelled = "lending.request.cancelled"
	EventTypeLoanMatched      = "lending.loan.matched"
	EventTypeLoanRepaid       = "lending.loan.repaid"
	EventTypeLoanLiquidated   = "lending.loan.liquidated"
	EventTypeFeesClaimed      = "lending.fees.claimed"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func newOfferEvent(eventType string, offer *Offer) *types.Event {
	if offer == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":        formatID(offer.ID),
			"lender":    offer.Lender.String(),
			"lendAsset": offer.LendAsset,
			"amount":    offer.Amount.String(),
			"rateBps":   strconv.FormatUint(offer.RateBps, 10),
		},
	}
}

func newRequestEvent(eventType string, request *Request) *types.Event {
	if request == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":               formatID(request.ID),
			"borrower":         request.Borrower.String(),
			"borrowAsset":      request.BorrowAsset,
			"amount":           request.Amount.String(),
			"collateralAsset":  request.CollateralAsset,
			"collateralAmount": request.CollateralAmount.String(),
		},
	}
}

func newLoanEvent(eventType string, loan *Loan) *types.Event {
	if loan == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":               formatID(loan.ID),
			"lender":           loan.Lender.String(),
			"borrower":         loan.Borrower.String(),
			"lendAsset":        loan.LendAsset,
			"collateralAsset":  loan.CollateralAsset,
			"principal":        loan.Principal.String(),
			"rateBps":          strconv.FormatUint(loan.RateBps, 10),
			"collateralAmount": loan.CollateralAmount.String(),
		},
	}
}

func newFeesClaimedEvent(asset, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeFeesClaimed,
		Attributes: map[string]string{
			"asset":  asset,
			"amount": amount,
		},
	}
}
