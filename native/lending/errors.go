package lending

import "errors"

var (
	errNilState    = errors.New("lending engine: state not configured")
	errNilTransfer = errors.New("lending engine: transfer service not configured")
	errNilIssuer   = errors.New("lending engine: certificate issuer not configured")

	// Validation errors: rejected before any state mutation.
	errInvalidAmount   = errors.New("lending engine: amount must be positive")
	errInvalidDuration = errors.New("lending engine: duration must be positive")
	errEmptyBatch      = errors.New("lending engine: empty asset batch")
	errInvalidPath     = errors.New("lending engine: invalid swap path")

	// Authorization errors.
	errUnauthorized = errors.New("lending engine: caller not authorized")

	// State errors.
	errOfferNotFound   = errors.New("lending engine: offer not found")
	errOfferInactive   = errors.New("lending engine: offer not active")
	errRequestNotFound = errors.New("lending engine: request not found")
	errRequestInactive = errors.New("lending engine: request not active")
	errLoanNotFound    = errors.New("lending engine: loan not found")
	errLoanClosed      = errors.New("lending engine: loan already closed")

	// Economic errors.
	errRateOutsideBand        = errors.New("lending engine: rate outside configured band")
	errDurationExceeded       = errors.New("lending engine: duration exceeds maximum")
	errInsufficientCollateral = errors.New("lending engine: collateral below required ratio")
	errNotLiquidatable        = errors.New("lending engine: loan not eligible for liquidation")
	errSwapNotWhitelisted     = errors.New("lending engine: swap service not whitelisted")
	errSwapOutputShortfall    = errors.New("lending engine: swap output below amount due")
	errNoFeesAccrued          = errors.New("lending engine: no fees accrued for asset")
	errBpsOutOfRange          = errors.New("lending engine: basis points exceed 10000")

	// External-collaborator errors: the encompassing operation fails atomically.
	errEscrowShortfall = errors.New("lending engine: transfer delta mismatch")

	// ErrPriceUnavailable is surfaced when a required oracle price cannot be
	// resolved (missing feed or stale quote).
	ErrPriceUnavailable = errors.New("lending engine: price unavailable")
)

// Classification helpers for transport layers mapping engine errors onto
// status codes.

// IsNotFound reports whether the error names a missing offer, request or loan.
func IsNotFound(err error) bool {
	return errors.Is(err, errOfferNotFound) ||
		errors.Is(err, errRequestNotFound) ||
		errors.Is(err, errLoanNotFound)
}

// IsUnauthorized reports whether the caller lacked the right to the operation.
func IsUnauthorized(err error) bool {
	return errors.Is(err, errUnauthorized)
}

// IsStateConflict reports whether the target record exists but no longer
// admits the operation.
func IsStateConflict(err error) bool {
	return errors.Is(err, errOfferInactive) ||
		errors.Is(err, errRequestInactive) ||
		errors.Is(err, errLoanClosed)
}
