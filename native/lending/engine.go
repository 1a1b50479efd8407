package lending

import (
	"math/big"
	"time"

	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

const moduleName = "lending"

var basisPoints = big.NewInt(10_000)

type engineState interface {
	OfferGet(id uint64) (*Offer, error)
	OfferPut(offer *Offer) error
	NextOfferID() (uint64, error)
	RequestGet(id uint64) (*Request, error)
	RequestPut(request *Request) error
	NextRequestID() (uint64, error)
	LoanGet(id uint64) (*Loan, error)
	LoanPut(loan *Loan) error
	NextLoanID() (uint64, error)
	FeesGet() (*FeeLedger, error)
	FeesPut(fees *FeeLedger) error
	RiskGet() (*RiskUsage, error)
	RiskPut(usage *RiskUsage) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// Engine orchestrates the loan lifecycle: escrowed offers and requests,
// matching, interest accrual, repayment, liquidation and fee accounting. All
// escrowed balances live in the vault account for the lifetime of an offer,
// request or loan.
type Engine struct {
	state    engineState
	vault    crypto.Address
	admin    crypto.Address
	params   Params
	transfer TransferService
	oracle   PriceOracle
	issuer   CertificateIssuer
	swaps    map[string]bool
	pauses   nativecommon.PauseView
	guard    nativecommon.OpGuard
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine constructs a lending engine bound to the vault and administrator
// identities.
func NewEngine(vault, admin crypto.Address, params Params) *Engine {
	return &Engine{
		vault:   vault,
		admin:   admin,
		params:  params.Clone(),
		swaps:   make(map[string]bool),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransferService configures the asset-transfer primitive.
func (e *Engine) SetTransferService(transfer TransferService) {
	if e == nil {
		return
	}
	e.transfer = transfer
}

// SetOracle configures the price feed consulted for collateral validation and
// liquidation checks. A nil oracle makes every price unavailable.
func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetIssuer configures the position-certificate issuer.
func (e *Engine) SetIssuer(issuer CertificateIssuer) {
	if e == nil {
		return
	}
	e.issuer = issuer
}

// SetPauses wires the circuit breaker checked by every mutating entry point.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Vault returns the engine's escrow account identity.
func (e *Engine) Vault() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.vault
}

// Params returns a copy of the active engine parameters.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params.Clone()
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e == nil || e.admin.IsZero() || !caller.Equal(e.admin) {
		return errUnauthorized
	}
	return nil
}

func (e *Engine) vaultBalance(asset string) (*big.Int, error) {
	acc, err := e.state.GetAccount(e.vault)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return acc.Balance(asset), nil
}

// pullExact escrows amount of asset from the payer into the vault. The
// observed vault balance delta, not the transfer primitive's return, is the
// ground truth: assets that skim a fee deliver a smaller delta and fail here
// deterministically.
func (e *Engine) pullExact(payer crypto.Address, asset string, amount *big.Int) error {
	if e.transfer == nil {
		return errNilTransfer
	}
	before, err := e.vaultBalance(asset)
	if err != nil {
		return err
	}
	if err := e.transfer.TransferFrom(e.vault, asset, payer, e.vault, amount); err != nil {
		return err
	}
	after, err := e.vaultBalance(asset)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(amount) != 0 {
		return errEscrowShortfall
	}
	return nil
}

// payOut releases escrowed funds from the vault.
func (e *Engine) payOut(asset string, to crypto.Address, amount *big.Int) error {
	if e.transfer == nil {
		return errNilTransfer
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return e.transfer.Transfer(asset, e.vault, to, amount)
}

func (e *Engine) swapAllowed(svc SwapService) bool {
	if e == nil || svc == nil {
		return false
	}
	return e.swaps[string(svc.Address().Bytes())]
}

func (e *Engine) loadOpenLoan(id uint64) (*Loan, error) {
	loan, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errLoanNotFound
	}
	if loan.Closed() {
		return nil, errLoanClosed
	}
	return loan, nil
}

func (e *Engine) loadFees() (*FeeLedger, error) {
	fees, err := e.state.FeesGet()
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = NewFeeLedger()
	}
	return fees, nil
}

func (e *Engine) loadRisk() (*RiskUsage, error) {
	usage, err := e.state.RiskGet()
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage = NewRiskUsage()
	}
	return usage, nil
}

// --- administrative surface ---

// SetOwnerFeeBps updates the protocol interest skim. Administrator only.
func (e *Engine) SetOwnerFeeBps(caller crypto.Address, bps uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if bps > 10_000 {
		return errBpsOutOfRange
	}
	e.params.OwnerFeeBps = bps
	return nil
}

// SetPenaltyBps updates the liquidation penalty. Administrator only.
func (e *Engine) SetPenaltyBps(caller crypto.Address, bps uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if bps > 10_000 {
		return errBpsOutOfRange
	}
	e.params.PenaltyBps = bps
	return nil
}

// SetGracePeriod updates the post-expiry liquidation grace window in seconds.
func (e *Engine) SetGracePeriod(caller crypto.Address, seconds int64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if seconds < 0 {
		seconds = 0
	}
	e.params.GracePeriod = seconds
	return nil
}

// SetRateBand updates the admissible interest-rate band; zero disables a side.
func (e *Engine) SetRateBand(caller crypto.Address, minBps, maxBps uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.params.Limits.MinRateBps = minBps
	e.params.Limits.MaxRateBps = maxBps
	return nil
}

// SetMaxDuration updates the maximum loan term; zero disables the bound.
func (e *Engine) SetMaxDuration(caller crypto.Address, seconds int64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if seconds < 0 {
		seconds = 0
	}
	e.params.Limits.MaxDuration = seconds
	return nil
}

// SetPrincipalCaps replaces the four outstanding-principal caps; a nil or
// non-positive value disables its dimension.
func (e *Engine) SetPrincipalCaps(caller crypto.Address, perAsset, perLender, perBorrower, global *big.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	clamp := func(v *big.Int) *big.Int {
		if v == nil || v.Sign() <= 0 {
			return nil
		}
		return new(big.Int).Set(v)
	}
	e.params.Limits.MaxPrincipalPerAsset = clamp(perAsset)
	e.params.Limits.MaxPrincipalPerLender = clamp(perLender)
	e.params.Limits.MaxPrincipalPerBorrower = clamp(perBorrower)
	e.params.Limits.MaxPrincipalGlobal = clamp(global)
	return nil
}

// SetCollateralValidation toggles oracle-backed ratio enforcement at match.
func (e *Engine) SetCollateralValidation(caller crypto.Address, enabled bool) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.params.ValidateCollateral = enabled
	return nil
}

// WhitelistSwapService adds or removes a swap service.
func (e *Engine) WhitelistSwapService(caller, service crypto.Address, allowed bool) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	key := string(service.Bytes())
	if allowed {
		e.swaps[key] = true
	} else {
		delete(e.swaps, key)
	}
	return nil
}

// ReplaceIssuer swaps the certificate issuer. Administrator only.
func (e *Engine) ReplaceIssuer(caller crypto.Address, issuer CertificateIssuer) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.issuer = issuer
	return nil
}

// --- read surface ---

// GetOffer returns a copy of the stored offer.
func (e *Engine) GetOffer(id uint64) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, err := e.state.OfferGet(id)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, errOfferNotFound
	}
	return offer.Clone(), nil
}

// GetRequest returns a copy of the stored request.
func (e *Engine) GetRequest(id uint64) (*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	request, err := e.state.RequestGet(id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, errRequestNotFound
	}
	return request.Clone(), nil
}

// GetLoan returns a copy of the stored loan.
func (e *Engine) GetLoan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errLoanNotFound
	}
	return loan.Clone(), nil
}

// FeeBalance reports the unclaimed protocol fee balance for the asset.
func (e *Engine) FeeBalance(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	return fees.Balance(asset), nil
}

// RiskSnapshot returns a copy of the outstanding-principal counters.
func (e *Engine) RiskSnapshot() (*RiskUsage, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	usage, err := e.loadRisk()
	if err != nil {
		return nil, err
	}
	return usage.Clone(), nil
}
