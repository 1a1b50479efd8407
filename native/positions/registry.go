package positions

import (
	"errors"

	"lendledger/crypto"
)

// Certificate sides mirror the lending engine's constants: 1 tokenizes the
// lender claim, 2 the borrower obligation.
const (
	SideLender   uint8 = 1
	SideBorrower uint8 = 2
)

var (
	errNilState       = errors.New("positions: state not configured")
	errNotFound       = errors.New("positions: certificate not found")
	errNotMinter      = errors.New("positions: caller is not the minter")
	errNotHolder      = errors.New("positions: caller does not hold certificate")
	errZeroHolder     = errors.New("positions: holder address required")
	errInvalidSide    = errors.New("positions: invalid certificate side")
	errAlreadyRetired = errors.New("positions: certificate retired")
)

// Certificate tokenizes one side of a loan. Ownership is transferable; the
// loan binding and side are immutable for the certificate's lifetime.
type Certificate struct {
	ID     uint64         `json:"id"`
	LoanID uint64         `json:"loanId"`
	Side   uint8          `json:"side"`
	Holder crypto.Address `json:"holder"`
}

// Clone returns a copy of the certificate.
func (c *Certificate) Clone() *Certificate {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

type registryState interface {
	CertGet(id uint64) (*Certificate, error)
	CertPut(cert *Certificate) error
	CertDelete(id uint64) error
	NextCertID() (uint64, error)
}

// Registry issues and tracks loan position certificates. Minting and burning
// are restricted to the configured minter (the lending engine's vault
// identity); transfers are open to the current holder.
type Registry struct {
	state  registryState
	minter crypto.Address
}

// NewRegistry constructs a registry whose mint and burn rights belong to the
// minter address.
func NewRegistry(minter crypto.Address) *Registry {
	return &Registry{minter: minter}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

func (r *Registry) requireMinter(caller crypto.Address) error {
	if r == nil || r.minter.IsZero() || !caller.Equal(r.minter) {
		return errNotMinter
	}
	return nil
}

// MintFor issues a certificate for one side of a loan to the holder. Caller
// must be the minter.
func (r *Registry) MintFor(caller, holder crypto.Address, loanID uint64, side uint8) (uint64, error) {
	if err := r.requireMinter(caller); err != nil {
		return 0, err
	}
	if r.state == nil {
		return 0, errNilState
	}
	if holder.IsZero() {
		return 0, errZeroHolder
	}
	if side != SideLender && side != SideBorrower {
		return 0, errInvalidSide
	}
	id, err := r.state.NextCertID()
	if err != nil {
		return 0, err
	}
	cert := &Certificate{ID: id, LoanID: loanID, Side: side, Holder: holder}
	if err := r.state.CertPut(cert); err != nil {
		return 0, err
	}
	return id, nil
}

// BurnFor retires a certificate. Caller must be the minter; burning an
// unknown or already-retired certificate fails.
func (r *Registry) BurnFor(caller crypto.Address, certID uint64) error {
	if err := r.requireMinter(caller); err != nil {
		return err
	}
	if r.state == nil {
		return errNilState
	}
	cert, err := r.state.CertGet(certID)
	if err != nil {
		return err
	}
	if cert == nil {
		return errAlreadyRetired
	}
	return r.state.CertDelete(certID)
}

// HolderOf reports the current holder of a live certificate.
func (r *Registry) HolderOf(certID uint64) (crypto.Address, error) {
	if r == nil || r.state == nil {
		return crypto.Address{}, errNilState
	}
	cert, err := r.state.CertGet(certID)
	if err != nil {
		return crypto.Address{}, err
	}
	if cert == nil {
		return crypto.Address{}, errNotFound
	}
	return cert.Holder, nil
}

// Get returns a copy of the certificate record.
func (r *Registry) Get(certID uint64) (*Certificate, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	cert, err := r.state.CertGet(certID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, errNotFound
	}
	return cert.Clone(), nil
}

// Transfer moves a live certificate from its current holder to a new one.
// Only the holder may transfer, and the recipient must be a real address.
func (r *Registry) Transfer(caller crypto.Address, certID uint64, to crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if to.IsZero() {
		return errZeroHolder
	}
	cert, err := r.state.CertGet(certID)
	if err != nil {
		return err
	}
	if cert == nil {
		return errNotFound
	}
	if !caller.Equal(cert.Holder) {
		return errNotHolder
	}
	cert.Holder = to
	return r.state.CertPut(cert)
}

// EngineIssuer adapts the registry to the lending engine's issuer contract,
// acting with the minter identity on every call.
type EngineIssuer struct {
	registry *Registry
}

// NewEngineIssuer wraps the registry for use by the lending engine.
func NewEngineIssuer(registry *Registry) *EngineIssuer {
	return &EngineIssuer{registry: registry}
}

// Mint implements the lending engine's certificate issuer.
func (i *EngineIssuer) Mint(holder crypto.Address, loanID uint64, side uint8) (uint64, error) {
	if i == nil || i.registry == nil {
		return 0, errNilState
	}
	return i.registry.MintFor(i.registry.minter, holder, loanID, side)
}

// Burn implements the lending engine's certificate issuer.
func (i *EngineIssuer) Burn(certID uint64) error {
	if i == nil || i.registry == nil {
		return errNilState
	}
	return i.registry.BurnFor(i.registry.minter, certID)
}

// OwnerOf implements the lending engine's certificate issuer.
func (i *EngineIssuer) OwnerOf(certID uint64) (crypto.Address, error) {
	if i == nil || i.registry == nil {
		return crypto.Address{}, errNilState
	}
	return i.registry.HolderOf(certID)
}
