package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/native/positions"
	"lendledger/storage"
)

// Key layout. Records are JSON documents under typed prefixes; sequence
// counters live under seq/ as big-endian uint64s.
var (
	prefixAccount = []byte("acct/")
	prefixOffer   = []byte("offer/")
	prefixRequest = []byte("req/")
	prefixLoan    = []byte("loan/")
	prefixCert    = []byte("cert/")
	keyFees       = []byte("fees")
	keyRisk       = []byte("risk")

	seqOffer   = []byte("seq/offer")
	seqRequest = []byte("seq/request")
	seqLoan    = []byte("seq/loan")
	seqCert    = []byte("seq/cert")
)

var errNilDatabase = errors.New("state: database not configured")

// Manager persists every ledger record through a key-value database. It
// serves the account, lending, and certificate state contracts from a single
// store so one backend holds the whole ledger.
type Manager struct {
	db storage.Database
}

// NewManager binds a state manager to the database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func addrKey(prefix []byte, addr crypto.Address) []byte {
	return append(append([]byte{}, prefix...), addr.Bytes()...)
}

// getJSON loads and decodes the record at key into out, reporting found=false
// on a clean miss.
func (m *Manager) getJSON(key []byte, out any) (bool, error) {
	if m == nil || m.db == nil {
		return false, errNilDatabase
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, in any) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// nextSequence increments and persists a counter, returning the new value.
// The first allocation of every sequence is 1; zero stays reserved as the
// absent-reference sentinel.
func (m *Manager) nextSequence(key []byte) (uint64, error) {
	if m == nil || m.db == nil {
		return 0, errNilDatabase
	}
	var current uint64
	raw, err := m.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return 0, err
	case len(raw) == 8:
		current = binary.BigEndian.Uint64(raw)
	default:
		return 0, fmt.Errorf("state: corrupt sequence %q", key)
	}
	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := m.db.Put(key, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// --- account state ---

// GetAccount loads the participant account, or nil when none exists yet.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := new(types.Account)
	found, err := m.getJSON(addrKey(prefixAccount, addr), account)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return account, nil
}

// PutAccount stores the participant account.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	return m.putJSON(addrKey(prefixAccount, addr), account)
}

// --- lending state ---

func (m *Manager) OfferGet(id uint64) (*lending.Offer, error) {
	offer := new(lending.Offer)
	found, err := m.getJSON(idKey(prefixOffer, id), offer)
	if err != nil || !found {
		return nil, err
	}
	return offer, nil
}

func (m *Manager) OfferPut(offer *lending.Offer) error {
	return m.putJSON(idKey(prefixOffer, offer.ID), offer)
}

func (m *Manager) NextOfferID() (uint64, error) { return m.nextSequence(seqOffer) }

func (m *Manager) RequestGet(id uint64) (*lending.Request, error) {
	request := new(lending.Request)
	found, err := m.getJSON(idKey(prefixRequest, id), request)
	if err != nil || !found {
		return nil, err
	}
	return request, nil
}

func (m *Manager) RequestPut(request *lending.Request) error {
	return m.putJSON(idKey(prefixRequest, request.ID), request)
}

func (m *Manager) NextRequestID() (uint64, error) { return m.nextSequence(seqRequest) }

func (m *Manager) LoanGet(id uint64) (*lending.Loan, error) {
	loan := new(lending.Loan)
	found, err := m.getJSON(idKey(prefixLoan, id), loan)
	if err != nil || !found {
		return nil, err
	}
	return loan, nil
}

func (m *Manager) LoanPut(loan *lending.Loan) error {
	return m.putJSON(idKey(prefixLoan, loan.ID), loan)
}

func (m *Manager) NextLoanID() (uint64, error) { return m.nextSequence(seqLoan) }

func (m *Manager) FeesGet() (*lending.FeeLedger, error) {
	fees := new(lending.FeeLedger)
	found, err := m.getJSON(keyFees, fees)
	if err != nil || !found {
		return nil, err
	}
	return fees, nil
}

func (m *Manager) FeesPut(fees *lending.FeeLedger) error {
	return m.putJSON(keyFees, fees)
}

func (m *Manager) RiskGet() (*lending.RiskUsage, error) {
	usage := new(lending.RiskUsage)
	found, err := m.getJSON(keyRisk, usage)
	if err != nil || !found {
		return nil, err
	}
	return usage, nil
}

func (m *Manager) RiskPut(usage *lending.RiskUsage) error {
	return m.putJSON(keyRisk, usage)
}

// --- certificate state ---

func (m *Manager) CertGet(id uint64) (*positions.Certificate, error) {
	cert := new(positions.Certificate)
	found, err := m.getJSON(idKey(prefixCert, id), cert)
	if err != nil || !found {
		return nil, err
	}
	return cert, nil
}

func (m *Manager) CertPut(cert *positions.Certificate) error {
	return m.putJSON(idKey(prefixCert, cert.ID), cert)
}

func (m *Manager) CertDelete(id uint64) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	return m.db.Delete(idKey(prefixCert, id))
}

func (m *Manager) NextCertID() (uint64, error) { return m.nextSequence(seqCert) }
