package lending

import (
	"math/big"

	"lendledger/crypto"
)

// TransferService is the external asset-transfer primitive. The engine never
// trusts its success signal for escrow legs; it compares observed vault
// balance deltas against the requested amount instead.
type TransferService interface {
	// Transfer moves amount of asset between two accounts.
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
	// TransferFrom moves amount from owner on the spender's authority.
	TransferFrom(spender crypto.Address, asset string, owner, to crypto.Address, amount *big.Int) error
	// Approve sets a spender allowance; nil or zero revokes it.
	Approve(owner, spender crypto.Address, asset string, amount *big.Int) error
}

// SwapService converts an input amount along an asset path, delivering the
// final asset to the recipient. The engine grants a transient allowance for
// exactly the input amount and revokes any residue immediately after the call.
type SwapService interface {
	Address() crypto.Address
	Swap(amountIn, minOut *big.Int, path []string, recipient crypto.Address, deadline int64) ([]*big.Int, error)
}

// Certificate sides. Each loan carries one transferable claim per side.
const (
	CertSideLender   uint8 = 1
	CertSideBorrower uint8 = 2
)

// CertificateIssuer mints and burns the transferable position certificates
// tokenizing each side of a loan. Issuance is restricted to the engine.
type CertificateIssuer interface {
	Mint(holder crypto.Address, loanID uint64, side uint8) (uint64, error)
	Burn(certID uint64) error
	OwnerOf(certID uint64) (crypto.Address, error)
}
