package state

import (
	"math/big"
	"testing"

	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/native/positions"
	"lendledger/storage"
)

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.LendPrefix, buf)
}

func TestAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(1)

	got, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get missing account: %v", err)
	}
	if got != nil {
		t.Fatal("missing account not nil")
	}

	account := types.NewAccount()
	account.SetBalance("ABC", big.NewInt(1_000))
	if err := manager.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	got, err = manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Balance("ABC").Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("balance = %s, want 1000", got.Balance("ABC"))
	}
}

func TestSequencesStartAtOne(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	first, err := manager.NextOfferID()
	if err != nil {
		t.Fatalf("next offer id: %v", err)
	}
	if first != 1 {
		t.Fatalf("first offer id = %d, want 1", first)
	}
	second, _ := manager.NextOfferID()
	if second != 2 {
		t.Fatalf("second offer id = %d, want 2", second)
	}
	// Sequences are independent per record type.
	loanID, _ := manager.NextLoanID()
	if loanID != 1 {
		t.Fatalf("first loan id = %d, want 1", loanID)
	}
}

func TestLoanRoundTripPreservesAddresses(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	loan := &lending.Loan{
		ID:               3,
		OfferID:          1,
		Lender:           testAddr(1),
		Borrower:         testAddr(2),
		LendAsset:        "ABC",
		CollateralAsset:  "XYZ",
		Principal:        big.NewInt(600),
		RateBps:          800,
		StartTime:        1_700_000_000,
		Duration:         86_400,
		CollateralAmount: big.NewInt(900),
		LenderCertID:     1,
		BorrowerCertID:   2,
	}
	if err := manager.LoanPut(loan); err != nil {
		t.Fatalf("put loan: %v", err)
	}
	got, err := manager.LoanGet(3)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if !got.Lender.Equal(loan.Lender) || !got.Borrower.Equal(loan.Borrower) {
		t.Fatal("addresses did not survive the round trip")
	}
	if got.Principal.Cmp(loan.Principal) != 0 || got.RateBps != loan.RateBps {
		t.Fatalf("loan fields wrong: %+v", got)
	}

	missing, err := manager.LoanGet(99)
	if err != nil {
		t.Fatalf("get missing loan: %v", err)
	}
	if missing != nil {
		t.Fatal("missing loan not nil")
	}
}

func TestFeeAndRiskSingletons(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	fees := lending.NewFeeLedger()
	fees.Credit("ABC", big.NewInt(42))
	if err := manager.FeesPut(fees); err != nil {
		t.Fatalf("put fees: %v", err)
	}
	gotFees, err := manager.FeesGet()
	if err != nil {
		t.Fatalf("get fees: %v", err)
	}
	if gotFees.Balance("ABC").Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fee balance = %s, want 42", gotFees.Balance("ABC"))
	}

	usage := lending.NewRiskUsage()
	usage.Add("ABC", testAddr(1), testAddr(2), big.NewInt(600))
	if err := manager.RiskPut(usage); err != nil {
		t.Fatalf("put risk: %v", err)
	}
	gotUsage, err := manager.RiskGet()
	if err != nil {
		t.Fatalf("get risk: %v", err)
	}
	if gotUsage.GlobalPrincipal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("global principal = %s, want 600", gotUsage.GlobalPrincipal)
	}
}

func TestCertificateLifecycle(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	id, err := manager.NextCertID()
	if err != nil {
		t.Fatalf("next cert id: %v", err)
	}
	cert := &positions.Certificate{ID: id, LoanID: 7, Side: positions.SideLender, Holder: testAddr(1)}
	if err := manager.CertPut(cert); err != nil {
		t.Fatalf("put cert: %v", err)
	}
	got, err := manager.CertGet(id)
	if err != nil {
		t.Fatalf("get cert: %v", err)
	}
	if got.LoanID != 7 || !got.Holder.Equal(testAddr(1)) {
		t.Fatalf("certificate wrong: %+v", got)
	}
	if err := manager.CertDelete(id); err != nil {
		t.Fatalf("delete cert: %v", err)
	}
	gone, err := manager.CertGet(id)
	if err != nil {
		t.Fatalf("get deleted cert: %v", err)
	}
	if gone != nil {
		t.Fatal("deleted certificate still present")
	}
}
