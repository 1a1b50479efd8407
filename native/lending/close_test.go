package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendledger/crypto"
)

// matchedLoan escrows a standard 1,000,000 ABC principal against 1,500,000
// XYZ collateral at 10% annual over 90 days.
func matchedLoan(t *testing.T, env *testEnv, ratioBps uint64) (crypto.Address, crypto.Address, uint64) {
	t.Helper()
	lender, borrower := testAddr(1), testAddr(2)
	env.fundAndApprove(t, lender, "ABC", 2_000_000)
	env.fundAndApprove(t, borrower, "XYZ", 2_000_000)

	offerID, err := env.engine.CreateOffer(lender, "ABC", big.NewInt(1_000_000), 1_000, 90*day, "XYZ", ratioBps)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	loanID, err := env.engine.AcceptOffer(borrower, offerID, big.NewInt(1_500_000))
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	return lender, borrower, loanID
}

func TestRepayFullSettles(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	lender, borrower, loanID := matchedLoan(t, env, 0)

	env.clock = testEpoch + 30*day
	// interest 8,219; owner fee 10% = 821; lender share 7,398.
	env.state.fund(borrower, "ABC", 1_100_000)
	if err := env.ledger.Approve(borrower, env.vault, "ABC", big.NewInt(1_100_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.engine.RepayFull(borrower, loanID); err != nil {
		t.Fatalf("repay: %v", err)
	}

	if got := env.state.balance(lender, "ABC"); got.Cmp(big.NewInt(2_007_398)) != 0 {
		t.Fatalf("lender balance = %s, want 2007398", got)
	}
	if got := env.state.balance(borrower, "ABC"); got.Cmp(big.NewInt(91_781)) != 0 {
		t.Fatalf("borrower balance = %s, want 91781", got)
	}
	if got := env.state.balance(borrower, "XYZ"); got.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("collateral not returned: %s", got)
	}
	feeBal, err := env.engine.FeeBalance("ABC")
	if err != nil {
		t.Fatalf("fee balance: %v", err)
	}
	if feeBal.Cmp(big.NewInt(821)) != 0 {
		t.Fatalf("fee balance = %s, want 821", feeBal)
	}

	loan, _ := env.engine.GetLoan(loanID)
	if !loan.Repaid || loan.Liquidated {
		t.Fatalf("loan state wrong: %+v", loan)
	}
	if !env.issuer.burned[loan.LenderCertID] || !env.issuer.burned[loan.BorrowerCertID] {
		t.Fatal("certificates not burned")
	}
	usage, _ := env.engine.RiskSnapshot()
	if usage.GlobalPrincipal.Sign() != 0 {
		t.Fatalf("risk counter not released: %s", usage.GlobalPrincipal)
	}

	if err := env.engine.RepayFull(borrower, loanID); !errors.Is(err, errLoanClosed) {
		t.Fatalf("second repay: got %v", err)
	}
}

func TestRepayOnlyBorrower(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	lender, _, loanID := matchedLoan(t, env, 0)
	if err := env.engine.RepayFull(lender, loanID); !errors.Is(err, errUnauthorized) {
		t.Fatalf("lender repay: got %v", err)
	}
}

func TestLiquidateAfterGrace(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	lender, _, loanID := matchedLoan(t, env, 0)

	// Inside the term, and inside the grace window, liquidation is refused.
	if err := env.engine.Liquidate(lender, loanID); !errors.Is(err, errNotLiquidatable) {
		t.Fatalf("early liquidation: got %v", err)
	}
	env.clock = testEpoch + 90*day + env.engine.Params().GracePeriod
	if err := env.engine.Liquidate(lender, loanID); !errors.Is(err, errNotLiquidatable) {
		t.Fatalf("liquidation at grace boundary: got %v", err)
	}

	env.clock++
	if err := env.engine.Liquidate(lender, loanID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// No prices registered, so the penalty falls back to 5% of the collateral:
	// 75,000 XYZ to the fee ledger, 1,425,000 XYZ to the liquidator.
	if got := env.state.balance(lender, "XYZ"); got.Cmp(big.NewInt(1_425_000)) != 0 {
		t.Fatalf("liquidator share = %s, want 1425000", got)
	}
	feeBal, _ := env.engine.FeeBalance("XYZ")
	if feeBal.Cmp(big.NewInt(75_000)) != 0 {
		t.Fatalf("penalty = %s, want 75000", feeBal)
	}

	loan, _ := env.engine.GetLoan(loanID)
	if !loan.Liquidated || loan.Repaid {
		t.Fatalf("loan state wrong: %+v", loan)
	}
	if err := env.engine.Liquidate(lender, loanID); !errors.Is(err, errLoanClosed) {
		t.Fatalf("second liquidation: got %v", err)
	}
	usage, _ := env.engine.RiskSnapshot()
	if usage.GlobalPrincipal.Sign() != 0 {
		t.Fatalf("risk counter not released: %s", usage.GlobalPrincipal)
	}
}

func TestLiquidatePenaltyUsesPrices(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.oracle.prices["ABC"] = price(1)
	env.oracle.prices["XYZ"] = price(1)
	lender, _, loanID := matchedLoan(t, env, 0)

	env.clock = testEpoch + 90*day + env.engine.Params().GracePeriod + 1
	if err := env.engine.Liquidate(lender, loanID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Penalty 5% of principal converted at parity: 50,000 XYZ.
	feeBal, _ := env.engine.FeeBalance("XYZ")
	if feeBal.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("penalty = %s, want 50000", feeBal)
	}
	if got := env.state.balance(lender, "XYZ"); got.Cmp(big.NewInt(1_450_000)) != 0 {
		t.Fatalf("liquidator share = %s, want 1450000", got)
	}
}

func TestLiquidateUndercollateralized(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.oracle.prices["ABC"] = price(1)
	env.oracle.prices["XYZ"] = price(1)
	lender, _, loanID := matchedLoan(t, env, 15_000)

	// Exactly at ratio: 1,500,000 ≥ 1,000,000 × 150% at parity. Not eligible.
	if err := env.engine.Liquidate(lender, loanID); !errors.Is(err, errNotLiquidatable) {
		t.Fatalf("at-ratio liquidation: got %v", err)
	}

	// Lend asset doubles in value; the position is now undercollateralized.
	env.oracle.prices["ABC"] = price(2)
	if err := env.engine.Liquidate(lender, loanID); err != nil {
		t.Fatalf("undercollateralized liquidation: %v", err)
	}
	loan, _ := env.engine.GetLoan(loanID)
	if !loan.Liquidated {
		t.Fatalf("loan not liquidated: %+v", loan)
	}
	// Penalty 50,000 ABC-worth at 2:1 → 100,000 XYZ.
	feeBal, _ := env.engine.FeeBalance("XYZ")
	if feeBal.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("penalty = %s, want 100000", feeBal)
	}
}

func TestLiquidateRatioNeedsPrices(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.oracle.prices["ABC"] = price(1)
	env.oracle.prices["XYZ"] = price(1)
	lender, _, loanID := matchedLoan(t, env, 15_000)

	// Feed disappears mid-life: the ratio check fails fast instead of
	// guessing, while expiry-based liquidation stays available later.
	delete(env.oracle.prices, "XYZ")
	if err := env.engine.Liquidate(lender, loanID); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("ratio check without prices: got %v", err)
	}
	env.clock = testEpoch + 90*day + env.engine.Params().GracePeriod + 1
	if err := env.engine.Liquidate(lender, loanID); err != nil {
		t.Fatalf("expiry liquidation without prices: %v", err)
	}
}

func TestLiquidateAuthorization(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	_, borrower, loanID := matchedLoan(t, env, 0)
	env.clock = testEpoch + 90*day + env.engine.Params().GracePeriod + 1

	if err := env.engine.Liquidate(borrower, loanID); !errors.Is(err, errUnauthorized) {
		t.Fatalf("borrower liquidation: got %v", err)
	}

	// The lender claim is transferable; the current certificate holder may
	// liquidate.
	holder := testAddr(7)
	loan, _ := env.engine.GetLoan(loanID)
	env.issuer.owners[loan.LenderCertID] = holder
	if err := env.engine.Liquidate(holder, loanID); err != nil {
		t.Fatalf("certificate holder liquidation: %v", err)
	}
	if got := env.state.balance(holder, "XYZ"); got.Cmp(big.NewInt(1_425_000)) != 0 {
		t.Fatalf("holder share = %s, want 1425000", got)
	}
}

// fakeSwap pulls its input from the vault under the transient allowance and
// delivers a fixed output amount from its own reserve.
type fakeSwap struct {
	addr crypto.Address
	env  *testEnv
	out  *big.Int
}

func (f *fakeSwap) Address() crypto.Address { return f.addr }

func (f *fakeSwap) Swap(amountIn, minOut *big.Int, path []string, recipient crypto.Address, deadline int64) ([]*big.Int, error) {
	if err := f.env.ledger.TransferFrom(f.addr, path[0], f.env.vault, f.addr, amountIn); err != nil {
		return nil, err
	}
	outAsset := path[len(path)-1]
	if err := f.env.ledger.Transfer(outAsset, f.addr, recipient, f.out); err != nil {
		return nil, err
	}
	return []*big.Int{new(big.Int).Set(amountIn), new(big.Int).Set(f.out)}, nil
}

func (env *testEnv) whitelistedSwap(t *testing.T, outAsset string, reserve, out int64) *fakeSwap {
	t.Helper()
	swap := &fakeSwap{addr: testAddr(0x55), env: env, out: big.NewInt(out)}
	env.state.fund(swap.addr, outAsset, reserve)
	if err := env.engine.WhitelistSwapService(env.admin, swap.addr, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	return swap
}

func TestRepayWithSwap(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	lender, borrower, loanID := matchedLoan(t, env, 0)
	env.clock = testEpoch + 30*day
	// Due 1,008,219; the swap delivers 1,010,000 so 1,781 surplus returns to
	// the borrower.
	swap := env.whitelistedSwap(t, "ABC", 2_000_000, 1_010_000)

	err := env.engine.RepayWithSwap(borrower, loanID, swap, "XYZ", big.NewInt(200_000), []string{"XYZ", "ABC"}, nil, env.clock+60)
	if err != nil {
		t.Fatalf("repay with swap: %v", err)
	}

	if got := env.state.balance(lender, "ABC"); got.Cmp(big.NewInt(2_007_398)) != 0 {
		t.Fatalf("lender balance = %s, want 2007398", got)
	}
	// Matched principal plus the swap surplus.
	if got := env.state.balance(borrower, "ABC"); got.Cmp(big.NewInt(1_001_781)) != 0 {
		t.Fatalf("borrower balance = %s, want 1001781", got)
	}
	// 2,000,000 − 1,500,000 collateral − 200,000 input + 1,500,000 returned.
	if got := env.state.balance(borrower, "XYZ"); got.Cmp(big.NewInt(1_800_000)) != 0 {
		t.Fatalf("borrower collateral = %s, want 1800000", got)
	}
	// Transient allowance fully revoked.
	if got := env.ledger.Allowance(env.vault, swap.addr, "XYZ"); got.Sign() != 0 {
		t.Fatalf("residual allowance = %s", got)
	}
	loan, _ := env.engine.GetLoan(loanID)
	if !loan.Repaid {
		t.Fatalf("loan not repaid: %+v", loan)
	}
}

func TestRepayWithSwapShortfall(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	_, borrower, loanID := matchedLoan(t, env, 0)
	env.clock = testEpoch + 30*day
	swap := env.whitelistedSwap(t, "ABC", 2_000_000, 1_000_000)

	err := env.engine.RepayWithSwap(borrower, loanID, swap, "XYZ", big.NewInt(200_000), []string{"XYZ", "ABC"}, nil, env.clock+60)
	if !errors.Is(err, errSwapOutputShortfall) {
		t.Fatalf("shortfall: got %v", err)
	}
	loan, _ := env.engine.GetLoan(loanID)
	if loan.Closed() {
		t.Fatalf("loan closed on failed swap: %+v", loan)
	}
	// The input was consumed by the swap; the realized output goes back to
	// the borrower so the failed attempt costs nothing beyond the exchange.
	// 1,000,000 principal from the match plus the 1,000,000 refund.
	if got := env.state.balance(borrower, "ABC"); got.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("borrower output refund = %s, want 2000000", got)
	}
	if got := env.state.balance(borrower, "XYZ"); got.Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("borrower XYZ = %s, want 300000", got)
	}
	if got := env.ledger.Allowance(env.vault, swap.addr, "XYZ"); got.Sign() != 0 {
		t.Fatalf("residual allowance = %s", got)
	}
}

// refusingSwap rejects every trade without touching the vault.
type refusingSwap struct {
	addr crypto.Address
}

func (r *refusingSwap) Address() crypto.Address { return r.addr }

func (r *refusingSwap) Swap(*big.Int, *big.Int, []string, crypto.Address, int64) ([]*big.Int, error) {
	return nil, errors.New("pool offline")
}

func TestRepayWithSwapErrorRefundsInput(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	_, borrower, loanID := matchedLoan(t, env, 0)
	swap := &refusingSwap{addr: testAddr(0x55)}
	if err := env.engine.WhitelistSwapService(env.admin, swap.addr, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	err := env.engine.RepayWithSwap(borrower, loanID, swap, "XYZ", big.NewInt(200_000), []string{"XYZ", "ABC"}, nil, testEpoch+60)
	if err == nil {
		t.Fatalf("expected swap failure")
	}
	// The untouched input returns to the borrower and the loan stays open.
	if got := env.state.balance(borrower, "XYZ"); got.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("borrower XYZ = %s, want 500000", got)
	}
	loan, _ := env.engine.GetLoan(loanID)
	if loan.Closed() {
		t.Fatalf("loan closed on failed swap: %+v", loan)
	}
	if got := env.ledger.Allowance(env.vault, swap.addr, "XYZ"); got.Sign() != 0 {
		t.Fatalf("residual allowance = %s", got)
	}
}

func TestRepayWithSwapRequiresWhitelist(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	_, borrower, loanID := matchedLoan(t, env, 0)
	swap := &fakeSwap{addr: testAddr(0x55), env: env, out: big.NewInt(2_000_000)}

	err := env.engine.RepayWithSwap(borrower, loanID, swap, "XYZ", big.NewInt(200_000), []string{"XYZ", "ABC"}, nil, testEpoch+60)
	if !errors.Is(err, errSwapNotWhitelisted) {
		t.Fatalf("unlisted swap: got %v", err)
	}
}

func TestRepayWithSwapPathValidation(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	_, borrower, loanID := matchedLoan(t, env, 0)
	swap := env.whitelistedSwap(t, "ABC", 2_000_000, 2_000_000)

	// Path must start at the input asset and end at the lend asset.
	err := env.engine.RepayWithSwap(borrower, loanID, swap, "XYZ", big.NewInt(200_000), []string{"ABC", "XYZ"}, nil, testEpoch+60)
	if !errors.Is(err, errInvalidPath) {
		t.Fatalf("reversed path: got %v", err)
	}
	err = env.engine.RepayWithSwap(borrower, loanID, swap, "XYZ", big.NewInt(200_000), []string{"XYZ"}, nil, testEpoch+60)
	if !errors.Is(err, errInvalidPath) {
		t.Fatalf("single-hop path: got %v", err)
	}
}

func TestLiquidateWithSwap(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	lender, _, loanID := matchedLoan(t, env, 0)
	env.clock = testEpoch + 90*day + env.engine.Params().GracePeriod + 1
	swap := env.whitelistedSwap(t, "ABC", 2_000_000, 1_400_000)

	err := env.engine.LiquidateWithSwap(lender, loanID, swap, []string{"XYZ", "ABC"}, big.NewInt(1_000_000), env.clock+60)
	if err != nil {
		t.Fatalf("liquidate with swap: %v", err)
	}
	// The liquidator receives the swap output; the penalty stays in the fee
	// ledger in collateral units.
	if got := env.state.balance(lender, "ABC"); got.Cmp(big.NewInt(2_400_000)) != 0 {
		t.Fatalf("liquidator output = %s, want 2400000", got)
	}
	feeBal, _ := env.engine.FeeBalance("XYZ")
	if feeBal.Cmp(big.NewInt(75_000)) != 0 {
		t.Fatalf("penalty = %s, want 75000", feeBal)
	}
	if got := env.ledger.Allowance(env.vault, swap.addr, "XYZ"); got.Sign() != 0 {
		t.Fatalf("residual allowance = %s", got)
	}
	loan, _ := env.engine.GetLoan(loanID)
	if !loan.Liquidated {
		t.Fatalf("loan not liquidated: %+v", loan)
	}
}
