package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"lendledger/core/state"
	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/native/positions"
	"lendledger/native/system"
	"lendledger/storage"
)

type fixture struct {
	router   http.Handler
	manager  *state.Manager
	engine   *lending.Engine
	ledger   *bank.Ledger
	vault    crypto.Address
	admin    crypto.Address
	lender   crypto.Address
	borrower crypto.Address
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.LendPrefix, buf)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		vault:    testAddr(0xEE),
		admin:    testAddr(0xAA),
		lender:   testAddr(1),
		borrower: testAddr(2),
	}
	f.manager = state.NewManager(storage.NewMemDB())
	f.engine = lending.NewEngine(f.vault, f.admin, lending.Params{OwnerFeeBps: 1_000, PenaltyBps: 500, GracePeriod: 3_600})
	f.engine.SetState(f.manager)
	f.ledger = bank.NewLedger(f.manager)
	f.engine.SetTransferService(f.ledger)
	registry := positions.NewRegistry(f.vault)
	registry.SetState(f.manager)
	f.engine.SetIssuer(positions.NewEngineIssuer(registry))
	pauses := system.NewPauseAuthority(f.admin)
	f.engine.SetPauses(pauses)

	server := NewServer(f.engine, f.ledger, registry, pauses, nil, cfg)
	f.router = server.Router()

	f.fund(t, f.lender, "ABC", 1_000)
	f.fund(t, f.borrower, "XYZ", 2_000)
	return f
}

func (f *fixture) fund(t *testing.T, addr crypto.Address, asset string, amount int64) {
	t.Helper()
	account, err := f.manager.GetAccount(addr)
	require.NoError(t, err)
	if account == nil {
		account = types.NewAccount()
	}
	account.SetBalance(asset, big.NewInt(amount))
	require.NoError(t, f.manager.PutAccount(addr, account))
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/v1/bank/approve", map[string]string{
		"owner": f.lender.String(), "asset": "ABC", "amount": "1000",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/offers", map[string]any{
		"lender": f.lender.String(), "lendAsset": "ABC", "amount": "600",
		"rateBps": 800, "durationSeconds": 86_400, "collateralAsset": "XYZ",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offerID := decodeBody[idResponse](t, rec).ID
	require.EqualValues(t, 1, offerID)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/offers/%d", offerID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	offer := decodeBody[lending.Offer](t, rec)
	require.True(t, offer.Active)
	require.Equal(t, "ABC", offer.LendAsset)

	rec = f.do(t, http.MethodPost, "/v1/bank/approve", map[string]string{
		"owner": f.borrower.String(), "asset": "XYZ", "amount": "900",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/offers/%d/accept", offerID), map[string]string{
		"borrower": f.borrower.String(), "collateralAmount": "900",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loanID := decodeBody[loanResponse](t, rec).LoanID
	require.EqualValues(t, 1, loanID)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/loans/%d", loanID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	loan := decodeBody[lending.Loan](t, rec)
	require.Equal(t, "600", loan.Principal.String())
	require.False(t, loan.Closed())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/loans/%d/interest", loanID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", decodeBody[interestResponse](t, rec).Interest)

	// Immediate repayment: zero interest, principal only.
	rec = f.do(t, http.MethodPost, "/v1/bank/approve", map[string]string{
		"owner": f.borrower.String(), "asset": "ABC", "amount": "600",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/loans/%d/repay", loanID), map[string]string{
		"borrower": f.borrower.String(),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/bank/balances/%s/ABC", f.lender.String()), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", decodeBody[balanceResponse](t, rec).Balance)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/loans/%d", loanID), nil, "")
	loan = decodeBody[lending.Loan](t, rec)
	require.True(t, loan.Repaid)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/v1/loans/99", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/offers/99/cancel", map[string]string{"caller": f.lender.String()}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/offers", map[string]any{
		"lender": f.lender.String(), "lendAsset": "ABC", "amount": "not-a-number",
		"rateBps": 800, "durationSeconds": 86_400, "collateralAsset": "XYZ",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/loans/99", nil, "")
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func signToken(t *testing.T, secret, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "lendledger-test",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scope,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthEnforcement(t *testing.T) {
	const secret = "test-secret"
	f := newFixture(t, Config{Auth: AuthConfig{Enabled: true, HMACSecret: secret, Issuer: "lendledger-test"}})

	// Reads stay public.
	rec := f.do(t, http.MethodGet, "/v1/fees/ABC", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := map[string]string{"owner": f.lender.String(), "asset": "ABC", "amount": "100"}
	rec = f.do(t, http.MethodPost, "/v1/bank/approve", body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	userToken := signToken(t, secret, "ledger")
	rec = f.do(t, http.MethodPost, "/v1/bank/approve", body, userToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Admin surface needs the admin scope.
	pauseBody := map[string]string{"caller": f.admin.String()}
	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pauseBody, userToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := signToken(t, secret, "ledger admin")
	rec = f.do(t, http.MethodPost, "/v1/admin/pause", pauseBody, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Mutations fail while paused; the breaker maps to 503.
	rec = f.do(t, http.MethodPost, "/v1/offers", map[string]any{
		"lender": f.lender.String(), "lendAsset": "ABC", "amount": "100",
		"rateBps": 800, "durationSeconds": 86_400, "collateralAsset": "XYZ",
	}, userToken)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Only the configured admin address may resume.
	rec = f.do(t, http.MethodPost, "/v1/admin/resume", map[string]string{"caller": f.lender.String()}, adminToken)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/admin/resume", pauseBody, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	// Tokens signed with the wrong key are rejected.
	badToken := signToken(t, "other-secret", "ledger")
	rec = f.do(t, http.MethodPost, "/v1/bank/approve", body, badToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminParamEndpoints(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/v1/admin/params/owner-fee", map[string]any{
		"caller": f.admin.String(), "bps": 2_000,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 2_000, f.engine.Params().OwnerFeeBps)

	// Non-admin callers bounce with 403 regardless of transport auth.
	rec = f.do(t, http.MethodPost, "/v1/admin/params/owner-fee", map[string]any{
		"caller": f.lender.String(), "bps": 100,
	}, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/params/caps", map[string]any{
		"caller": f.admin.String(), "global": "1000000",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1000000", f.engine.Params().Limits.MaxPrincipalGlobal.String())

	rec = f.do(t, http.MethodPost, "/v1/admin/params/grace-period", map[string]any{
		"caller": f.admin.String(), "seconds": 7_200,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 7_200, f.engine.Params().GracePeriod)

	rec = f.do(t, http.MethodPost, "/v1/admin/params/max-duration", map[string]any{
		"caller": f.admin.String(), "seconds": 30 * 86_400,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/admin/params/collateral-validation", map[string]any{
		"caller": f.admin.String(), "enabled": true,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, f.engine.Params().ValidateCollateral)

	rec = f.do(t, http.MethodPost, "/v1/admin/swap-whitelist", map[string]any{
		"caller": f.admin.String(), "service": testAddr(0x50).String(), "allowed": true,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGuardianEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	guardian := testAddr(0x60)

	// Only the admin may install a guardian.
	rec := f.do(t, http.MethodPost, "/v1/admin/guardian", map[string]string{
		"caller": f.lender.String(), "guardian": guardian.String(),
	}, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/guardian", map[string]string{
		"caller": f.admin.String(), "guardian": guardian.String(),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The guardian may pause but not resume.
	rec = f.do(t, http.MethodPost, "/v1/admin/pause", map[string]string{"caller": guardian.String()}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/admin/resume", map[string]string{"caller": guardian.String()}, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/admin/resume", map[string]string{"caller": f.admin.String()}, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	f := newFixture(t, Config{RateLimitPerMin: 1})

	var limited bool
	for i := 0; i < 10; i++ {
		rec := f.do(t, http.MethodGet, "/healthz", nil, "")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.True(t, limited, "rate limiter never engaged")
}
