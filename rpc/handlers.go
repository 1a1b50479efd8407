package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendledger/crypto"
)

func parseAddr(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func (s *Server) decode(r *http.Request, into any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- offers ---

type createOfferRequest struct {
	Lender             string `json:"lender"`
	LendAsset          string `json:"lendAsset"`
	Amount             string `json:"amount"`
	RateBps            uint64 `json:"rateBps"`
	DurationSeconds    int64  `json:"durationSeconds"`
	CollateralAsset    string `json:"collateralAsset"`
	CollateralRatioBps uint64 `json:"collateralRatioBps"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	lender, err := parseAddr(req.Lender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.engine.CreateOffer(lender, req.LendAsset, amount, req.RateBps, req.DurationSeconds, req.CollateralAsset, req.CollateralRatioBps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req callerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.CancelOffer(caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type acceptOfferRequest struct {
	Borrower         string `json:"borrower"`
	CollateralAmount string `json:"collateralAmount"`
}

type loanResponse struct {
	LoanID uint64 `json:"loanId"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req acceptOfferRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := parseAddr(req.Borrower)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount(req.CollateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loanID, err := s.engine.AcceptOffer(borrower, id, collateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loanResponse{LoanID: loanID})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := s.engine.GetOffer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offer)
}

// --- requests ---

type createBorrowRequest struct {
	Borrower         string `json:"borrower"`
	BorrowAsset      string `json:"borrowAsset"`
	Amount           string `json:"amount"`
	MaxRateBps       uint64 `json:"maxRateBps"`
	DurationSeconds  int64  `json:"durationSeconds"`
	CollateralAsset  string `json:"collateralAsset"`
	CollateralAmount string `json:"collateralAmount"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createBorrowRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := parseAddr(req.Borrower)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount(req.CollateralAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.engine.CreateRequest(borrower, req.BorrowAsset, amount, req.MaxRateBps, req.DurationSeconds, req.CollateralAsset, collateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req callerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.CancelRequest(caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type acceptBorrowRequest struct {
	Lender string `json:"lender"`
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req acceptBorrowRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	lender, err := parseAddr(req.Lender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loanID, err := s.engine.AcceptRequest(lender, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loanResponse{LoanID: loanID})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	request, err := s.engine.GetRequest(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, request)
}

// --- loans ---

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.engine.GetLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

type interestResponse struct {
	LoanID   uint64 `json:"loanId"`
	Interest string `json:"interest"`
}

func (s *Server) handleGetInterest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	interest, err := s.engine.AccruedInterest(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, interestResponse{LoanID: id, Interest: interest.String()})
}

type repayRequest struct {
	Borrower string `json:"borrower"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req repayRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := parseAddr(req.Borrower)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RepayFull(borrower, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req callerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Liquidate(caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

// --- certificates ---

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cert, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cert)
}

type transferCertRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

func (s *Server) handleTransferCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferCertRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddr(req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.Transfer(caller, id, to); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

// --- fees ---

type feeBalanceResponse struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Server) handleGetFeeBalance(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	balance, err := s.engine.FeeBalance(strings.ToUpper(asset))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feeBalanceResponse{Asset: strings.ToUpper(asset), Balance: balance.String()})
}

type claimFeesRequest struct {
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
}

type claimFeesResponse struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleClaimFees(w http.ResponseWriter, r *http.Request) {
	var req claimFeesRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recipient, err := parseAddr(req.Recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.engine.ClaimFees(caller, req.Asset, recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, claimFeesResponse{Asset: strings.ToUpper(req.Asset), Amount: amount.String()})
}

type claimFeesBatchRequest struct {
	Caller    string   `json:"caller"`
	Assets    []string `json:"assets"`
	Recipient string   `json:"recipient"`
}

type claimFeesBatchResponse struct {
	Amounts []string `json:"amounts"`
}

func (s *Server) handleClaimFeesBatch(w http.ResponseWriter, r *http.Request) {
	var req claimFeesBatchRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recipient, err := parseAddr(req.Recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amounts, err := s.engine.ClaimFeesBatch(caller, req.Assets, recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]string, len(amounts))
	for i, amount := range amounts {
		out[i] = amount.String()
	}
	s.writeJSON(w, http.StatusOK, claimFeesBatchResponse{Amounts: out})
}

// --- pause & parameters ---

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.pauses.Pause(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.pauses.Resume(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type bpsRequest struct {
	Caller string `json:"caller"`
	Bps    uint64 `json:"bps"`
}

func (s *Server) handleSetOwnerFee(w http.ResponseWriter, r *http.Request) {
	var req bpsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetOwnerFeeBps(caller, req.Bps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleSetPenalty(w http.ResponseWriter, r *http.Request) {
	var req bpsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetPenaltyBps(caller, req.Bps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type rateBandRequest struct {
	Caller string `json:"caller"`
	MinBps uint64 `json:"minBps"`
	MaxBps uint64 `json:"maxBps"`
}

func (s *Server) handleSetRateBand(w http.ResponseWriter, r *http.Request) {
	var req rateBandRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetRateBand(caller, req.MinBps, req.MaxBps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type capsRequest struct {
	Caller      string `json:"caller"`
	PerAsset    string `json:"perAsset"`
	PerLender   string `json:"perLender"`
	PerBorrower string `json:"perBorrower"`
	Global      string `json:"global"`
}

func parseOptionalCap(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func (s *Server) handleSetCaps(w http.ResponseWriter, r *http.Request) {
	var req capsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var caps [4]*big.Int
	for i, raw := range []string{req.PerAsset, req.PerLender, req.PerBorrower, req.Global} {
		cap, err := parseOptionalCap(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		caps[i] = cap
	}
	if err := s.engine.SetPrincipalCaps(caller, caps[0], caps[1], caps[2], caps[3]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type secondsRequest struct {
	Caller  string `json:"caller"`
	Seconds int64  `json:"seconds"`
}

func (s *Server) handleSetGracePeriod(w http.ResponseWriter, r *http.Request) {
	var req secondsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetGracePeriod(caller, req.Seconds); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleSetMaxDuration(w http.ResponseWriter, r *http.Request) {
	var req secondsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetMaxDuration(caller, req.Seconds); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type validationRequest struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleSetCollateralValidation(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetCollateralValidation(caller, req.Enabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type whitelistRequest struct {
	Caller  string `json:"caller"`
	Service string `json:"service"`
	Allowed bool   `json:"allowed"`
}

func (s *Server) handleWhitelistSwapService(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	service, err := parseAddr(req.Service)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.WhitelistSwapService(caller, service, req.Allowed); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type guardianRequest struct {
	Caller   string `json:"caller"`
	Guardian string `json:"guardian"`
}

func (s *Server) handleSetGuardian(w http.ResponseWriter, r *http.Request) {
	var req guardianRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	guardian, err := parseAddr(req.Guardian)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.pauses.SetGuardian(caller, guardian); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}
