package rpc

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type balanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := strings.ToUpper(chi.URLParam(r, "asset"))
	balance, err := s.ledger.BalanceOf(addr, asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{Address: addr.String(), Asset: asset, Balance: balance.String()})
}

type approveRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// handleApprove grants the engine's vault the right to pull the stated amount
// from the owner. Escrowing operations fail without a standing approval.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddr(req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.Approve(owner, s.engine.Vault(), req.Asset, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type bankTransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleBankTransfer(w http.ResponseWriter, r *http.Request) {
	var req bankTransferRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseAddr(req.From)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddr(req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.Transfer(req.Asset, from, to, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}
