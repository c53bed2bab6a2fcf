package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/banking"
)

type bankingSettingsRequest struct {
	RefreshRate int `json:"refreshRate" validate:"required,min=1,max=1440"`
}

type accountsResponse struct {
	Accounts     []banking.Account     `json:"accounts"`
	Transactions []banking.Transaction `json:"transactions"`
}

type connectResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, accountsResponse{
		Accounts:     s.banking.Accounts(),
		Transactions: s.banking.RecentTransactions(0),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.banking.Account(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.banking.Transactions(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleBankConnect(w http.ResponseWriter, r *http.Request) {
	conn := s.banking.Connect()
	writeJSON(w, http.StatusOK, connectResponse{
		Success:      true,
		Message:      "Bankverbindung erfolgreich eingerichtet",
		ConnectionID: conn.ID,
	})
}

func (s *Server) handleBankDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.banking.RemoveConnection(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Bankverbindung erfolgreich entfernt"})
}

func (s *Server) handleBankingSettings(w http.ResponseWriter, r *http.Request) {
	var req bankingSettingsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.store.UpdateBankingRefresh(auth.UserIDFromContext(r.Context()), req.RefreshRate); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Einstellungen erfolgreich aktualisiert"})
}
