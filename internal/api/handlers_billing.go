package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/SiteGenerator/internal/models"
)

type openPaymentRequest struct {
	Plan string `json:"plan"`
}

type confirmPaymentRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	plans, err := s.catalog.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"plans": plans}
	if user := currentUser(r); user != nil {
		overview, err := s.billing.Subscription(r.Context(), user)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp["current_plan"] = overview.Profile.Plan
		resp["remaining"] = overview.Remaining
		resp["subscription_active"] = overview.Active
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenPayment(w http.ResponseWriter, r *http.Request) {
	var req openPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan := models.Plan(strings.ToLower(strings.TrimSpace(req.Plan)))
	if !plan.Paid() {
		s.writeError(w, r, badRequest("Invalid plan selected."))
		return
	}
	checkout, err := s.billing.OpenPayment(r.Context(), currentUser(r), plan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

func (s *Server) handlePaymentQR(w http.ResponseWriter, r *http.Request) {
	png, err := s.billing.QRCode(r.Context(), chi.URLParam(r, "txn"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.confirm(w, r, req.TransactionID)
}

func (s *Server) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	s.confirm(w, r, r.URL.Query().Get("txn_id"))
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request, txnID string) {
	confirmation, err := s.billing.Confirm(r.Context(), txnID, currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message := fmt.Sprintf("Payment successful! Your %s plan is now active.", confirmation.Payment.Plan)
	if confirmation.AlreadyProcessed {
		message = "This payment has already been processed."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment":           confirmation.Payment,
		"profile":           confirmation.Profile,
		"already_processed": confirmation.AlreadyProcessed,
		"message":           message,
	})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	overview, err := s.billing.Subscription(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if overview.RecentPayments == nil {
		overview.RecentPayments = []models.Payment{}
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	profile, err := s.billing.CancelSubscription(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": profile,
		"message": "Your subscription has been cancelled. You are now on the free plan.",
	})
}
