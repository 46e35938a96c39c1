package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"gazeta-billing/internal/stories/billing"
)

type createSubscriptionRequest struct {
	UserID int64  `json:"user_id"`
	PlanID string `json:"plan_id"`
}

type createSubscriptionResponse struct {
	PaymentID  int64  `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 || req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "user_id and plan_id are required")
		return
	}

	result, err := h.billing.IssueInvoice(r.Context(), req.UserID, req.PlanID)
	switch {
	case errors.Is(err, billing.ErrPlanNotFound):
		writeError(w, http.StatusBadRequest, "unknown plan")
	case errors.Is(err, billing.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case err != nil:
		// Провайдер недоступен или отказал — локально ничего не создано,
		// повтор это явное решение клиента.
		h.logger.Error("Failed to issue invoice", "error", err, "user_id", req.UserID)
		writeError(w, http.StatusBadGateway, "could not start payment, try again")
	default:
		writeJSON(w, http.StatusOK, createSubscriptionResponse{
			PaymentID:  result.PaymentID,
			PaymentURL: result.PaymentURL,
		})
	}
}

type startTrialRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *Handler) startTrial(w http.ResponseWriter, r *http.Request) {
	var req startTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	user, err := h.billing.StartTrial(r.Context(), req.UserID)
	switch {
	case errors.Is(err, billing.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, billing.ErrTrialAlreadyUsed):
		writeError(w, http.StatusConflict, "trial already used")
	case err != nil:
		h.logger.Error("Failed to start trial", "error", err, "user_id", req.UserID)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"subscription_end": user.SubscriptionEnd,
		})
	}
}

type verifyPaymentResponse struct {
	Status          string     `json:"status"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	invoiceID := r.URL.Query().Get("invoice_id")
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}

	result, err := h.billing.Verify(r.Context(), caller, invoiceID)
	switch {
	case errors.Is(err, billing.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, billing.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not your payment")
	case err != nil:
		h.logger.Error("Failed to verify payment", "error", err, "invoice_id", invoiceID)
		writeError(w, http.StatusBadGateway, "verification temporarily unavailable, try again")
	default:
		writeJSON(w, http.StatusOK, verifyPaymentResponse{
			Status:          string(result.Status),
			SubscriptionEnd: result.SubscriptionEnd,
		})
	}
}

type paymentItem struct {
	ID         int64      `json:"id"`
	PlanID     string     `json:"plan_id"`
	Amount     float64    `json:"amount"`
	Currency   string     `json:"currency"`
	Status     string     `json:"status"`
	InvoiceURL string     `json:"invoice_url"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	payments, err := h.billing.ListPayments(r.Context(), billing.ListCriteria{
		UserID: &caller,
		Limit:  100,
	})
	if err != nil {
		h.logger.Error("Failed to list payments", "error", err, "user_id", caller)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]paymentItem, 0, len(payments))
	for _, p := range payments {
		items = append(items, paymentItem{
			ID:         p.ID,
			PlanID:     p.PlanID,
			Amount:     p.Amount,
			Currency:   p.Currency,
			Status:     string(p.Status),
			InvoiceURL: p.InvoiceURL,
			PaidAt:     p.PaidAt,
			CreatedAt:  p.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"payments": items})
}

type subscriptionResponse struct {
	Tier              string     `json:"tier"`
	IsActive          bool       `json:"is_active"`
	TrialUsed         bool       `json:"trial_used"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	user, err := h.users.GetUser(r.Context(), caller)
	if err != nil {
		h.logger.Error("Failed to get user", "error", err, "user_id", caller)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{
		Tier:              string(user.SubscriptionTier),
		IsActive:          user.IsActive,
		TrialUsed:         user.TrialUsed,
		SubscriptionStart: user.SubscriptionStart,
		SubscriptionEnd:   user.SubscriptionEnd,
	})
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": h.catalog.List()})
}
