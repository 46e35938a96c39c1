package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gazeta-billing/internal/stories/billing"
	"gazeta-billing/internal/stories/plans"
	"gazeta-billing/internal/stories/users"
)

// BillingService is the part of the billing story the API exposes.
type BillingService interface {
	IssueInvoice(ctx context.Context, userID int64, planID string) (*billing.IssueResult, error)
	Finalize(ctx context.Context, invoiceID string, state billing.InvoiceState) (*billing.FinalizeResult, error)
	Verify(ctx context.Context, callerUserID int64, invoiceID string) (*billing.VerifyResult, error)
	StartTrial(ctx context.Context, userID int64) (*users.User, error)
	ListPayments(ctx context.Context, criteria billing.ListCriteria) ([]*billing.Payment, error)
}

// UserService exposes read access to the caller's subscription state.
type UserService interface {
	GetUser(ctx context.Context, userID int64) (*users.User, error)
}

type Handler struct {
	billing       BillingService
	users         UserService
	catalog       *plans.Catalog
	logger        *slog.Logger
	webhookSecret string
	allowInsecure bool
}

func NewHandler(billingService BillingService, userService UserService, catalog *plans.Catalog, webhookSecret string, allowInsecure bool, logger *slog.Logger) *Handler {
	return &Handler{
		billing:       billingService,
		users:         userService,
		catalog:       catalog,
		logger:        logger,
		webhookSecret: webhookSecret,
		allowInsecure: allowInsecure,
	}
}

func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/subscriptions", h.logged(h.createSubscription))
	mux.HandleFunc("POST /api/v1/subscriptions/trial", h.logged(h.startTrial))
	mux.HandleFunc("POST /api/v1/webhooks/payment", h.logged(h.paymentWebhook))
	mux.HandleFunc("GET /api/v1/payments/verify", h.logged(h.verifyPayment))
	mux.HandleFunc("GET /api/v1/payments", h.logged(h.listPayments))
	mux.HandleFunc("GET /api/v1/subscription", h.logged(h.getSubscription))
	mux.HandleFunc("GET /api/v1/plans", h.logged(h.listPlans))
	return mux
}

func (h *Handler) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		h.logger.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	}
}

// callerID извлекает id пользователя, аутентифицированного вышестоящим
// шлюзом. Сам движок аутентификацию не выполняет.
func callerID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
