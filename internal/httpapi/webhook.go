package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"gazeta-billing/internal/infra/yookassa"
	"gazeta-billing/internal/metrics"
	"gazeta-billing/internal/stories/billing"
)

const webhookSecretHeader = "X-Webhook-Secret"

// providerNotification is the push payload the provider delivers. Only
// the fields the engine needs are decoded; everything else is ignored.
type providerNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID            string     `json:"id"`
		Status        string     `json:"status"`
		CapturedAt    *time.Time `json:"captured_at"`
		PaymentMethod *struct {
			Type string `json:"type"`
		} `json:"payment_method"`
		CancellationDetails *struct {
			Party  string `json:"party"`
			Reason string `json:"reason"`
		} `json:"cancellation_details"`
	} `json:"object"`
}

// paymentWebhook ingests provider push notifications. Delivery is
// at-least-once: duplicates and races with manual verification resolve in
// the conditional transition inside the billing service, so everything
// durably processed is acknowledged with 200. Only transport and auth
// failures return non-200 and prompt a provider retry.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateWebhook(r) {
		metrics.WebhooksReceived.WithLabelValues("auth_failed").Inc()
		h.logger.Warn("Webhook authentication failed",
			"remote_addr", r.RemoteAddr,
			"has_secret_header", r.Header.Get(webhookSecretHeader) != "",
		)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	var notification providerNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		metrics.WebhooksReceived.WithLabelValues("bad_payload").Inc()
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}
	if notification.Object.ID == "" {
		metrics.WebhooksReceived.WithLabelValues("bad_payload").Inc()
		writeError(w, http.StatusBadRequest, "notification without invoice id")
		return
	}

	state := notificationState(notification)
	h.logger.Info("Webhook received",
		"event", notification.Event,
		"invoice_id", notification.Object.ID,
		"provider_status", notification.Object.Status,
		"status", state.Status,
	)

	result, err := h.billing.Finalize(r.Context(), notification.Object.ID, state)
	switch {
	case errors.Is(err, billing.ErrPaymentNotFound):
		// Локальной записи нет — фабриковать её нельзя. Подтверждаем
		// доставку, чтобы провайдер не ретраил впустую.
		metrics.WebhooksReceived.WithLabelValues("not_found").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"result": "payment not found"})
	case err != nil:
		// Ошибка хранилища: состояние не изменилось, ретрай провайдера
		// безопасен и желателен.
		metrics.WebhooksReceived.WithLabelValues("error").Inc()
		h.logger.Error("Failed to process webhook", "error", err, "invoice_id", notification.Object.ID)
		writeError(w, http.StatusInternalServerError, "processing failed")
	default:
		metrics.WebhooksReceived.WithLabelValues(string(result.Outcome)).Inc()
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
	}
}

func (h *Handler) authenticateWebhook(r *http.Request) bool {
	if h.webhookSecret == "" {
		// Пустой секрет допустим только при явном allow-insecure
		// (не-прод окружения); см. env.Setup.
		return h.allowInsecure
	}
	got := r.Header.Get(webhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) == 1
}

func notificationState(n providerNotification) billing.InvoiceState {
	var reason string
	if n.Object.CancellationDetails != nil {
		reason = n.Object.CancellationDetails.Reason
	}

	state := billing.InvoiceState{
		Status: yookassa.MapStatus(n.Object.Status, reason),
		PaidAt: n.Object.CapturedAt,
	}
	if n.Object.PaymentMethod != nil && n.Object.PaymentMethod.Type != "" {
		method := n.Object.PaymentMethod.Type
		state.PaymentMethod = &method
	}
	return state
}
