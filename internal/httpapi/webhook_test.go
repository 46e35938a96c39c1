package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"

	"gazeta-billing/internal/stories/billing"
	"gazeta-billing/internal/stories/plans"
	"gazeta-billing/internal/stories/users"
)

const testSecret = "whsec-test"

type testEnv struct {
	handler *Handler
	storage *billing.MockStorage
	service *billing.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog, err := plans.NewCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage := billing.NewMockStorage()
	service := billing.NewService(storage, &billing.MockProvider{}, catalog, nil, 7, logger)
	userService := users.NewService(storage)

	return &testEnv{
		handler: NewHandler(service, userService, catalog, testSecret, false, logger),
		storage: storage,
		service: service,
	}
}

func (e *testEnv) issuePayment(t *testing.T) *billing.Payment {
	t.Helper()

	e.storage.AddUser(users.User{ID: 1, Email: "reader@example.com"})
	result, err := e.service.IssueInvoice(context.Background(), 1, "monthly")
	if err != nil {
		t.Fatalf("IssueInvoice: %v", err)
	}
	payment, err := e.storage.GetPayment(context.Background(), billing.GetCriteria{ID: &result.PaymentID})
	if err != nil || payment == nil {
		t.Fatalf("payment not persisted: %v", err)
	}
	return payment
}

func webhookRequest(secret, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(webhookSecretHeader, secret)
	}
	return req
}

func paidNotification(invoiceID string) string {
	return `{
		"event": "payment.succeeded",
		"object": {
			"id": "` + invoiceID + `",
			"status": "succeeded",
			"payment_method": {"type": "bank_card"}
		}
	}`
}

func TestPaymentWebhook(t *testing.T) {
	t.Run("rejects missing secret", func(t *testing.T) {
		env := newTestEnv(t)
		payment := env.issuePayment(t)

		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest("", paidNotification(payment.InvoiceID)))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d, want 401", rec.Code)
		}

		current, _ := env.storage.GetPayment(context.Background(), billing.GetCriteria{ID: &payment.ID})
		if current.Status != billing.StatusPending {
			t.Errorf("unauthenticated webhook mutated payment to %s", current.Status)
		}
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		env := newTestEnv(t)
		payment := env.issuePayment(t)

		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest("whsec-wrong", paidNotification(payment.InvoiceID)))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d, want 401", rec.Code)
		}
	})

	t.Run("paid event finalizes the payment", func(t *testing.T) {
		env := newTestEnv(t)
		payment := env.issuePayment(t)

		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest(testSecret, paidNotification(payment.InvoiceID)))

		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200, body %s", rec.Code, rec.Body.String())
		}

		current, _ := env.storage.GetPayment(context.Background(), billing.GetCriteria{ID: &payment.ID})
		if current.Status != billing.StatusPaid {
			t.Errorf("payment status = %s, want paid", current.Status)
		}
		if current.PaymentMethod == nil || *current.PaymentMethod != "bank_card" {
			t.Errorf("payment method = %v, want bank_card", current.PaymentMethod)
		}

		user, _ := env.storage.GetUser(context.Background(), users.GetCriteria{ID: lo.ToPtr(int64(1))})
		if user.SubscriptionEnd == nil || !user.IsActive {
			t.Error("subscription not extended by webhook")
		}
	})

	t.Run("duplicate deliveries are acknowledged without effect", func(t *testing.T) {
		env := newTestEnv(t)
		payment := env.issuePayment(t)

		var firstEnd *time.Time
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			env.handler.Mux().ServeHTTP(rec, webhookRequest(testSecret, paidNotification(payment.InvoiceID)))
			if rec.Code != http.StatusOK {
				t.Fatalf("delivery %d code = %d, want 200", i, rec.Code)
			}

			user, _ := env.storage.GetUser(context.Background(), users.GetCriteria{ID: lo.ToPtr(int64(1))})
			if firstEnd == nil {
				firstEnd = user.SubscriptionEnd
			} else if !user.SubscriptionEnd.Equal(*firstEnd) {
				t.Fatalf("delivery %d moved subscription end to %v", i, user.SubscriptionEnd)
			}
		}
	})

	t.Run("cancellation with expiry reason expires the payment", func(t *testing.T) {
		env := newTestEnv(t)
		payment := env.issuePayment(t)

		body := `{
			"event": "payment.canceled",
			"object": {
				"id": "` + payment.InvoiceID + `",
				"status": "canceled",
				"cancellation_details": {"party": "yoo_money", "reason": "expired_on_confirmation"}
			}
		}`
		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest(testSecret, body))

		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200", rec.Code)
		}
		current, _ := env.storage.GetPayment(context.Background(), billing.GetCriteria{ID: &payment.ID})
		if current.Status != billing.StatusExpired {
			t.Errorf("payment status = %s, want expired", current.Status)
		}
	})

	t.Run("unknown invoice is acknowledged", func(t *testing.T) {
		env := newTestEnv(t)

		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest(testSecret, paidNotification("inv-nobody")))

		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200 ack", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "payment not found") {
			t.Errorf("body = %s, want not-found ack", rec.Body.String())
		}
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		env := newTestEnv(t)

		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest(testSecret, "{not json"))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %d, want 400", rec.Code)
		}
	})

	t.Run("notification without invoice id is rejected", func(t *testing.T) {
		env := newTestEnv(t)

		rec := httptest.NewRecorder()
		env.handler.Mux().ServeHTTP(rec, webhookRequest(testSecret, `{"event":"payment.succeeded","object":{"status":"succeeded"}}`))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %d, want 400", rec.Code)
		}
	})
}
