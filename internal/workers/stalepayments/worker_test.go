package stalepayments

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"gazeta-billing/internal/stories/billing"
)

func seedPayment(storage *billing.MockStorage, id int64, status billing.Status, age time.Duration) {
	storage.Payments[id] = &billing.Payment{
		ID:        id,
		UserID:    1,
		InvoiceID: "inv-stale-test",
		Status:    status,
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func TestRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("expires pending payments past the timeout", func(t *testing.T) {
		storage := billing.NewMockStorage()
		seedPayment(storage, 1, billing.StatusPending, 2*time.Hour)
		seedPayment(storage, 2, billing.StatusPending, 3*time.Hour)

		w := NewWorker(storage, "*/10 * * * *", time.Hour, logger)
		if err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}

		for _, id := range []int64{1, 2} {
			if got := storage.Payments[id].Status; got != billing.StatusExpired {
				t.Errorf("payment %d status = %s, want %s", id, got, billing.StatusExpired)
			}
		}
	})

	t.Run("leaves fresh pending payments alone", func(t *testing.T) {
		storage := billing.NewMockStorage()
		seedPayment(storage, 1, billing.StatusPending, 10*time.Minute)

		w := NewWorker(storage, "*/10 * * * *", time.Hour, logger)
		if err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if got := storage.Payments[1].Status; got != billing.StatusPending {
			t.Errorf("fresh payment status = %s, want %s", got, billing.StatusPending)
		}
	})

	t.Run("never touches finalized payments", func(t *testing.T) {
		storage := billing.NewMockStorage()
		seedPayment(storage, 1, billing.StatusPaid, 5*time.Hour)
		seedPayment(storage, 2, billing.StatusFailed, 5*time.Hour)

		w := NewWorker(storage, "*/10 * * * *", time.Hour, logger)
		if err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if got := storage.Payments[1].Status; got != billing.StatusPaid {
			t.Errorf("paid payment status = %s, must stay paid", got)
		}
		if got := storage.Payments[2].Status; got != billing.StatusFailed {
			t.Errorf("failed payment status = %s, must stay failed", got)
		}
	})

	t.Run("empty sweep is a no-op", func(t *testing.T) {
		storage := billing.NewMockStorage()

		w := NewWorker(storage, "*/10 * * * *", time.Hour, logger)
		if err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
	})
}
