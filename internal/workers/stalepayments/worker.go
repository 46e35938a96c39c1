package stalepayments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"gazeta-billing/internal/metrics"
	"gazeta-billing/internal/stories/billing"
)

// Worker expires payments stuck in pending past the configured timeout:
// invoices nobody paid and nobody finalized. The conditional transition
// makes the sweep safe to run next to live webhook/verification traffic —
// a payment mid-finalization simply wins the race and the sweep skips it.
type Worker struct {
	storage  Storage
	logger   *slog.Logger
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	now      func() time.Time
}

// NewWorker creates a new stale payment worker
func NewWorker(storage Storage, schedule string, timeout time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		storage:  storage,
		logger:   logger,
		cron:     cron.New(),
		schedule: schedule,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "stale-payments"
}

// Start starts the stale payment worker
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in stale payment worker", "panic", r)
			}
		}()
		ctx := context.Background()
		if err := w.Run(ctx); err != nil {
			w.logger.Error("Stale payment worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule stale payment worker: %w", err)
	}

	w.cron.Start()
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping stale payment worker")
	w.cron.Stop()
}

// Run executes one sweep. Exported so an operator can trigger it by hand.
func (w *Worker) Run(ctx context.Context) error {
	cutoff := w.now().Add(-w.timeout)

	stale, err := w.storage.ListPayments(ctx, billing.ListCriteria{
		Status:       lo.ToPtr(billing.StatusPending),
		CreatedUntil: &cutoff,
	})
	if err != nil {
		return fmt.Errorf("list stale pending payments: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}
	w.logger.Info("Found stale pending payments", "count", len(stale), "cutoff", cutoff)

	for _, p := range stale {
		won, err := w.storage.TransitionPayment(ctx,
			billing.GetCriteria{ID: &p.ID},
			billing.StatusPending,
			billing.UpdateParams{Status: lo.ToPtr(billing.StatusExpired)},
		)
		if err != nil {
			w.logger.Error("Failed to expire payment",
				"payment_id", p.ID,
				"error", err)
			continue
		}
		if !won {
			// Кто-то финализировал платёж между выборкой и переходом.
			w.logger.Info("Payment finalized concurrently, skipping",
				"payment_id", p.ID)
			continue
		}

		metrics.StalePaymentsExpired.Inc()
		w.logger.Info("Stale payment expired",
			"payment_id", p.ID,
			"invoice_id", p.InvoiceID,
			"created_at", p.CreatedAt)
	}

	return nil
}
