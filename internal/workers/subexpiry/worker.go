package subexpiry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Worker deactivates users whose subscription window has ended. Content
// access reads the is_active flag, so the sweep is what actually closes
// the paywall after the end date.
type Worker struct {
	storage Storage
	users   Deactivator
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewWorker creates a new subscription expiry worker
func NewWorker(storage Storage, userService Deactivator, logger *slog.Logger) *Worker {
	return &Worker{
		storage: storage,
		users:   userService,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Name returns the worker name
func (w *Worker) Name() string {
	return "subscription-expiry"
}

// Start starts the expiry worker
func (w *Worker) Start() error {
	// Runs daily at 00:10
	_, err := w.cron.AddFunc("10 0 * * *", func() {
		ctx := context.Background()
		w.logger.Info("Running subscription expiry worker")
		if err := w.Run(ctx); err != nil {
			w.logger.Error("Subscription expiry worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule subscription expiry worker: %w", err)
	}

	w.cron.Start()
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping subscription expiry worker")
	w.cron.Stop()
}

// Run executes one sweep.
func (w *Worker) Run(ctx context.Context) error {
	lapsed, err := w.storage.ListLapsedActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list lapsed users: %w", err)
	}

	w.logger.Info("Found lapsed subscriptions", "count", len(lapsed))

	for _, user := range lapsed {
		if err := w.users.Deactivate(ctx, user.ID); err != nil {
			w.logger.Error("Failed to deactivate user",
				"user_id", user.ID,
				"error", err)
			continue
		}

		w.logger.Info("Subscription lapsed, user deactivated",
			"user_id", user.ID,
			"subscription_end", user.SubscriptionEnd)
	}

	return nil
}
