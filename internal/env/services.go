package environment

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"gazeta-billing/internal/config"
	"gazeta-billing/internal/httpapi"
	"gazeta-billing/internal/storage"
	"gazeta-billing/internal/stories/billing"
	"gazeta-billing/internal/stories/plans"
	"gazeta-billing/internal/stories/users"
	"gazeta-billing/internal/workers"
	"gazeta-billing/internal/workers/stalepayments"
	"gazeta-billing/internal/workers/subexpiry"
)

type Services struct {
	Billing    *billing.Service
	Users      *users.Service
	Catalog    *plans.Catalog
	API        *httpapi.Handler
	WorkerPool *workers.Manager
}

func newServices(ctx context.Context, clients *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	var s Services

	storageImpl := storage.New(clients.SQLiteDB.DB)
	if err := storageImpl.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}

	catalog, err := plans.NewCatalog()
	if err != nil {
		return nil, errors.Wrap(err, "load plan catalog")
	}
	s.Catalog = catalog

	// Интерфейсный nil-трюк: типизированный nil-указатель не должен
	// попасть в billing.Notifier
	var notifier billing.Notifier
	if clients.Notifier != nil {
		notifier = clients.Notifier
	}

	s.Billing = billing.NewService(
		storageImpl,
		clients.Provider,
		catalog,
		notifier,
		cfg.Billing.TrialDays,
		logger.WithGroup("billing"),
	)

	s.Users = users.NewService(storageImpl)

	s.API = httpapi.NewHandler(
		s.Billing,
		s.Users,
		catalog,
		cfg.Webhook.Secret,
		cfg.Webhook.AllowInsecure,
		logger.WithGroup("api"),
	)

	s.WorkerPool = workers.NewManager(
		logger.WithGroup("workers"),
		stalepayments.NewWorker(
			storageImpl,
			cfg.Billing.SweepSchedule,
			cfg.Billing.PendingTimeout,
			logger.WithGroup("stale-payments"),
		),
		subexpiry.NewWorker(
			storageImpl,
			s.Users,
			logger.WithGroup("subscription-expiry"),
		),
	)

	return &s, nil
}
