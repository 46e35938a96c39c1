package environment

import (
	"context"
	"log/slog"
	"time"

	"gazeta-billing/internal/config"
	"gazeta-billing/internal/infra/sqlite3"
	"gazeta-billing/internal/infra/telegram"
	"gazeta-billing/internal/infra/yookassa"
)

type Clients struct {
	SQLiteDB *sqlite3.DB
	Provider *yookassa.Client
	Notifier *telegram.Notifier
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := yookassa.NewClient(yookassa.Config{
		ShopID:    cfg.Provider.ShopID,
		SecretKey: cfg.Provider.SecretKey,
		ReturnURL: cfg.Provider.SuccessURL,
		Timeout:   cfg.Provider.Timeout,
		Mock:      cfg.Provider.Mock,
		RateRPS:   cfg.Provider.RateLimit.RPS,
		RateBurst: cfg.Provider.RateLimit.Burst,
	}, logger.WithGroup("yookassa"))
	if err != nil {
		return nil, err
	}

	notifier, err := provideNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Clients{
		SQLiteDB: sqliteDB,
		Provider: provider,
		Notifier: notifier,
	}, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	maxLifetimeStr := cfg.DB.MaxLifetime
	if maxLifetimeStr == "" {
		maxLifetimeStr = "5m"
	}
	maxLifetime, err := time.ParseDuration(maxLifetimeStr)
	if err != nil {
		return nil, err
	}

	opts := []sqlite3.Option{
		sqlite3.WithDSN(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(maxLifetime),
	}

	return sqlite3.New(ctx, opts...)
}

func provideNotifier(cfg config.Config, logger *slog.Logger) (*telegram.Notifier, error) {
	// Алертинг опционален: без токена движок работает молча
	if cfg.Telegram.BotToken == "" || cfg.Telegram.AdminChatID == 0 {
		return nil, nil
	}

	return telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, logger.WithGroup("telegram"))
}
