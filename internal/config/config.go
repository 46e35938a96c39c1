package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	API              APIHTTPConfig           `env:",prefix=API_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Provider         ProviderConfig          `env:",prefix=PROVIDER_"`
	Webhook          WebhookConfig           `env:",prefix=WEBHOOK_"`
	Billing          BillingConfig           `env:",prefix=BILLING_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
}

func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

type ProviderConfig struct {
	ShopID     string        `env:"SHOP_ID,required"`
	SecretKey  string        `env:"SECRET_KEY,required"`
	SuccessURL string        `env:"SUCCESS_URL,default=https://example.com/payment/success"`
	Timeout    time.Duration `env:"TIMEOUT,default=30s"`
	Mock       bool          `env:"MOCK,default=false"`
	RateLimit  struct {
		Burst int     `env:"BURST,default=1"`
		RPS   float64 `env:"RPS,default=10.0"`
	} `env:",prefix=RATE_LIMIT_"`
}

type WebhookConfig struct {
	Secret        string `env:"SECRET"`
	AllowInsecure bool   `env:"ALLOW_INSECURE,default=false"`
}

type BillingConfig struct {
	PendingTimeout time.Duration `env:"PENDING_TIMEOUT,default=1h"`
	SweepSchedule  string        `env:"SWEEP_SCHEDULE,default=*/10 * * * *"`
	TrialDays      int           `env:"TRIAL_DAYS,default=7"`
}

type TelegramConfig struct {
	BotToken    string `env:"BOT_TOKEN"`
	AdminChatID int64  `env:"ADMIN_CHAT_ID"`
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type APIHTTPConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         uint16        `env:"PORT,default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a APIHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string `env:"PATH,default=./data/gazeta.db"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS,default=5"`
	MaxLifetime  string `env:"MAX_LIFETIME,default=5m"`
}
