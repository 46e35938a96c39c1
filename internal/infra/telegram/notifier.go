package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Notifier pushes operator alerts to an admin chat. Alerts are best
// effort: a delivery failure is logged and dropped, billing never blocks
// on Telegram.
type Notifier struct {
	api     *tgbotapi.BotAPI
	logger  *slog.Logger
	limiter *rate.Limiter
	chatID  int64
}

func NewNotifier(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("создание telegram бота: %w", err)
	}

	// Telegram ограничивает ~30 сообщений в секунду
	limiter := rate.NewLimiter(30, 1)

	return &Notifier{
		api:     bot,
		logger:  logger,
		limiter: limiter,
		chatID:  chatID,
	}, nil
}

func (n *Notifier) Alert(ctx context.Context, text string) {
	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.Error("rate limiting", "error", err)
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("ошибка отправки алерта",
			slog.Int64("chat_id", n.chatID),
			slog.String("error", err.Error()))
	}
}
