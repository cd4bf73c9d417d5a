package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-warehouse/internal/config"
)

// maxMessageLen is the Telegram limit for one text message.
const maxMessageLen = 4096

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, subject, text string) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Log writes alerts to the log only.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, subject, text string) error {
	l.Logger.Warn("Operator alert", zap.String("subject", subject), zap.String("text", text))
	return nil
}

// Bot sends alerts to one chat through the Telegram Bot API.
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewBot authorizes the bot token. endpoint may be empty for the public API.
func NewBot(token string, chatID int64, endpoint string, client *http.Client, logger *zap.Logger) (*Bot, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{api: api, chatID: chatID, logger: logger}, nil
}

// Notify sends "subject\n\ntext" to the configured chat, truncated to the
// message size limit.
func (b *Bot) Notify(ctx context.Context, subject, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(b.chatID, truncate(subject+"\n\n"+text, maxMessageLen))
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	b.logger.Debug("Alert sent", zap.String("subject", subject), zap.Int64("chat_id", b.chatID))
	return nil
}

// New builds the notifier described by cfg: a Bot when notifications are
// enabled, otherwise a Log notifier.
func New(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	if !cfg.Enabled || cfg.BotToken == "" {
		logger.Info("Telegram alerts are disabled (notify.enabled=false or token is empty)")
		return Log{Logger: logger}, nil
	}
	return NewBot(cfg.BotToken, cfg.ChatID, "", nil, logger)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	for i, r := range []rune(s) {
		if i == n-1 {
			break
		}
		b.WriteRune(r)
	}
	b.WriteString("…")
	return b.String()
}
