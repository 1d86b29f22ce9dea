package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"autoclose-bot/internal/executor"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	sendTimeout = 10 * time.Second
	queueSize   = 32
)

var ErrQueueFull = errors.New("telegram queue full, message dropped")

// Telegram sends close notifications to one chat. NotifyClose only queues
// the message; a single worker delivers them in order.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint, log)
}

// NewTelegramWithEndpoint lets tests and self-hosted bot API servers
// replace api.telegram.org. endpoint must contain two %s verbs.
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string, log *zap.Logger) (*Telegram, error) {
	return newTelegram(token, chatID, endpoint, sendTimeout, log)
}

func newTelegram(token string, chatID int64, endpoint string, timeout time.Duration, log *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram bot_token and chat_id are required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	log = log.Named("telegram")
	log.Info("telegram notifications enabled", zap.String("bot", bot.Self.UserName))
	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
	go t.worker()
	return t, nil
}

func (t *Telegram) worker() {
	defer close(t.done)
	for text := range t.queue {
		if err := t.Notify(context.Background(), text); err != nil {
			t.log.Warn("telegram delivery failed", zap.Error(err))
		}
	}
}

// Notify sends text synchronously. The bot client gives up after sendTimeout.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// NotifyClose queues a close report without waiting for delivery.
func (t *Telegram) NotifyClose(ctx context.Context, reason string, res executor.CloseResult) error {
	select {
	case t.queue <- FormatClose(reason, res):
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for the queued ones to be sent.
// NotifyClose must not be called after Close.
func (t *Telegram) Close() {
	t.closeOnce.Do(func() { close(t.queue) })
	<-t.done
}

// FormatClose renders a close attempt as a short plain-text message.
func FormatClose(reason string, res executor.CloseResult) string {
	var b strings.Builder
	if res.Success {
		fmt.Fprintf(&b, "Closed %s %s %s\n", res.Side, res.Quantity, res.Symbol)
	} else {
		fmt.Fprintf(&b, "FAILED to close %s %s %s\n", res.Side, res.Quantity, res.Symbol)
	}
	fmt.Fprintf(&b, "reason: %s\n", reason)
	fmt.Fprintf(&b, "pnl: %s\n", res.PnL.StringFixed(4))
	fmt.Fprintf(&b, "method: %s", res.Method)
	if res.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", res.Err)
	}
	return b.String()
}
