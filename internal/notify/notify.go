// Package notify pushes critical alerts to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
)

const (
	maxMessageLen = 4096
	sendTimeout   = 10 * time.Second
)

var ErrRateLimited = errors.New("notification rate limited")

// Sender delivers one text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type telegramSender struct {
	bot *telego.Bot
}

func (s telegramSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

type Notifier struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
	dropped atomic.Int64
}

// New returns a Telegram-backed notifier.
func New(cfg config.TelegramConfig) (*Notifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram token and chat_id are required")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewWithSender(telegramSender{bot: bot}, cfg.ChatID, cfg.PerMinute), nil
}

// NewWithSender allows perMinute messages a minute, with a burst of one.
func NewWithSender(s Sender, chatID int64, perMinute int) *Notifier {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Notifier{
		sender:  s,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Notify sends text unless the rate limit is exhausted, in which case the
// message is dropped and ErrRateLimited returned.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.limiter.Allow() {
		n.dropped.Add(1)
		return ErrRateLimited
	}
	return n.sender.SendMessage(ctx, n.chatID, text)
}

// Dropped returns how many notifications the rate limit discarded.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// HandleEvent is an events.Handler that notifies on the critical alert
// threshold. Sending happens off the emitting goroutine.
func (n *Notifier) HandleEvent(ev events.Event) {
	if ev.Type != events.CriticalAlertThreshold {
		return
	}
	alerts, _ := ev.Data.([]monitor.Alert)
	text := FormatCriticalAlerts(alerts)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.Notify(ctx, text); err != nil {
			slog.Warn("critical alert notification not sent", "error", err)
		}
	}()
}

func FormatCriticalAlerts(alerts []monitor.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d critical alerts", len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(&b, "\n- %s: %s %.1f (threshold %.0f)", a.SwarmID, a.Type, a.Value, a.Threshold)
	}
	return b.String()
}
