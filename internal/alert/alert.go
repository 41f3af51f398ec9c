// Package alert pushes fleet deadlock notifications to a Telegram chat.
// Outbound only; the notifier never polls for updates.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

type Notifier struct {
	bot    *telego.Bot
	chatID int64
}

// New builds a notifier, or (nil, nil) when no token is configured so the
// caller can wire alerts unconditionally.
func New(cfg config.TelegramConfig) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, nil
	}

	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

// DeadlockAlert reports an unresolvable cycle: the whole fleet has been
// paused and an operator has to intervene. Delivery failures are logged,
// never propagated into the resolution pipeline.
func (n *Notifier) DeadlockAlert(ctx context.Context, conflicts int) {
	text := fmt.Sprintf(
		"⚠️ Fleet deadlock at %s: %d unresolved conflict pair(s). All robots paused, manual intervention required.",
		time.Now().Format(time.RFC3339), conflicts)

	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), text)); err != nil {
		slog.Error("send deadlock alert", "error", err)
	}
}
