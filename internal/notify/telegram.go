package notify

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	"dailytask/pkg/logx"
)

// Telegram is an optional secondary channel that mirrors notifications to a
// telegram chat.
type Telegram struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

func NewTelegram(token string, chatID int64, log logx.Logger) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, m Message) error {
	_ = ctx // telebot manages its own request deadline
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Title)
		b.WriteString("\n")
	}
	b.WriteString(m.Body)
	_, err := t.bot.Send(tele.ChatID(t.chatID), b.String())
	return err
}
