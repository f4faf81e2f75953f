package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramSink delivers alerts to a single Telegram chat. Send-only: the bot
// never polls for updates.
type telegramSink struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func NewTelegramSink(token string, chatID int64) (Sink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &telegramSink{bot: b, chat: tele.ChatID(chatID)}, nil
}

func (t *telegramSink) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text)
	return err
}
