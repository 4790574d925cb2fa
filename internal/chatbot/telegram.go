package chatbot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram adapts the bot API to the Sender interface and feeds inbound
// messages to the dispatcher. It is bound to one target chat for
// outbound sends; inbound filtering happens in the dispatcher.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	observer func()
}

type TelegramOption func(*Telegram)

// WithSendObserver is called once per successfully sent message.
func WithSendObserver(observer func()) TelegramOption {
	return func(t *Telegram) {
		t.observer = observer
	}
}

func NewTelegram(token string, chatID int64, opts ...TelegramOption) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	t := &Telegram{bot: bot, chatID: chatID}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

func (t *Telegram) SendMessage(_ context.Context, text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if t.observer != nil {
		t.observer()
	}
	return nil
}

// Listen starts long polling and returns a channel of inbound text
// messages. The channel closes when ctx ends.
func (t *Telegram) Listen(ctx context.Context) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	raw := t.bot.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case upd, ok := <-raw:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat == nil {
					continue
				}
				select {
				case out <- Update{ChatID: upd.Message.Chat.ID, Text: upd.Message.Text}:
				case <-ctx.Done():
					t.bot.StopReceivingUpdates()
					return
				}
			}
		}
	}()
	return out
}
