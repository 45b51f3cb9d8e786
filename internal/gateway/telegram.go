package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram delivers reminders as bot messages. A registered "device token"
// is a chat id in decimal form; a user can register several chats the same
// way a push user registers several devices.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(botToken string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram api: %w", err)
	}
	return &Telegram{api: api}, nil
}

func (t *Telegram) SendBatch(ctx context.Context, tokens []string, payload Payload) (*Result, error) {
	res := &Result{}
	text := payload.Title
	if payload.Body != "" {
		text += "\n\n" + payload.Body
	}

	for _, token := range tokens {
		chatID, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			// Not a chat id at all; it can never be delivered to.
			res.Failure++
			res.Tokens = append(res.Tokens, TokenResult{Token: token, Permanent: true, Err: err})
			continue
		}

		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			res.Failure++
			res.Tokens = append(res.Tokens, TokenResult{
				Token:     token,
				Permanent: permanentTelegramError(err),
				Err:       err,
			})
			continue
		}

		res.Success++
		res.Tokens = append(res.Tokens, TokenResult{Token: token, Delivered: true})
	}
	return res, nil
}

// permanentTelegramError reports whether the API error means the chat is
// gone for good. The Bot API has no error codes for these, only messages.
func permanentTelegramError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"bot was blocked by the user",
		"chat not found",
		"user is deactivated",
		"bot was kicked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
