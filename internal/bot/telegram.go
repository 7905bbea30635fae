package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Telegram allows about 30 messages per second per bot
const sendRatePerSec = 25

// telegramAPI is the part of *tgbotapi.BotAPI the frontend uses
type telegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// RequestHandler answers requests; *Bot satisfies it
type RequestHandler interface {
	Handle(ctx context.Context, req Request) *Reply
}

// Telegram long-polls the Bot API and feeds updates to the handler
type Telegram struct {
	api     telegramAPI
	handler RequestHandler
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewTelegram connects to the Bot API with token
func NewTelegram(token string, debug bool, handler RequestHandler) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug
	log.Info().Str("username", api.Self.UserName).Msg("telegram bot authorized")
	return &Telegram{api: api, handler: handler, limiter: rate.NewLimiter(sendRatePerSec, sendRatePerSec)}, nil
}

// Run processes updates until ctx is cancelled, then waits for in-flight handlers
func (t *Telegram) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	defer t.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.process(ctx, update)
			}()
		}
	}
}

func (t *Telegram) process(ctx context.Context, update tgbotapi.Update) {
	req, messageID, ok := requestFromUpdate(update)
	if !ok {
		return
	}
	if cb := update.CallbackQuery; cb != nil {
		if _, err := t.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Debug().Err(err).Msg("callback ack failed")
		}
	}

	reply := t.handler.Handle(ctx, req)
	if reply == nil {
		return
	}

	if reply.DeleteInput && update.Message != nil {
		if _, err := t.api.Request(tgbotapi.NewDeleteMessage(req.ChatID, messageID)); err != nil {
			log.Warn().Err(err).Int64("chat", req.ChatID).Msg("failed to delete sensitive message")
		}
	}

	// Replies are still sent after shutdown begins so the user hears the outcome
	if t.limiter != nil {
		if err := t.limiter.Wait(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("send limiter")
		}
	}
	if _, err := t.api.Send(render(req.ChatID, reply)); err != nil {
		log.Error().Err(err).Int64("chat", req.ChatID).Msg("failed to send reply")
	}
}

// requestFromUpdate maps commands, free text and button taps to a Request
func requestFromUpdate(update tgbotapi.Update) (Request, int, bool) {
	if msg := update.Message; msg != nil {
		if msg.From == nil || msg.Chat == nil {
			return Request{}, 0, false
		}
		req := Request{UserID: msg.From.ID, ChatID: msg.Chat.ID}
		if msg.IsCommand() {
			req.Action = msg.Command()
			req.Text = strings.TrimSpace(msg.CommandArguments())
		} else {
			req.Text = strings.TrimSpace(msg.Text)
		}
		return req, msg.MessageID, true
	}

	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
			return Request{}, 0, false
		}
		return Request{UserID: cb.From.ID, ChatID: cb.Message.Chat.ID, Action: cb.Data}, cb.Message.MessageID, true
	}
	return Request{}, 0, false
}

func render(chatID int64, reply *Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(reply.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reply.Buttons))
		for _, row := range reply.Buttons {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
			}
			rows = append(rows, buttons)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return msg
}
