package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type fakeTelegram struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	stopped  bool
}

func (f *fakeTelegram) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type echoHandler struct {
	mu   sync.Mutex
	reqs []Request
}

func (e *echoHandler) Handle(ctx context.Context, req Request) *Reply {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return &Reply{
		Text:        "ok",
		Buttons:     [][]Button{{{Label: "Go", Action: "start"}}},
		DeleteInput: req.Action == "",
	}
}

func command(text string, name string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: 11},
		Chat:      &tgbotapi.Chat{ID: 22},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name) + 1}},
	}
}

func TestRequestFromUpdate(t *testing.T) {
	req, id, ok := requestFromUpdate(tgbotapi.Update{Message: command("/withdraw  abc SOL", "withdraw")})
	if !ok || id != 5 || req.Action != "withdraw" || req.Text != "abc SOL" || req.UserID != 11 || req.ChatID != 22 {
		t.Errorf("command: %+v %d %v", req, id, ok)
	}

	msg := &tgbotapi.Message{MessageID: 6, From: &tgbotapi.User{ID: 11}, Chat: &tgbotapi.Chat{ID: 22}, Text: " secret "}
	req, _, ok = requestFromUpdate(tgbotapi.Update{Message: msg})
	if !ok || req.Action != "" || req.Text != "secret" {
		t.Errorf("text: %+v", req)
	}

	cb := &tgbotapi.CallbackQuery{ID: "cb1", From: &tgbotapi.User{ID: 11}, Data: "set_tip:0",
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 22}}}
	req, id, ok = requestFromUpdate(tgbotapi.Update{CallbackQuery: cb})
	if !ok || id != 9 || req.Action != "set_tip:0" {
		t.Errorf("callback: %+v", req)
	}

	if _, _, ok := requestFromUpdate(tgbotapi.Update{}); ok {
		t.Error("empty update should be ignored")
	}
}

func TestRender(t *testing.T) {
	msg := render(22, &Reply{Text: "hi", Buttons: [][]Button{{{Label: "A", Action: "a"}, {Label: "B", Action: "b"}}}})
	if msg.ChatID != 22 || msg.Text != "hi" || msg.ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("unexpected message %+v", msg)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected keyboard %+v", msg.ReplyMarkup)
	}
	if data := kb.InlineKeyboard[0][1].CallbackData; data == nil || *data != "b" {
		t.Errorf("unexpected callback data %v", data)
	}
}

func TestTelegramRun(t *testing.T) {
	api := &fakeTelegram{updates: make(chan tgbotapi.Update, 3)}
	h := &echoHandler{}
	tg := &Telegram{api: api, handler: h, limiter: rate.NewLimiter(rate.Inf, 1)}

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 1, From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}, Text: "key"}}
	api.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q", From: &tgbotapi.User{ID: 1}, Data: "start",
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 1}}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tg.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		api.mu.Lock()
		n := len(api.sent)
		api.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 replies, got %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Error("updates were not stopped")
	}
	// one callback ack and one delete of the free text message
	var acks, deletes int
	for _, r := range api.requests {
		switch r.(type) {
		case tgbotapi.CallbackConfig:
			acks++
		case tgbotapi.DeleteMessageConfig:
			deletes++
		}
	}
	if acks != 1 || deletes != 1 {
		t.Errorf("acks=%d deletes=%d", acks, deletes)
	}
}
