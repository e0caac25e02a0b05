package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"pdfchat/internal/library"
	"pdfchat/internal/logger"
	"pdfchat/internal/service/ai"
	"pdfchat/internal/service/assistant"
	"pdfchat/internal/worker"
)

// Sender is the part of *tgbotapi.BotAPI the bot talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Submitter queues per-user work; *worker.Dispatcher satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Bot turns Telegram updates into assistant calls.
type Bot struct {
	api       Sender
	assistant *assistant.Service
	library   *library.Library
	jobs      Submitter
}

func New(api Sender, svc *assistant.Service, jobs Submitter) *Bot {
	return &Bot{
		api:       api,
		assistant: svc,
		library:   svc.Library(),
		jobs:      jobs,
	}
}

// Run consumes updates until ctx is canceled or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(update)
		}
	}
}

// HandleUpdate routes one update. Slow work is queued on the user's job queue.
func (b *Bot) HandleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(update.Message)
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	userID, chatID := msg.From.ID, msg.Chat.ID

	if msg.IsCommand() {
		command := msg.Command()
		b.submit(chatID, worker.Job{Type: worker.Command, UserID: userID, Run: func(ctx context.Context) {
			b.runCommand(ctx, command, userID, chatID)
		}})
		return
	}
	if msg.Text == "" {
		return
	}
	text := msg.Text
	b.submit(chatID, worker.Job{Type: worker.Relay, UserID: userID, Run: func(ctx context.Context) {
		b.relay(ctx, userID, chatID, text)
	}})
}

func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		logger.Warnf("answer callback %s: %v", query.ID, err)
	}
	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}
	userID, chatID, messageID := query.From.ID, query.Message.Chat.ID, query.Message.MessageID

	name, err := b.library.Resolve(query.Data)
	if err != nil {
		b.reply(chatID, formatError(ai.NewError("resolve document", ai.KindInvalidInput, err)))
		return
	}
	b.edit(chatID, messageID, loadingText(name, b.assistant.Model()))

	b.submit(chatID, worker.Job{Type: worker.Select, UserID: userID, Run: func(ctx context.Context) {
		b.selectDocument(ctx, userID, chatID, name)
	}})
}

func (b *Bot) submit(chatID int64, job worker.Job) {
	err := b.jobs.Submit(job)
	if err == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"user_id": job.UserID,
		"job":     job.Type.String(),
	}).Warnf("job rejected: %v", err)
	if errors.Is(err, worker.ErrDispatcherBusy) {
		b.reply(chatID, busyText)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	b.send(tgbotapi.NewEditMessageText(chatID, messageID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		logger.Errorf("telegram send: %v", err)
	}
}

func (b *Bot) typing(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		logger.Debugf("chat action for %d: %v", chatID, err)
	}
}
