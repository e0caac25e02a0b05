package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pdfchat/internal/library"
	"pdfchat/internal/logger"
	"pdfchat/internal/service/assistant"
)

func (b *Bot) runCommand(ctx context.Context, command string, userID, chatID int64) {
	switch command {
	case "start":
		b.assistant.Reset(ctx, userID)
		b.showMenu(chatID)
	case "reset":
		b.assistant.Reset(ctx, userID)
		b.reply(chatID, sessionClosedText)
		b.showMenu(chatID)
	case "status":
		session, ok := b.assistant.Current(userID)
		if !ok {
			b.reply(chatID, noStatusText)
			return
		}
		b.reply(chatID, statusText(session))
	default:
		b.reply(chatID, helpText)
	}
}

// showMenu lists the library as one button per document.
func (b *Bot) showMenu(chatID int64) {
	names, err := b.library.List()
	if err != nil {
		logger.Errorf("list library: %v", err)
		b.reply(chatID, formatError(err))
		return
	}
	if len(names) == 0 {
		b.reply(chatID, noFilesText(b.library.Dir()))
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(names))
	for _, name := range names {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(name, library.Payload(name)),
		))
	}
	msg := tgbotapi.NewMessage(chatID, menuText)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

func (b *Bot) selectDocument(ctx context.Context, userID, chatID int64, name string) {
	session, err := b.assistant.SelectDocument(ctx, userID, chatID, name)
	if err != nil {
		logger.Warnf("user %d select %s: %v", userID, name, err)
		b.reply(chatID, formatError(err))
		return
	}
	b.reply(chatID, readyText(session))
}

func (b *Bot) relay(ctx context.Context, userID, chatID int64, text string) {
	if _, ok := b.assistant.Current(userID); !ok {
		b.reply(chatID, noSessionText)
		return
	}
	b.typing(chatID)

	answer, err := b.assistant.Ask(ctx, userID, text)
	if err != nil {
		if errors.Is(err, assistant.ErrNoSession) {
			b.reply(chatID, noSessionText)
			return
		}
		logger.Warnf("user %d relay: %v", userID, err)
		b.reply(chatID, formatError(err))
		return
	}
	if strings.TrimSpace(answer) == "" {
		b.reply(chatID, emptyAnswerText)
		return
	}
	for _, part := range splitMessage(answer, maxMessageRunes) {
		b.reply(chatID, part)
	}
}
