package bot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"pdfchat/internal/models"
	"pdfchat/internal/service/ai"
)

// Telegram rejects longer text messages.
const maxMessageRunes = 4096

const (
	menuText          = "🤖 *Gemini Document Assistant*\n\nPick the document you want to analyze:"
	noSessionText     = "⚠️ Select a file first. Send /start."
	sessionClosedText = "🔄 Session closed."
	noStatusText      = "No active session. Send /start to pick a document."
	emptyAnswerText   = "🤷 The model returned an empty answer."
	busyText          = "⏳ Too many requests right now, please try again in a moment."
	helpText          = "📚 Commands:\n" +
		"/start - pick a document\n" +
		"/reset - close the current document and pick another\n" +
		"/status - show the active document\n\n" +
		"After picking a document, just send your questions as messages."
)

func noFilesText(dir string) string {
	return fmt.Sprintf("📂 No PDF files found in the '%s' folder.", dir)
}

func loadingText(name, model string) string {
	return fmt.Sprintf("⏳ Loading %s... (model: %s)", name, model)
}

// A zero page count means the local parser could not read the file.
func readyText(session *models.Session) string {
	pages := ""
	if session.Pages > 0 {
		pages = fmt.Sprintf(" (%d pages)", session.Pages)
	}
	return fmt.Sprintf("✅ %s is ready%s.\n\nAsk your questions, or send /reset to pick another document.",
		session.FileName, pages)
}

func statusText(session *models.Session) string {
	text := fmt.Sprintf("📄 %s\nModel: %s\n", session.FileName, session.Model)
	if session.Pages > 0 {
		text += fmt.Sprintf("Pages: %d\n", session.Pages)
	}
	return text + "Opened: " + session.CreatedAt.Format("2006-01-02 15:04 MST")
}

// formatError renders err for the user, prefixed by how it failed.
func formatError(err error) string {
	switch {
	case errors.Is(err, ai.ErrProcessingFailed):
		return "❌ The document could not be processed: " + err.Error()
	case errors.Is(err, ai.ErrProcessingTimeout):
		return "⌛ The document is taking too long to process, please try again later: " + err.Error()
	}
	switch ai.KindOf(err) {
	case ai.KindInvalidInput:
		return "⚠️ Invalid request: " + err.Error()
	case ai.KindTransient:
		return "⚠️ Temporary error, please try again: " + err.Error()
	default:
		return "⚠️ Error: " + err.Error()
	}
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		if idx := lastNewline(runes[:limit]); idx > limit/2 {
			cut = idx + 1
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
