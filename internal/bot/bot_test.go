package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/library"
	"pdfchat/internal/library/librarytest"
	"pdfchat/internal/models"
	"pdfchat/internal/service/ai"
	"pdfchat/internal/service/assistant"
	"pdfchat/internal/worker"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	edits    []tgbotapi.EditMessageTextConfig
	answered []string
	actions  []string
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		s.messages = append(s.messages, v)
	case tgbotapi.EditMessageTextConfig:
		s.edits = append(s.edits, v)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.CallbackConfig:
		s.answered = append(s.answered, v.CallbackQueryID)
	case tgbotapi.ChatActionConfig:
		s.actions = append(s.actions, v.Action)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Text)
	}
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages, s.edits, s.answered, s.actions = nil, nil, nil, nil
}

// inlineJobs runs every job on the caller's goroutine.
type inlineJobs struct{}

func (inlineJobs) Submit(job worker.Job) error {
	job.Run(context.Background())
	return nil
}

type busyJobs struct{}

func (busyJobs) Submit(worker.Job) error {
	return worker.ErrDispatcherBusy
}

type stubRemote struct {
	final models.ArtifactState
}

func (r *stubRemote) Upload(ctx context.Context, path, displayName string) (*models.Artifact, error) {
	return &models.Artifact{Name: "files/" + displayName, DisplayName: displayName, State: models.ArtifactProcessing}, nil
}

func (r *stubRemote) Artifact(ctx context.Context, name string) (*models.Artifact, error) {
	state := r.final
	if state == "" {
		state = models.ArtifactActive
	}
	return &models.Artifact{Name: name, URI: "https://files/" + name, MIMEType: "application/pdf", State: state}, nil
}

func (r *stubRemote) OpenChat(ctx context.Context, model string, artifact *models.Artifact, instruction string) (ai.Chat, error) {
	return echoChat{}, nil
}

type echoChat struct{}

func (echoChat) Send(ctx context.Context, text string) (string, error) {
	switch {
	case text == "silence":
		return "", nil
	case strings.HasPrefix(text, "long:"):
		return strings.Repeat("x", 5000), nil
	case text == "boom":
		return "", ai.NewError("send message", ai.KindTransient, fmt.Errorf("upstream reset"))
	}
	return "echo:" + text, nil
}

var fastPolicy = ai.PollPolicy{
	Interval:    time.Millisecond,
	MaxInterval: time.Millisecond,
	Multiplier:  1,
	MaxAttempts: 3,
	Timeout:     time.Second,
}

func newTestBot(t *testing.T, dir string, remote ai.Remote, jobs Submitter) (*Bot, *fakeSender, *assistant.Service) {
	t.Helper()
	svc := assistant.NewService(remote, library.New(dir), assistant.NewRegistry(0), nil, nil, assistant.Options{
		Model:  "test-model",
		Poll:   fastPolicy,
		Upload: fastPolicy,
	})
	sender := &fakeSender{}
	return New(sender, svc, jobs), sender, svc
}

func commandUpdate(userID int64, command string) tgbotapi.Update {
	text := "/" + command
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID * 10},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID * 10},
		Text: text,
	}}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: userID * 10}},
		Data:    data,
	}}
}

func libraryDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	librarytest.WritePDF(t, dir, "a.pdf", 2)
	librarytest.WritePDF(t, dir, "B.PDF", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	return dir
}

func TestStartRendersOneButtonPerPDF(t *testing.T) {
	b, sender, _ := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})

	b.HandleUpdate(commandUpdate(1, "start"))

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, menuText, msg.Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)

	var labels []string
	for _, row := range markup.InlineKeyboard {
		require.Len(t, row, 1)
		labels = append(labels, row[0].Text)
		require.NotNil(t, row[0].CallbackData)
		assert.Equal(t, row[0].Text, *row[0].CallbackData)
	}
	assert.ElementsMatch(t, []string{"a.pdf", "B.PDF"}, labels)
}

func TestStartWithMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pdfs")
	b, sender, _ := newTestBot(t, dir, &stubRemote{}, inlineJobs{})

	b.HandleUpdate(commandUpdate(1, "start"))

	assert.Equal(t, []string{noFilesText(dir)}, sender.texts())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTextWithoutSessionPrompts(t *testing.T) {
	b, sender, svc := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})

	b.HandleUpdate(textUpdate(1, "what is this?"))

	assert.Equal(t, []string{noSessionText}, sender.texts())
	assert.Empty(t, sender.actions)
	assert.Zero(t, svc.ActiveSessions())
}

func TestSelectThenRelay(t *testing.T) {
	b, sender, svc := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})

	b.HandleUpdate(callbackUpdate(1, "a.pdf"))

	assert.Equal(t, []string{"cb-1"}, sender.answered)
	require.Len(t, sender.edits, 1)
	assert.Equal(t, loadingText("a.pdf", "test-model"), sender.edits[0].Text)
	assert.Equal(t, 99, sender.edits[0].MessageID)
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0].Text, "a.pdf is ready (2 pages)")

	session, ok := svc.Current(1)
	require.True(t, ok)
	assert.Equal(t, "a.pdf", session.FileName)

	sender.reset()
	b.HandleUpdate(textUpdate(1, "hello"))
	assert.Equal(t, []string{tgbotapi.ChatTyping}, sender.actions)
	assert.Equal(t, []string{"echo:hello"}, sender.texts())
}

func TestSelectUnparsablePDFOmitsPageCount(t *testing.T) {
	dir := libraryDir(t)
	padded := append(librarytest.PDF(2), make([]byte, 200)...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), padded, 0o644))
	b, sender, svc := newTestBot(t, dir, &stubRemote{}, inlineJobs{})

	b.HandleUpdate(callbackUpdate(1, "scan.pdf"))

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0].Text, "scan.pdf is ready.")
	assert.NotContains(t, sender.messages[0].Text, "pages")
	assert.Equal(t, 1, svc.ActiveSessions())
}

func TestSelectFailedDocument(t *testing.T) {
	b, sender, svc := newTestBot(t, libraryDir(t), &stubRemote{final: models.ArtifactFailed}, inlineJobs{})

	b.HandleUpdate(callbackUpdate(1, "a.pdf"))

	texts := sender.texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "❌"), texts[0])
	assert.Zero(t, svc.ActiveSessions())
}

func TestSelectUnknownFile(t *testing.T) {
	b, sender, _ := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})

	b.HandleUpdate(callbackUpdate(1, "gone.pdf"))

	assert.Len(t, sender.answered, 1)
	assert.Empty(t, sender.edits)
	require.Len(t, sender.texts(), 1)
	assert.Contains(t, sender.texts()[0], "document not found")
}

func TestSelectLongFileName(t *testing.T) {
	dir := t.TempDir()
	name := strings.Repeat("quarterly-report-", 5) + ".pdf"
	librarytest.WritePDF(t, dir, name, 4)
	b, sender, svc := newTestBot(t, dir, &stubRemote{}, inlineJobs{})

	b.HandleUpdate(commandUpdate(1, "start"))
	markup := sender.messages[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	payload := *markup.InlineKeyboard[0][0].CallbackData
	assert.LessOrEqual(t, len(payload), library.MaxPayloadBytes)

	b.HandleUpdate(callbackUpdate(1, payload))
	session, ok := svc.Current(1)
	require.True(t, ok)
	assert.Equal(t, name, session.FileName)
	assert.Equal(t, 4, session.Pages)
}

func TestStartThenResetLeavesNoSession(t *testing.T) {
	b, sender, svc := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})

	b.HandleUpdate(callbackUpdate(1, "a.pdf"))
	b.HandleUpdate(commandUpdate(1, "start"))
	assert.Zero(t, svc.ActiveSessions())

	b.HandleUpdate(callbackUpdate(1, "a.pdf"))
	sender.reset()
	b.HandleUpdate(commandUpdate(1, "reset"))

	assert.Zero(t, svc.ActiveSessions())
	texts := sender.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, sessionClosedText, texts[0])
	assert.Equal(t, menuText, texts[1])
}

func TestRelayEdgeCases(t *testing.T) {
	b, sender, svc := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})
	b.HandleUpdate(callbackUpdate(1, "a.pdf"))

	sender.reset()
	b.HandleUpdate(textUpdate(1, "silence"))
	assert.Equal(t, []string{emptyAnswerText}, sender.texts())

	sender.reset()
	b.HandleUpdate(textUpdate(1, "long:please"))
	texts := sender.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, 4096, len(texts[0]))
	assert.Equal(t, 904, len(texts[1]))

	sender.reset()
	b.HandleUpdate(textUpdate(1, "boom"))
	texts = sender.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Temporary error")
	assert.Equal(t, 1, svc.ActiveSessions())
}

func TestStatusAndHelp(t *testing.T) {
	b, sender, _ := newTestBot(t, libraryDir(t), &stubRemote{}, inlineJobs{})

	b.HandleUpdate(commandUpdate(1, "status"))
	b.HandleUpdate(commandUpdate(1, "help"))
	b.HandleUpdate(commandUpdate(1, "whatever"))
	assert.Equal(t, []string{noStatusText, helpText, helpText}, sender.texts())

	b.HandleUpdate(callbackUpdate(1, "a.pdf"))
	sender.reset()
	b.HandleUpdate(commandUpdate(1, "status"))
	require.Len(t, sender.texts(), 1)
	assert.Contains(t, sender.texts()[0], "a.pdf")
	assert.Contains(t, sender.texts()[0], "test-model")
}

func TestBusyDispatcher(t *testing.T) {
	b, sender, _ := newTestBot(t, libraryDir(t), &stubRemote{}, busyJobs{})

	b.HandleUpdate(textUpdate(1, "hello"))

	assert.Equal(t, []string{busyText}, sender.texts())
}

func TestRunWithDispatcher(t *testing.T) {
	d := worker.NewDispatcher(context.Background(), worker.Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 16})
	defer d.Stop()
	b, sender, _ := newTestBot(t, libraryDir(t), &stubRemote{}, d)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan tgbotapi.Update, 4)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, updates) }()

	updates <- callbackUpdate(1, "a.pdf")
	updates <- textUpdate(1, "hello")

	require.Eventually(t, func() bool {
		texts := sender.texts()
		return len(texts) == 2 && texts[1] == "echo:hello"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	parts = splitMessage(strings.Repeat("é", 25), 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, len([]rune(p)), 10)
	}
}
