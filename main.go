package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"pdfchat/internal/api"
	"pdfchat/internal/bot"
	"pdfchat/internal/config"
	"pdfchat/internal/library"
	"pdfchat/internal/logger"
	"pdfchat/internal/redis"
	"pdfchat/internal/service/ai"
	"pdfchat/internal/service/assistant"
	"pdfchat/internal/storage"
	"pdfchat/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnf("load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("PDFCHAT_CONFIG"))
	if err != nil {
		logger.Logger().Fatalf("load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		app      *botApp
		sessions api.SessionCounter
		queue    api.QueueStats
	)
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v; the bot is disabled, serving liveness only", err)
	} else if app, err = startBot(ctx, cfg); err != nil {
		logger.Errorf("start bot: %v; serving liveness only", err)
	} else {
		sessions, queue = app.service, app.dispatcher
	}

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.NewRouter(api.NewHandler(sessions, queue, cfg.Gemini.Model)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("liveness server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("liveness server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	if app != nil {
		app.close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("liveness server shutdown: %v", err)
	}
}

type botApp struct {
	telegram   *tgbotapi.BotAPI
	service    *assistant.Service
	dispatcher *worker.Dispatcher
	done       chan struct{}
	closers    []func() error
}

func startBot(ctx context.Context, cfg *config.Config) (*botApp, error) {
	app := &botApp{done: make(chan struct{})}
	fail := func(err error) (*botApp, error) {
		app.closeResources()
		return nil, err
	}

	remote, err := ai.NewGeminiService(ctx, cfg.Gemini.APIKey)
	if err != nil {
		return fail(err)
	}

	artifactTTL := time.Duration(cfg.Sessions.ArtifactTTL) * time.Hour
	var artifacts assistant.ArtifactCache
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warnf("redis unavailable, caching uploads in memory: %v", err)
		} else {
			app.closers = append(app.closers, rdb.Close)
			artifacts = assistant.NewRedisArtifactCache(rdb, artifactTTL)
		}
	}
	if artifacts == nil {
		artifacts = assistant.NewMemoryArtifactCache(artifactTTL)
	}

	var transcript *assistant.Transcript
	if cfg.Database.Enabled() {
		db, err := storage.Open(cfg.Database)
		if err != nil {
			return fail(err)
		}
		app.closers = append(app.closers, db.Close)
		if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
			return fail(err)
		}
		transcript = assistant.NewTranscript(db)
		logger.Infof("recording transcripts to %s", cfg.Database.Driver)
	}

	g := cfg.Gemini
	app.service = assistant.NewService(
		remote,
		library.New(cfg.BasicConfig.LibraryDir),
		assistant.NewRegistry(time.Duration(cfg.Sessions.IdleTTL)*time.Minute),
		artifacts,
		transcript,
		assistant.Options{
			Model:          g.Model,
			Instruction:    g.Instruction,
			RequestTimeout: time.Duration(g.RequestTimeout) * time.Second,
			Poll: ai.PollPolicy{
				Interval:    time.Duration(g.PollInterval) * time.Millisecond,
				MaxInterval: time.Duration(g.PollMaxWait) * time.Millisecond,
				Multiplier:  g.PollMultiplier,
				MaxAttempts: g.PollAttempts,
				Timeout:     time.Duration(g.PollTimeout) * time.Second,
			},
		},
	)
	if err := tgbotapi.SetLogger(logger.Logger()); err != nil {
		logger.Warnf("telegram logger: %v", err)
	}
	app.telegram, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fail(err)
	}
	app.telegram.Debug = cfg.Telegram.Debug
	logger.Infof("authorized on account %s, model %s", app.telegram.Self.UserName, g.Model)

	app.service.StartTranscriptCleaner(ctx,
		time.Duration(cfg.Database.RetentionDays)*24*time.Hour,
		time.Duration(cfg.Database.CleanInterval)*time.Minute,
	)

	app.dispatcher = worker.NewDispatcher(ctx, worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.PollTimeout
	updates := app.telegram.GetUpdatesChan(u)
	handler := bot.New(app.telegram, app.service, app.dispatcher)
	go func() {
		defer close(app.done)
		if err := handler.Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("bot stopped: %v", err)
		}
	}()
	return app, nil
}

// close stops polling, waits for running jobs and releases storage.
func (a *botApp) close() {
	a.telegram.StopReceivingUpdates()
	<-a.done
	a.dispatcher.Stop()
	a.closeResources()
}

func (a *botApp) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}
