package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pdfchat/internal/logger"
)

const livenessText = "PDF chat bot is running"

// SessionCounter reports how many users have a document open.
type SessionCounter interface {
	ActiveSessions() int
}

// QueueStats reports the state of the job dispatcher.
type QueueStats interface {
	Pending() int
	Workers() int
}

// Handler serves the liveness endpoints. Both collaborators are optional;
// they are nil when the bot runs without credentials.
type Handler struct {
	sessions SessionCounter
	queue    QueueStats
	model    string
	started  time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(sessions SessionCounter, queue QueueStats, model string) *Handler {
	return &Handler{
		sessions: sessions,
		queue:    queue,
		model:    model,
		started:  time.Now(),
	}
}

// NewRouter builds the gin engine with recovery and request logging.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.liveness)
	router.HEAD("/", h.liveness)
	router.GET("/healthz", h.health)
}

func (h *Handler) liveness(c *gin.Context) {
	c.String(http.StatusOK, livenessText)
}

type healthResponse struct {
	Status         string `json:"status"`
	BotEnabled     bool   `json:"bot_enabled"`
	Model          string `json:"model,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
	PendingJobs    int    `json:"pending_jobs"`
	Workers        int    `json:"workers"`
	Uptime         string `json:"uptime"`
}

func (h *Handler) health(c *gin.Context) {
	resp := healthResponse{
		Status:     "ok",
		BotEnabled: h.sessions != nil,
		Model:      h.model,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.ActiveSessions()
	}
	if h.queue != nil {
		resp.PendingJobs = h.queue.Pending()
		resp.Workers = h.queue.Workers()
	}
	c.JSON(http.StatusOK, resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debugf("http request")
	}
}
