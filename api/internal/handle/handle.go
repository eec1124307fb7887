package handle

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"baysafe/api/internal/analysis"
	"baysafe/api/internal/config"
	"baysafe/api/internal/session"
	"baysafe/api/internal/storage"
)

const (
	msgEmpty            = "Contenido vacío"
	msgMethodNotAllowed = "Método no permitido"
	msgTooLarge         = "Archivo demasiado grande"
	msgBadRequest       = "Solicitud inválida"
)

// Pipeline is the part of *analysis.Analyzer the HTTP surface needs.
type Pipeline interface {
	Reply(ctx context.Context, userID, text string, img *storage.UploadedImage, withImage bool) analysis.Report
	AnalyzeStream(ctx context.Context, img *storage.UploadedImage, userID, sessionID string, observe func(*session.Event)) analysis.Report
	Simulation() bool
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handle struct {
	pipeline Pipeline
	db       Pinger
	cfg      config.ServerConfig
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func New(p Pipeline, cfg config.ServerConfig, log *zap.Logger) *Handle {
	h := &Handle{pipeline: p, cfg: cfg, log: log}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// checkOrigin admits clients without an Origin header, the same origin and
// the configured AllowedOrigins.
func (h *Handle) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	h.log.Warn("WebSocket origin rejected", zap.String("origin", origin))
	return false
}

// WithDB makes /healthz check the detection cache database.
func (h *Handle) WithDB(db Pinger) *Handle {
	h.db = db
	return h
}

// Router wires all endpoints.
func (h *Handle) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())
	r.MaxMultipartMemory = h.maxUpload()

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.Any("/chat", h.Chat)
		api.GET("/chat/ws", h.ChatWS)
		api.GET("/status", h.Status)
	}
	return r
}

func (h *Handle) Healthz(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.log.Warn("Health check failed", zap.Error(err))
			c.String(http.StatusServiceUnavailable, "db: "+err.Error())
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

// Status reports whether the hosted services are configured.
func (h *Handle) Status(c *gin.Context) {
	out := gin.H{"status": "ok", "simulacion": h.pipeline.Simulation()}
	if h.pipeline.Simulation() {
		out["advertencia"] = analysis.MsgSimulationOff
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handle) maxUpload() int64 {
	if h.cfg.MaxUploadSize > 0 {
		return h.cfg.MaxUploadSize
	}
	return 10 << 20
}

// requestContext bounds the pipeline. X-Request-Timeout or ?timeoutSec=
// (seconds) may shorten the configured RequestTimeout, never extend it.
func (h *Handle) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	limit := h.cfg.RequestTimeout
	if limit <= 0 {
		limit = 180 * time.Second
	}
	ts := c.GetHeader("X-Request-Timeout")
	if ts == "" {
		ts = c.Query("timeoutSec")
	}
	deadline := limit
	if v, err := strconv.ParseInt(ts, 10, 64); err == nil && v > 0 && v < int64(limit/time.Second) {
		deadline = time.Duration(v) * time.Second
	}
	return context.WithTimeout(c.Request.Context(), deadline)
}

func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return "web:" + c.ClientIP()
}

func (h *Handle) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "mensaje": msg})
}
