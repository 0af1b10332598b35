// Package api exposes the delayed view over HTTP.
//
// REST endpoints read the current view and change the market and settings;
// GET /ws upgrades to a websocket that streams every published view as JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"delaycast/internal/candles"
	"delaycast/internal/model"
	"delaycast/internal/polymarket"
	"delaycast/internal/service"
	"delaycast/internal/utils"
	"delaycast/internal/view"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// Controller is the part of the service the REST endpoints drive.
type Controller interface {
	Snapshot(ctx context.Context) (view.ViewModel, error)
	SetMarket(ctx context.Context, marketURL string) (model.MarketRef, error)
	UpdateSettings(ctx context.Context, u service.SettingsUpdate) (service.Settings, error)
}

// Subscriptions hands out view streams for websocket clients.
type Subscriptions interface {
	Subscribe() (*service.Subscriber, error)
	Unsubscribe(sub *service.Subscriber) error
}

// Config holds the HTTP surface settings.
type Config struct {
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
	// PingPeriod is how often idle websocket clients are pinged.
	PingPeriod time.Duration
}

// Server wires the gin router to the controller.
type Server struct {
	cfg      Config
	ctrl     Controller
	subs     Subscriptions
	upgrader websocket.Upgrader
}

type marketRequest struct {
	URL string `json:"url" binding:"required"`
}

type settingsRequest struct {
	DelaySeconds *int    `json:"delay_seconds"`
	Timeframe    *string `json:"timeframe"`
	Outcome      *string `json:"outcome"`
}

type settingsResponse struct {
	DelaySeconds int64         `json:"delay_seconds"`
	Timeframe    string        `json:"timeframe"`
	Outcome      model.Outcome `json:"outcome"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a Server. Zero config values fall back to defaults.
func NewServer(cfg Config, ctrl Controller, subs Subscriptions) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	return &Server{
		cfg:  cfg,
		ctrl: ctrl,
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws", s.handleStream)

	api := r.Group("/api")
	api.GET("/view", s.handleView)
	api.POST("/market", s.handleMarket)
	api.PUT("/settings", s.handleSettings)

	return r
}

// requestLogger tags every request with an id and logs it on completion.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()

		log.Debug().
			Str("component", "api").
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}

func (s *Server) handleView(c *gin.Context) {
	vm, err := s.ctrl.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vm)
}

func (s *Server) handleMarket(c *gin.Context) {
	var req marketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body must be {\"url\": \"...\"}"})
		return
	}

	ref, err := s.ctrl.SetMarket(c.Request.Context(), req.URL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": ref})
}

func (s *Server) handleSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed settings body"})
		return
	}

	var u service.SettingsUpdate
	if req.DelaySeconds != nil {
		d, err := utils.DelayFromSeconds(*req.DelaySeconds)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		u.Delay = &d
	}
	if req.Timeframe != nil {
		tf, err := candles.LookupTimeframe(*req.Timeframe)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		u.Timeframe = &tf
	}
	if req.Outcome != nil {
		o, err := utils.ParseOutcome(*req.Outcome)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		u.Outcome = &o
	}

	settings, err := s.ctrl.UpdateSettings(c.Request.Context(), u)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse{
		DelaySeconds: int64(settings.Delay / time.Second),
		Timeframe:    settings.Timeframe.Name,
		Outcome:      settings.Outcome,
	})
}

// writeError maps service and resolver errors to status codes. Anything that
// is not a known condition is treated as a resolution failure.
func writeError(c *gin.Context, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, service.ErrNotStarted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, polymarket.ErrInvalidMarketURL),
		errors.Is(err, polymarket.ErrMarketNotFound),
		errors.Is(err, polymarket.ErrNotBinary):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
