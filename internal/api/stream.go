package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// handleStream upgrades the request and writes every view the subscriber
// receives until the client goes away or the dispatcher shuts down.
func (s *Server) handleStream(c *gin.Context) {
	sub, err := s.subs.Subscribe()
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client.
		_ = s.subs.Unsubscribe(sub)
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := log.With().Str("component", "stream").Str("subscriber", sub.ID()).Logger()
	logger.Info().Str("remote", c.Request.RemoteAddr).Msg("stream client connected")

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Any("recover", r).Msg("panic in stream writer")
		}
		_ = s.subs.Unsubscribe(sub)
		_ = conn.Close()
		logger.Info().Msg("stream client disconnected")
	}()

	// The read side only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return

		case <-c.Request.Context().Done():
			return

		case <-ping.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return
			}

		case vm, ok := <-sub.Updates():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(s.cfg.WriteTimeout))
				return
			}

			data, err := json.Marshal(vm)
			if err != nil {
				logger.Error().Err(err).Msg("failed to encode view")
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("write failed")
				return
			}
		}
	}
}
