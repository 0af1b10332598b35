// Package websocket provides the WebSocket client used for streaming order book
// updates from a market data feed.
//
// The client owns a single connection and runs three goroutines for its lifetime:
//   - readLoop: reads frames and hands each payload to the configured Handler
//   - pingLoop: keeps the connection alive with control pings or an
//     application-level text keepalive
//   - shutdownListener: closes the client when the parent context is cancelled
//
// The client never reconnects. When the connection drops the Updates channel
// is closed and DisconnectChan fires, leaving recovery to the caller.
package websocket

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"delaycast/internal/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// defaultPingPeriod is the interval between keepalive messages.
	defaultPingPeriod = 10 * time.Second

	// defaultSendTimeout bounds every write.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit is the largest accepted frame. Book snapshots for busy
	// markets are large, so this is generous.
	defaultReadLimit = 4 << 20

	defaultHandshakeTimeout = 10 * time.Second

	defaultUpdateBuffer = 1000
)

// ErrClientShuttingDown indicates that the client is in the process of shutting down.
var ErrClientShuttingDown = errors.New("client is shutting down")

// Config defines settings for the WebSocket client.
type Config struct {
	// Endpoint is the WebSocket URL to connect to. Required.
	Endpoint string

	// Handler decodes one incoming frame and emits zero or more updates. Required.
	Handler func([]byte, chan<- model.BookUpdate) error

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between keepalive messages.
	PingPeriod time.Duration

	// SendTimeout is the write deadline for keepalives.
	SendTimeout time.Duration

	// KeepaliveMessage, when set, is sent as a text frame instead of a
	// control ping. Text replies equal to KeepaliveReply are swallowed.
	KeepaliveMessage []byte
	KeepaliveReply   []byte

	// SubscriptionMessages are written right after the handshake.
	SubscriptionMessages [][]byte

	// UpdateBuffer is the capacity of the Updates channel.
	UpdateBuffer int
}

// Client manages one WebSocket connection.
type Client struct {
	conn atomic.Value // stores *websocket.Conn

	// Updates receives everything the Handler emits. It is closed when the
	// read loop exits.
	Updates chan model.BookUpdate

	disconnect chan struct{}
	errChan    chan error

	cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	wg   sync.WaitGroup
}

// NewWebsocketClient dials cfg.Endpoint, sends the subscription messages and
// starts the background loops. The client lives until ctx is cancelled, the
// connection drops or Close is called.
func NewWebsocketClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}

	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}

	ctx, cancel := context.WithCancel(ctx)

	client := &Client{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
		Updates:    make(chan model.BookUpdate, cfg.UpdateBuffer),
	}

	if err := client.run(cfg.SubscriptionMessages); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}

	return client, nil
}

func (c *Client) run(subMsgs [][]byte) (err error) {
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "run").
		Logger()

	logger.Info().Msg("starting WebSocket client")

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	defer func() {
		if err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
			}
		}
	}()

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.PingPeriod * 3)); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	for _, msg := range subMsgs {
		if err = conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
			return err
		}
		if err = conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error().Err(err).Msg("subscription error")
			return err
		}
	}

	c.conn.Store(conn)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.shutdownListener()
	}()

	return nil
}

// readLoop hands each frame to the Handler until the connection fails or the
// context is cancelled. Handler panics are recovered and logged.
func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "readLoop").
		Logger()

	logger.Info().Msg("starting read loop")
	defer func() {
		logger.Info().Msg("read loop exiting")
		close(c.disconnect)
		close(c.Updates)

		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
			logger.Debug().Msg("error channel full, skipping error send")
		}
	}()

	for {
		if c.ctx.Err() != nil {
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
				logger.Debug().Err(err).Msg("read interrupted by shutdown")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Info().Err(err).Msg("websocket closed normally")
			case websocket.IsUnexpectedCloseError(err):
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			default:
				logger.Error().Err(err).Msg("read error")
			}

			select {
			case c.errChan <- err:
			default:
				logger.Warn().Err(err).Msg("error channel full, dropping error")
			}
			return
		}

		if len(c.cfg.KeepaliveReply) > 0 && bytes.Equal(bytes.TrimSpace(data), c.cfg.KeepaliveReply) {
			continue
		}

		logger.Trace().
			Int("messageType", messageType).
			Int("bytes", len(data)).
			Msg("received message")

		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("recover", r).Str("endpoint", c.cfg.Endpoint).Msg("panic in message handler")
		}
	}()

	if err := c.cfg.Handler(data, c.Updates); err != nil {
		log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("error handling message")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "pingLoop").
		Logger()

	logger.Debug().Dur("period", c.cfg.PingPeriod).Msg("starting ping loop")
	defer logger.Debug().Msg("ping loop exiting")

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				continue
			}

			var err error
			if len(c.cfg.KeepaliveMessage) > 0 {
				err = conn.WriteMessage(websocket.TextMessage, c.cfg.KeepaliveMessage)
			} else {
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			if err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	log.Debug().Str("endpoint", c.cfg.Endpoint).Msg("context cancelled, shutting down WebSocket client")
	c.Close()
}

// Close sends a close frame, closes the connection and waits briefly for the
// background goroutines. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().
			Str("endpoint", c.cfg.Endpoint).
			Str("component", "close").
			Logger()

		logger.Info().Msg("initiating graceful shutdown")

		c.cancel()

		if conn := c.conn.Load(); conn != nil {
			if ws, ok := conn.(*websocket.Conn); ok {
				if err := ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					logger.Debug().Err(err).Msg("failed to send close frame")
				}

				if err := ws.Close(); err != nil {
					logger.Debug().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}

		logger.Info().Msg("shutdown complete")
	})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Bool("tlsInsecureSkip", c.cfg.TLSInsecureSkip).
		Logger()

	logger.Info().Msg("attempting websocket connection")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			logger.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("status", resp.Status).
				Msg("connection failed")
		} else {
			logger.Error().Err(err).Msg("connection failed")
		}
		return nil, err
	}

	logger.Info().Msg("websocket connection established")
	return conn, nil
}

// DisconnectChan is closed when the read loop exits.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan delivers the error that ended the read loop.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
