package polymarket

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"delaycast/internal/model"
	"delaycast/internal/utils"
	"delaycast/internal/websocket"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// StreamSource is the push tick source backed by the CLOB market websocket.
type StreamSource struct {
	config   Config
	validate *validator.Validate
}

// subscribeMsg is the market channel subscription request.
type subscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// marketEvent is the union of the market channel event shapes that carry prices.
type marketEvent struct {
	EventType    string        `json:"event_type" validate:"required"`
	AssetID      string        `json:"asset_id"`
	Timestamp    string        `json:"timestamp" validate:"omitempty,numeric"`
	Price        string        `json:"price" validate:"omitempty,numeric"`
	BestBid      string        `json:"best_bid" validate:"omitempty,numeric"`
	BestAsk      string        `json:"best_ask" validate:"omitempty,numeric"`
	Bids         []orderLevel  `json:"bids" validate:"dive"`
	Asks         []orderLevel  `json:"asks" validate:"dive"`
	PriceChanges []priceChange `json:"price_changes" validate:"dive"`
}

type priceChange struct {
	AssetID string `json:"asset_id" validate:"required"`
	Price   string `json:"price" validate:"omitempty,numeric"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid" validate:"omitempty,numeric"`
	BestAsk string `json:"best_ask" validate:"omitempty,numeric"`
}

// NewStreamSource creates a StreamSource. A nil cfg uses DefaultConfig.
func NewStreamSource(cfg *Config) (*StreamSource, error) {
	c, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return &StreamSource{config: c, validate: validator.New()}, nil
}

// Subscribe opens a market channel connection for tokenIDs. The returned
// channel is closed when ctx is cancelled or the connection drops; the source
// does not reconnect.
func (s *StreamSource) Subscribe(ctx context.Context, tokenIDs []string) (<-chan model.BookUpdate, error) {
	if err := utils.ValidateTokenIDs(tokenIDs, s.config.MaxTokens); err != nil {
		return nil, err
	}

	sub, err := json.Marshal(subscribeMsg{Type: "market", AssetIDs: tokenIDs})
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}

	client, err := websocket.NewWebsocketClient(ctx, websocket.Config{
		Endpoint:             s.config.WebsocketURL,
		PingPeriod:           s.config.PingPeriod,
		KeepaliveMessage:     []byte("PING"),
		KeepaliveReply:       []byte("PONG"),
		SubscriptionMessages: [][]byte{sub},
		Handler: func(raw []byte, out chan<- model.BookUpdate) error {
			return s.handleMessage(ctx, raw, out)
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create market WebSocket client")
		return nil, err
	}

	return client.Updates, nil
}

// handleMessage decodes one frame, which may hold a single event or an array.
func (s *StreamSource) handleMessage(ctx context.Context, raw []byte, out chan<- model.BookUpdate) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	if raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return fmt.Errorf("invalid event batch: %w", err)
		}
		for _, item := range batch {
			if err := s.handleEvent(ctx, item, out); err != nil {
				log.Debug().Err(err).Msg("skipping event in batch")
			}
		}
		return nil
	}

	if raw[0] != '{' {
		// PING or other text frames
		return nil
	}
	return s.handleEvent(ctx, raw, out)
}

func (s *StreamSource) handleEvent(ctx context.Context, raw []byte, out chan<- model.BookUpdate) error {
	var ev marketEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("invalid event JSON: %w", err)
	}
	if err := s.validate.Struct(&ev); err != nil {
		return fmt.Errorf("event validation failed: %w", err)
	}

	updates, err := toUpdates(ev)
	if err != nil {
		return err
	}
	for _, u := range updates {
		select {
		case out <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// toUpdates maps a market channel event to book updates. Events without
// price information yield none.
func toUpdates(ev marketEvent) ([]model.BookUpdate, error) {
	ts := eventTime(ev.Timestamp)

	switch ev.EventType {
	case "book":
		if ev.AssetID == "" {
			return nil, fmt.Errorf("book event without asset_id")
		}
		bid, ask := bestLevels(ev.Bids, ev.Asks)
		if bid == nil && ask == nil {
			return nil, nil
		}
		return []model.BookUpdate{{TokenID: ev.AssetID, BestBid: bid, BestAsk: ask, Timestamp: ts}}, nil

	case "price_change":
		out := make([]model.BookUpdate, 0, len(ev.PriceChanges))
		for _, pc := range ev.PriceChanges {
			u := model.BookUpdate{TokenID: pc.AssetID, Timestamp: ts}
			var err error
			if u.BestBid, err = optionalProbability(pc.BestBid); err != nil {
				return nil, err
			}
			if u.BestAsk, err = optionalProbability(pc.BestAsk); err != nil {
				return nil, err
			}
			if u.BestBid == nil && u.BestAsk == nil {
				continue
			}
			out = append(out, u)
		}
		return out, nil

	case "last_trade_price":
		if ev.AssetID == "" || ev.Price == "" {
			return nil, fmt.Errorf("last_trade_price event without asset_id or price")
		}
		last, err := parseProbability(ev.Price)
		if err != nil {
			return nil, err
		}
		return []model.BookUpdate{{TokenID: ev.AssetID, Last: last, Timestamp: ts}}, nil

	case "best_bid_ask":
		if ev.AssetID == "" {
			return nil, fmt.Errorf("best_bid_ask event without asset_id")
		}
		bid, err := optionalProbability(ev.BestBid)
		if err != nil {
			return nil, err
		}
		ask, err := optionalProbability(ev.BestAsk)
		if err != nil {
			return nil, err
		}
		if bid == nil && ask == nil {
			return nil, nil
		}
		return []model.BookUpdate{{TokenID: ev.AssetID, BestBid: bid, BestAsk: ask, Timestamp: ts}}, nil
	}

	return nil, nil
}

func optionalProbability(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	return parseProbability(s)
}

// eventTime parses a millisecond timestamp, falling back to the local clock.
func eventTime(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Now()
}
