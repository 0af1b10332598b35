package polymarket

import (
	"context"
	"time"

	"delaycast/internal/model"
	"delaycast/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PollSource is the pull tick source: it requests each token's order book on
// a fixed interval and emits the same updates the push source does.
type PollSource struct {
	client    *resty.Client
	interval  time.Duration
	maxTokens int
	validate  *validator.Validate
}

type bookResponse struct {
	AssetID        string       `json:"asset_id"`
	Timestamp      string       `json:"timestamp" validate:"omitempty,numeric"`
	Bids           []orderLevel `json:"bids" validate:"dive"`
	Asks           []orderLevel `json:"asks" validate:"dive"`
	LastTradePrice string       `json:"last_trade_price" validate:"omitempty,numeric"`
}

// NewPollSource creates a PollSource. A nil cfg uses DefaultConfig.
func NewPollSource(cfg *Config) (*PollSource, error) {
	c, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return &PollSource{
		client:    newRESTClient(c.ClobURL, c),
		interval:  c.PollInterval,
		maxTokens: c.MaxTokens,
		validate:  validator.New(),
	}, nil
}

// Subscribe starts polling tokenIDs immediately and then every interval. The
// returned channel is closed once ctx is cancelled. Failed requests are logged
// and skipped.
func (p *PollSource) Subscribe(ctx context.Context, tokenIDs []string) (<-chan model.BookUpdate, error) {
	if err := utils.ValidateTokenIDs(tokenIDs, p.maxTokens); err != nil {
		return nil, err
	}

	ids := append([]string(nil), tokenIDs...)
	out := make(chan model.BookUpdate, 2*len(ids))

	go func() {
		defer close(out)

		logger := log.With().
			Str("component", "poller").
			Dur("interval", p.interval).
			Strs("tokens", ids).
			Logger()
		logger.Info().Msg("starting book poller")
		defer logger.Info().Msg("book poller exiting")

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			p.pollOnce(ctx, ids, out, logger)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

func (p *PollSource) pollOnce(ctx context.Context, ids []string, out chan<- model.BookUpdate, logger zerolog.Logger) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		u, ok, err := p.fetchBook(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Str("token", id).Msg("book poll failed")
			}
			continue
		}
		if !ok {
			continue
		}

		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
}

// fetchBook returns false when the book carries no usable price.
func (p *PollSource) fetchBook(ctx context.Context, tokenID string) (model.BookUpdate, bool, error) {
	var book bookResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err := checkResponse(resp, err, "clob /book"); err != nil {
		return model.BookUpdate{}, false, err
	}
	if err := p.validate.Struct(&book); err != nil {
		return model.BookUpdate{}, false, err
	}

	u := model.BookUpdate{TokenID: tokenID, Timestamp: eventTime(book.Timestamp)}
	u.BestBid, u.BestAsk = bestLevels(book.Bids, book.Asks)
	if book.LastTradePrice != "" {
		if last, err := parseProbability(book.LastTradePrice); err == nil {
			u.Last = last
		}
	}

	if u.BestBid == nil && u.BestAsk == nil && u.Last == nil {
		return model.BookUpdate{}, false, nil
	}
	return u, true, nil
}
