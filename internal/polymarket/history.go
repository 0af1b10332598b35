package polymarket

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"delaycast/internal/candles"
	"delaycast/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// HistoryClient fetches recent probability history from the CLOB.
type HistoryClient struct {
	client *resty.Client
}

// NewHistoryClient creates a HistoryClient. A nil cfg uses DefaultConfig.
func NewHistoryClient(cfg *Config) (*HistoryClient, error) {
	c, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return &HistoryClient{client: newRESTClient(c.ClobURL, c)}, nil
}

// FetchHistory returns the price history of tokenID over the window tf asks for,
// sorted ascending with timestamps in milliseconds.
//
// Samples without a finite probability in [0, 1] are dropped. On failure an
// empty slice is returned alongside the error.
func (h *HistoryClient) FetchHistory(ctx context.Context, tokenID string, tf candles.Timeframe) ([]model.PricePoint, error) {
	logger := log.With().
		Str("component", "history").
		Str("token", tokenID).
		Str("timeframe", tf.Name).
		Logger()

	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"market":   tokenID,
			"interval": tf.HistoryWindow,
			"fidelity": strconv.Itoa(tf.HistoryFidelity),
		}).
		Get("/prices-history")
	if err := checkResponse(resp, err, "clob /prices-history"); err != nil {
		logger.Warn().Err(err).Msg("history fetch failed")
		return []model.PricePoint{}, err
	}

	points, err := parseHistory(resp.Body())
	if err != nil {
		logger.Warn().Err(err).Msg("history response rejected")
		return []model.PricePoint{}, err
	}

	logger.Debug().Int("points", len(points)).Msg("history fetched")
	return points, nil
}

// parseHistory decodes {"history":[{"t":<sec>,"p":<prob>}, ...]}.
func parseHistory(body []byte) ([]model.PricePoint, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json in history response")
	}

	history := gjson.GetBytes(body, "history")
	if !history.IsArray() {
		return nil, fmt.Errorf("history response has no history array")
	}

	items := history.Array()
	points := make([]model.PricePoint, 0, len(items))
	for _, item := range items {
		t, p := item.Get("t"), item.Get("p")
		if t.Type != gjson.Number || p.Type != gjson.Number {
			continue
		}
		v := p.Float()
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			continue
		}
		points = append(points, model.PricePoint{T: t.Int() * 1000, P: v})
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].T < points[j].T })
	return points, nil
}
