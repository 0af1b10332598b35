// Package polymarket implements the upstream collaborators of the controller
// against the public Polymarket APIs:
//
//   - Resolver: market URL or slug to a YES/NO token pair via the Gamma API
//   - HistoryClient: recent probability history via CLOB /prices-history
//   - StreamSource: push tick source over the CLOB market websocket
//   - PollSource: pull tick source over CLOB /book
//
// All REST traffic goes through a shared resty client with retries. Every
// upstream failure is returned to the caller as an error; the caller decides
// whether that means an empty backfill, a transport fallback or a user-facing
// message.
package polymarket

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidMarketURL = errors.New("invalid market url")
	ErrMarketNotFound   = errors.New("market not found")
	ErrNotBinary        = errors.New("market is not a binary yes/no market")
)

// Config holds endpoints and client tuning shared by every component of this package.
type Config struct {
	GammaURL     string
	ClobURL      string
	WebsocketURL string

	Timeout      time.Duration
	RetryCount   int
	PollInterval time.Duration
	PingPeriod   time.Duration

	// MaxTokens bounds a single subscription.
	MaxTokens int
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		GammaURL:     "https://gamma-api.polymarket.com",
		ClobURL:      "https://clob.polymarket.com",
		WebsocketURL: "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		Timeout:      10 * time.Second,
		RetryCount:   2,
		PollInterval: 2 * time.Second,
		PingPeriod:   10 * time.Second,
		MaxTokens:    2,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func withDefaults(cfg *Config) (Config, error) {
	def := DefaultConfig()
	if cfg == nil {
		return def, nil
	}

	out := *cfg
	if out.GammaURL == "" {
		out.GammaURL = def.GammaURL
	}
	if out.ClobURL == "" {
		out.ClobURL = def.ClobURL
	}
	if out.WebsocketURL == "" {
		out.WebsocketURL = def.WebsocketURL
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.RetryCount < 0 {
		return Config{}, fmt.Errorf("%w: retry count must not be negative, got %d", ErrInvalidConfig, out.RetryCount)
	}
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.PingPeriod <= 0 {
		out.PingPeriod = def.PingPeriod
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = def.MaxTokens
	}

	out.GammaURL = strings.TrimSuffix(out.GammaURL, "/")
	out.ClobURL = strings.TrimSuffix(out.ClobURL, "/")
	return out, nil
}

// newRESTClient builds the resty client used for Gamma and CLOB requests.
// 429 and 5xx responses are retried, honoring Retry-After when present.
func newRESTClient(baseURL string, cfg Config) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "delaycast/1.0").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return err != nil
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp == nil || resp.StatusCode() != http.StatusTooManyRequests {
				return 0, nil
			}
			if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second, nil
			}
			return 0, nil
		})
}

// checkResponse turns transport errors and non-2xx responses into errors.
func checkResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%s: unexpected status %s: %s", what, resp.Status(), body)
	}
	return nil
}

// parseProbability parses a price string into a probability in [0, 1].
func parseProbability(s string) (*float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("price %s outside [0, 1]", d.String())
	}
	v := d.InexactFloat64()
	return &v, nil
}

// orderLevel is one side entry in a book snapshot.
type orderLevel struct {
	Price string `json:"price" validate:"required,numeric"`
	Size  string `json:"size" validate:"omitempty,numeric"`
}

// bestLevels returns the highest bid and lowest ask. Empty sides yield nil.
func bestLevels(bids, asks []orderLevel) (bestBid, bestAsk *float64) {
	var bid, ask decimal.Decimal
	haveBid, haveAsk := false, false

	for _, l := range bids {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		if !haveBid || p.GreaterThan(bid) {
			bid, haveBid = p, true
		}
	}
	for _, l := range asks {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		if !haveAsk || p.LessThan(ask) {
			ask, haveAsk = p, true
		}
	}

	if haveBid {
		v := bid.InexactFloat64()
		bestBid = &v
	}
	if haveAsk {
		v := ask.InexactFloat64()
		bestAsk = &v
	}
	return bestBid, bestAsk
}
