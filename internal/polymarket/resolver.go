package polymarket

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"delaycast/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// MarketLocator is a parsed market URL.
type MarketLocator struct {
	EventSlug  string
	MarketSlug string
}

// ParseMarketURL accepts
//
//	https://polymarket.com/event/<event>
//	https://polymarket.com/event/<event>/<market>
//	https://polymarket.com/market/<market>
//	<slug>
//
// Locale prefixes, query strings and fragments are ignored.
func ParseMarketURL(raw string) (MarketLocator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MarketLocator{}, fmt.Errorf("%w: empty input", ErrInvalidMarketURL)
	}

	if !strings.Contains(raw, "/") {
		if !isSlug(raw) {
			return MarketLocator{}, fmt.Errorf("%w: %q is not a slug", ErrInvalidMarketURL, raw)
		}
		return MarketLocator{MarketSlug: raw}, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return MarketLocator{}, fmt.Errorf("%w: %v", ErrInvalidMarketURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "polymarket.com" {
		return MarketLocator{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidMarketURL, u.Hostname())
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	for i, p := range parts {
		rest := parts[i+1:]
		switch p {
		case "event":
			if len(rest) == 0 || !isSlug(rest[0]) {
				return MarketLocator{}, fmt.Errorf("%w: missing event slug", ErrInvalidMarketURL)
			}
			loc := MarketLocator{EventSlug: rest[0]}
			if len(rest) > 1 && isSlug(rest[1]) {
				loc.MarketSlug = rest[1]
			}
			return loc, nil
		case "market":
			if len(rest) == 0 || !isSlug(rest[0]) {
				return MarketLocator{}, fmt.Errorf("%w: missing market slug", ErrInvalidMarketURL)
			}
			return MarketLocator{MarketSlug: rest[0]}, nil
		}
	}

	return MarketLocator{}, fmt.Errorf("%w: no /event/ or /market/ segment in %q", ErrInvalidMarketURL, u.Path)
}

func isSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Resolver turns market URLs into token pairs using the Gamma API.
type Resolver struct {
	client *resty.Client
}

// NewResolver creates a Resolver. A nil cfg uses DefaultConfig.
func NewResolver(cfg *Config) (*Resolver, error) {
	c, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return &Resolver{client: newRESTClient(c.GammaURL, c)}, nil
}

// Resolve looks up the binary market behind marketURL.
//
// A market slug is looked up directly; when that finds nothing, or when only an
// event slug is known, the event is fetched and its first binary market is
// used. ErrMarketNotFound, ErrNotBinary and ErrInvalidMarketURL are wrapped so
// callers can match them with errors.Is.
func (r *Resolver) Resolve(ctx context.Context, marketURL string) (model.MarketRef, error) {
	loc, err := ParseMarketURL(marketURL)
	if err != nil {
		return model.MarketRef{}, err
	}

	logger := log.With().
		Str("component", "resolver").
		Str("event", loc.EventSlug).
		Str("market", loc.MarketSlug).
		Logger()

	sawMarkets := false

	if loc.MarketSlug != "" {
		markets, err := r.fetch(ctx, "/markets", loc.MarketSlug)
		if err != nil {
			return model.MarketRef{}, err
		}
		sawMarkets = len(markets) > 0
		if ref, ok := firstBinary(markets); ok {
			logger.Info().Str("question", ref.Question).Msg("market resolved")
			return ref, nil
		}
	}

	eventSlug := loc.EventSlug
	if eventSlug == "" {
		// bare slugs may name an event rather than a market
		eventSlug = loc.MarketSlug
	}

	events, err := r.fetch(ctx, "/events", eventSlug)
	if err != nil {
		return model.MarketRef{}, err
	}
	var markets []gjson.Result
	for _, e := range events {
		markets = append(markets, e.Get("markets").Array()...)
	}
	if len(markets) > 0 {
		sawMarkets = true
	}

	if loc.MarketSlug != "" && loc.EventSlug != "" {
		for _, m := range markets {
			if m.Get("slug").String() == loc.MarketSlug {
				if ref, ok := toMarketRef(m); ok {
					logger.Info().Str("question", ref.Question).Msg("market resolved from event")
					return ref, nil
				}
			}
		}
	}

	if ref, ok := firstBinary(markets); ok {
		logger.Info().Str("question", ref.Question).Msg("market resolved from event")
		return ref, nil
	}

	if sawMarkets {
		return model.MarketRef{}, fmt.Errorf("%w: %s", ErrNotBinary, marketURL)
	}
	return model.MarketRef{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketURL)
}

// fetch queries a Gamma collection by slug and returns its items.
func (r *Resolver) fetch(ctx context.Context, endpoint, slug string) ([]gjson.Result, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		Get(endpoint)
	if err := checkResponse(resp, err, "gamma "+endpoint); err != nil {
		return nil, err
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("gamma %s: invalid json response", endpoint)
	}
	items := gjson.ParseBytes(body)
	if !items.IsArray() {
		return nil, fmt.Errorf("gamma %s: expected a json array", endpoint)
	}
	return items.Array(), nil
}

func firstBinary(markets []gjson.Result) (model.MarketRef, bool) {
	for _, m := range markets {
		if ref, ok := toMarketRef(m); ok {
			return ref, true
		}
	}
	return model.MarketRef{}, false
}

// toMarketRef converts a Gamma market object. outcomes and clobTokenIds are
// usually JSON arrays encoded as strings.
func toMarketRef(m gjson.Result) (model.MarketRef, bool) {
	outcomes := stringList(m.Get("outcomes"))
	tokens := stringList(m.Get("clobTokenIds"))
	if len(outcomes) != 2 || len(tokens) != 2 || tokens[0] == "" || tokens[1] == "" || tokens[0] == tokens[1] {
		return model.MarketRef{}, false
	}

	ref := model.MarketRef{
		YesTokenID: tokens[0],
		NoTokenID:  tokens[1],
		YesLabel:   outcomes[0],
		NoLabel:    outcomes[1],
		EndDateISO: m.Get("endDate").String(),
		Question:   m.Get("question").String(),
		Slug:       m.Get("slug").String(),
	}
	if strings.EqualFold(ref.YesLabel, "no") && strings.EqualFold(ref.NoLabel, "yes") {
		ref.YesTokenID, ref.NoTokenID = ref.NoTokenID, ref.YesTokenID
		ref.YesLabel, ref.NoLabel = ref.NoLabel, ref.YesLabel
	}
	return ref, true
}

func stringList(v gjson.Result) []string {
	if v.Type == gjson.String {
		v = gjson.Parse(v.String())
	}
	if !v.IsArray() {
		return nil
	}
	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}
