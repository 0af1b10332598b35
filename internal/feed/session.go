package feed

import (
	"time"

	"delaycast/internal/model"
	"delaycast/internal/series"
)

// Session is the live state for one resolved market.
type Session struct {
	market model.MarketRef
	yes    *series.TimeSeries
	no     *series.TimeSeries
	books  map[string]*model.TopOfBook
}

// NewSession creates an active session for market with empty books for both
// tokens and fresh series bounded by opts.
func NewSession(market model.MarketRef, opts series.Options) *Session {
	return &Session{
		market: market,
		yes:    series.New(opts),
		no:     series.New(opts),
		books: map[string]*model.TopOfBook{
			market.YesTokenID: {},
			market.NoTokenID:  {},
		},
	}
}

// Market returns the market this session was created for.
func (s *Session) Market() model.MarketRef {
	return s.market
}

// Relabel replaces the market metadata when market has the same token pair.
// Buffers and books are kept. It reports whether the metadata was replaced.
func (s *Session) Relabel(market model.MarketRef) bool {
	if !s.market.SamePair(market) {
		return false
	}
	s.market = market
	return true
}

// Series returns the probability series of the given outcome.
func (s *Session) Series(o model.Outcome) *series.TimeSeries {
	if o == model.OutcomeNo {
		return s.no
	}
	return s.yes
}

// Book returns a copy of the top of book for tokenID.
func (s *Session) Book(tokenID string) (model.TopOfBook, bool) {
	b, ok := s.books[tokenID]
	if !ok {
		return model.TopOfBook{}, false
	}
	return *b, true
}

// Apply merges u into its token's book, derives both probabilities and pushes
// every finite result at nowMs. Updates for tokens outside the pair are
// ignored. It reports whether u touched this session.
func (s *Session) Apply(u model.BookUpdate, nowMs int64) bool {
	book, ok := s.books[u.TokenID]
	if !ok {
		return false
	}

	if u.BestBid != nil {
		v := *u.BestBid
		book.BestBid = &v
	}
	if u.BestAsk != nil {
		v := *u.BestAsk
		book.BestAsk = &v
	}
	if u.Last != nil {
		v := *u.Last
		book.Last = &v
	}
	updated := time.UnixMilli(nowMs)
	book.UpdatedAt = &updated

	yesBook := *s.books[s.market.YesTokenID]
	noBook := *s.books[s.market.NoTokenID]

	if p, ok := BlendedYes(yesBook, noBook); ok && isFinite(p) {
		s.yes.Push(model.PricePoint{T: nowMs, P: p})
	}
	if p, ok := BlendedNo(yesBook, noBook); ok && isFinite(p) {
		s.no.Push(model.PricePoint{T: nowMs, P: p})
	}
	return true
}
