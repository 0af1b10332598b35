// Package model defines core data types for the delayed probability view.
//
// This package contains the fundamental structures shared by every stage of the
// pipeline: raw top-of-book updates coming from a tick source, the probability
// samples derived from them, the candles aggregated for charting and the view
// model handed to consumers.
//
// Probabilities are plain float64 values in [0,1]. Wire prices arrive as decimal
// strings and are converted at the transport edge, so nothing past the feed
// aggregator needs to care about decimal precision.
package model

import (
	"time"
)

// Outcome identifies one side of a binary market.
type Outcome string

const (
	// OutcomeYes is the YES side of a binary market.
	OutcomeYes Outcome = "yes"

	// OutcomeNo is the NO side of a binary market.
	OutcomeNo Outcome = "no"
)

// Valid reports whether o is one of the two known outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// PricePoint is a single timestamped probability sample.
//
// T is a Unix timestamp in milliseconds and P is the probability in [0,1].
// Points are immutable once created and are ordered by T.
type PricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// Candle is one OHLC bucket of probability samples.
//
// T is the bucket start in Unix milliseconds and is always a multiple of the
// interval the candle was built with.
type Candle struct {
	T     int64   `json:"t"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// TopOfBook holds the best bid, best ask and last trade for one outcome token.
//
// A nil field means the value has never been observed. Fields are overwritten
// by newer updates but never cleared.
type TopOfBook struct {
	BestBid   *float64   `json:"best_bid,omitempty"`
	BestAsk   *float64   `json:"best_ask,omitempty"`
	Last      *float64   `json:"last,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// BookUpdate is a normalized top-of-book event for a single token.
//
// Tick sources emit BookUpdate values regardless of their transport. Only the
// non-nil price fields are applied to the token's TopOfBook.
type BookUpdate struct {
	TokenID   string    // Outcome token identifier
	BestBid   *float64  // Best bid, if this event carries one
	BestAsk   *float64  // Best ask, if this event carries one
	Last      *float64  // Last trade price, if this event carries one
	Timestamp time.Time // Source timestamp (exchange time when known, receive time otherwise)
}

// MarketRef identifies a resolved binary market.
//
// It is produced by a market resolver and consumed read-only by the feed
// aggregator. A change of the (YesTokenID, NoTokenID) pair resets all live state.
type MarketRef struct {
	YesTokenID string `json:"yes_token_id"`
	NoTokenID  string `json:"no_token_id"`
	YesLabel   string `json:"yes_label,omitempty"`
	NoLabel    string `json:"no_label,omitempty"`
	EndDateISO string `json:"end_date_iso,omitempty"`
	Question   string `json:"question,omitempty"`
	Slug       string `json:"slug,omitempty"`
}

// SamePair reports whether r and other reference the same token-id pair.
func (r MarketRef) SamePair(other MarketRef) bool {
	return r.YesTokenID == other.YesTokenID && r.NoTokenID == other.NoTokenID
}

// TokenID returns the token id backing the given outcome.
func (r MarketRef) TokenID(o Outcome) string {
	if o == OutcomeNo {
		return r.NoTokenID
	}
	return r.YesTokenID
}

// Label returns the display label for the given outcome, falling back to
// "Yes"/"No" when the market did not provide one.
func (r MarketRef) Label(o Outcome) string {
	if o == OutcomeNo {
		if r.NoLabel != "" {
			return r.NoLabel
		}
		return "No"
	}
	if r.YesLabel != "" {
		return r.YesLabel
	}
	return "Yes"
}
