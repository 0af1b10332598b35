// Package feed maintains top-of-book state for the two outcome tokens of a binary
// market and derives a probability series for each side.
//
// A Session owns everything that belongs to one token-id pair: the YES and NO
// time series and the per-token TopOfBook map. Sessions are never reset field by
// field; when the pair changes the caller builds a new Session and drops the old
// one, so no state can leak from one market into the next.
package feed

import (
	"math"

	"delaycast/internal/model"
)

// Mid returns the mid price of a book.
//
// Preference order: the bid/ask midpoint when both sides exist, the last trade,
// then whichever single side exists. ok is false when nothing is known.
func Mid(tob model.TopOfBook) (float64, bool) {
	switch {
	case tob.BestBid != nil && tob.BestAsk != nil:
		return (*tob.BestBid + *tob.BestAsk) / 2, true
	case tob.Last != nil:
		return *tob.Last, true
	case tob.BestBid != nil:
		return *tob.BestBid, true
	case tob.BestAsk != nil:
		return *tob.BestAsk, true
	default:
		return 0, false
	}
}

// BlendedYes derives the YES probability from both books.
//
// With both mids available it averages mid(yes) and 1-mid(no) and clamps the
// result to [0,1]. Otherwise it falls back to mid(yes), then 1-mid(no).
func BlendedYes(yes, no model.TopOfBook) (float64, bool) {
	my, okYes := Mid(yes)
	mn, okNo := Mid(no)

	switch {
	case okYes && okNo:
		return clamp01((my + (1 - mn)) / 2), true
	case okYes:
		return my, true
	case okNo:
		return 1 - mn, true
	default:
		return 0, false
	}
}

// BlendedNo derives the NO probability: mid(no) directly, else 1-mid(yes).
func BlendedNo(yes, no model.TopOfBook) (float64, bool) {
	if mn, ok := Mid(no); ok {
		return mn, true
	}
	if my, ok := Mid(yes); ok {
		return 1 - my, true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
