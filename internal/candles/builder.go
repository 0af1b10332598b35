// Package candles provides OHLC (Open, High, Low, Close) candle aggregation over
// probability samples.
//
// BuildCandles is a pure function: it never mutates its input, keeps no state
// between calls and performs no I/O, which makes it cheap to call on every view
// refresh. Buckets are keyed by floor(t / interval) * interval and missing buckets
// between real candles are filled with flat candles carrying the previous close.
package candles

import (
	"sort"

	"delaycast/internal/model"
)

// buildOptions holds the toggles accepted by BuildCandles.
type buildOptions struct {
	gapFill bool
}

// Option customizes BuildCandles.
type Option func(*buildOptions)

// WithoutGapFill disables synthetic candles between non-adjacent buckets.
func WithoutGapFill() Option {
	return func(o *buildOptions) {
		o.gapFill = false
	}
}

// WithGapFill sets gap filling explicitly.
func WithGapFill(enabled bool) Option {
	return func(o *buildOptions) {
		o.gapFill = enabled
	}
}

// BucketStart returns the start of the interval bucket containing t.
//
// Floor division is used so that negative timestamps land in the bucket below
// zero instead of being truncated toward it.
func BucketStart(t, intervalMs int64) int64 {
	q := t / intervalMs
	if t%intervalMs != 0 && t < 0 {
		q--
	}
	return q * intervalMs
}

// FlatCandle returns a doji candle at t where every price equals price.
func FlatCandle(t int64, price float64) model.Candle {
	return model.Candle{T: t, Open: price, High: price, Low: price, Close: price}
}

// BuildCandles aggregates points into ordered candles of intervalMs width.
//
// An empty input or a non-positive interval yields an empty slice. Points are
// sorted stably by timestamp when needed; the order of equal timestamps is
// otherwise preserved from the input. Within a bucket the first point sets the
// open, every point updates high and low, and the last point sets the close.
func BuildCandles(points []model.PricePoint, intervalMs int64, opts ...Option) []model.Candle {
	cfg := buildOptions{gapFill: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if intervalMs <= 0 || len(points) == 0 {
		return []model.Candle{}
	}

	ordered := points
	if !isSorted(points) {
		ordered = make([]model.PricePoint, len(points))
		copy(ordered, points)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].T < ordered[j].T
		})
	}

	// Sorted input means buckets arrive in order, so a single running
	// accumulator replaces the per-bucket map.
	sparse := make([]model.Candle, 0, estimateBuckets(ordered, intervalMs))
	for _, p := range ordered {
		bucket := BucketStart(p.T, intervalMs)

		if n := len(sparse); n > 0 && sparse[n-1].T == bucket {
			current := &sparse[n-1]
			if p.P > current.High {
				current.High = p.P
			}
			if p.P < current.Low {
				current.Low = p.P
			}
			current.Close = p.P
			continue
		}

		sparse = append(sparse, FlatCandle(bucket, p.P))
	}

	if !cfg.gapFill {
		return sparse
	}
	return fillGaps(sparse, intervalMs)
}

// fillGaps inserts flat candles at every missing bucket between neighbours.
func fillGaps(sparse []model.Candle, intervalMs int64) []model.Candle {
	if len(sparse) < 2 {
		return sparse
	}

	total := int((sparse[len(sparse)-1].T-sparse[0].T)/intervalMs) + 1
	if total == len(sparse) {
		return sparse
	}

	filled := make([]model.Candle, 0, total)
	filled = append(filled, sparse[0])
	for _, c := range sparse[1:] {
		prev := filled[len(filled)-1]
		for t := prev.T + intervalMs; t < c.T; t += intervalMs {
			filled = append(filled, FlatCandle(t, prev.Close))
		}
		filled = append(filled, c)
	}
	return filled
}

// ExtendTo appends flat candles carrying the last close through the bucket
// starting at until. The input is returned unchanged when it is empty or
// already reaches until.
func ExtendTo(candles []model.Candle, intervalMs, until int64) []model.Candle {
	if len(candles) == 0 || intervalMs <= 0 {
		return candles
	}

	last := candles[len(candles)-1]
	for t := last.T + intervalMs; t <= until; t += intervalMs {
		candles = append(candles, FlatCandle(t, last.Close))
	}
	return candles
}

func isSorted(points []model.PricePoint) bool {
	for i := 1; i < len(points); i++ {
		if points[i].T < points[i-1].T {
			return false
		}
	}
	return true
}

// estimateBuckets sizes the sparse slice from the sorted span of the input.
func estimateBuckets(ordered []model.PricePoint, intervalMs int64) int {
	span := (ordered[len(ordered)-1].T-ordered[0].T)/intervalMs + 1
	if span > int64(len(ordered)) {
		return len(ordered)
	}
	return int(span)
}
