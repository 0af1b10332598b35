// Package view composes the spoiler-safe view of a market: the candle series and
// point-estimate readout as of "now minus delay".
//
// Everything in this package is a pure function of its inputs. The service layer
// calls Derive on every clock tick, buffer push and settings change; no value
// timestamped after the display cutoff can ever appear in the result.
package view

import (
	"sort"

	"delaycast/internal/candles"
	"delaycast/internal/model"
	"delaycast/internal/series"
)

// DisplayCutoff returns the spoiler boundary for nowMs and delayMs.
func DisplayCutoff(nowMs, delayMs int64) int64 {
	return nowMs - delayMs
}

// DelayedCandles builds the candle series to display at nowMs.
//
// Backfill and live points newer than the cutoff are dropped on every call,
// the remainder is aggregated backfill first, and the result is extended with
// flat candles up to the bucket containing the cutoff so the chart keeps moving
// when no ticks arrive. maxCandles > 0 keeps only the newest candles.
func DelayedCandles(live *series.TimeSeries, backfill []model.PricePoint, nowMs, delayMs, intervalMs int64, maxCandles int) []model.Candle {
	if intervalMs <= 0 {
		return []model.Candle{}
	}
	cutoff := DisplayCutoff(nowMs, delayMs)

	visibleBackfill := upTo(backfill, cutoff)
	var visibleLive []model.PricePoint
	if live != nil {
		visibleLive = live.UpTo(cutoff)
	}

	merged := make([]model.PricePoint, 0, len(visibleBackfill)+len(visibleLive))
	merged = append(merged, visibleBackfill...)
	merged = append(merged, visibleLive...)

	out := candles.BuildCandles(merged, intervalMs)
	out = candles.ExtendTo(out, intervalMs, candles.BucketStart(cutoff, intervalMs))

	if maxCandles > 0 && len(out) > maxCandles {
		out = out[len(out)-maxCandles:]
	}
	return out
}

// upTo returns the prefix of points with T <= cutoff. Backfill arrives sorted,
// so a binary search finds the boundary; anything unsorted is filtered linearly.
func upTo(points []model.PricePoint, cutoff int64) []model.PricePoint {
	if sort.SliceIsSorted(points, func(i, j int) bool { return points[i].T < points[j].T }) {
		n := sort.Search(len(points), func(i int) bool { return points[i].T > cutoff })
		return points[:n]
	}

	out := make([]model.PricePoint, 0, len(points))
	for _, p := range points {
		if p.T <= cutoff {
			out = append(out, p)
		}
	}
	return out
}
