package view

import (
	"delaycast/internal/model"
	"delaycast/internal/series"
)

// Readout is the point estimate shown next to the chart.
//
// Exactly one of three shapes is produced:
//   - Available with Point set: the newest live sample at or before the cutoff
//   - not Available with CountdownSeconds set: samples exist but are all newer than the cutoff
//   - not Available without a countdown: nothing has been buffered yet
type Readout struct {
	Available        bool              `json:"available"`
	Point            *model.PricePoint `json:"point,omitempty"`
	CountdownSeconds *int64            `json:"countdown_seconds,omitempty"`
}

// PointEstimate returns the readout for nowMs and delayMs from the live series.
//
// No interpolation is done: only a sample at or before the cutoff is ever
// returned, so the value can never come from after the spoiler boundary.
func PointEstimate(live *series.TimeSeries, nowMs, delayMs int64) Readout {
	if live == nil {
		return Readout{}
	}

	cutoff := DisplayCutoff(nowMs, delayMs)
	if p, ok := live.AtOrBefore(cutoff); ok {
		return Readout{Available: true, Point: &p}
	}

	first, ok := live.First()
	if !ok {
		return Readout{}
	}

	remainingMs := first.T + delayMs - nowMs
	if remainingMs < 0 {
		remainingMs = 0
	}
	// ceil for non-negative integers
	seconds := (remainingMs + 999) / 1000
	return Readout{CountdownSeconds: &seconds}
}
