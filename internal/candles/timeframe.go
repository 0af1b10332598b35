package candles

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe describes a selectable candle width and the shape of the history
// request used to backfill it.
type Timeframe struct {
	// Name is the selector value, e.g. "1m".
	Name string `json:"name"`

	// Interval is the candle width.
	Interval time.Duration `json:"interval"`

	// HistoryWindow is the upstream prices-history "interval" parameter
	// ("1h", "6h", "1d", "1w", "max").
	HistoryWindow string `json:"history_window"`

	// HistoryFidelity is the upstream sample resolution in minutes.
	HistoryFidelity int `json:"history_fidelity"`
}

// IntervalMs returns the candle width in milliseconds.
func (tf Timeframe) IntervalMs() int64 {
	return tf.Interval.Milliseconds()
}

// timeframes is ordered from the finest to the coarsest width.
var timeframes = []Timeframe{
	{Name: "5s", Interval: 5 * time.Second, HistoryWindow: "1h", HistoryFidelity: 1},
	{Name: "15s", Interval: 15 * time.Second, HistoryWindow: "6h", HistoryFidelity: 1},
	{Name: "1m", Interval: time.Minute, HistoryWindow: "1d", HistoryFidelity: 1},
	{Name: "5m", Interval: 5 * time.Minute, HistoryWindow: "1w", HistoryFidelity: 5},
	{Name: "15m", Interval: 15 * time.Minute, HistoryWindow: "1w", HistoryFidelity: 15},
	{Name: "1h", Interval: time.Hour, HistoryWindow: "max", HistoryFidelity: 60},
}

// DefaultTimeframe is used when no timeframe has been selected.
const DefaultTimeframe = "1m"

// Timeframes returns the supported timeframes, finest first.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

// LookupTimeframe returns the timeframe with the given name (case-insensitive).
func LookupTimeframe(name string) (Timeframe, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, tf := range timeframes {
		if tf.Name == name {
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("unknown timeframe %q (supported: %s)", name, timeframeNames())
}

func timeframeNames() string {
	names := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		names = append(names, tf.Name)
	}
	return strings.Join(names, ", ")
}
