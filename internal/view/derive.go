package view

import (
	"fmt"
	"time"

	"delaycast/internal/candles"
	"delaycast/internal/model"
	"delaycast/internal/series"
)

// Status summarizes what the consumer should show.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusError   Status = "error"
	StatusWaiting Status = "waiting"
	StatusLive    Status = "live"
	StatusDelayed Status = "delayed"
)

// State is every input the view depends on.
type State struct {
	Market     *model.MarketRef
	Outcome    model.Outcome
	Live       *series.TimeSeries
	Backfill   []model.PricePoint
	NowMs      int64
	Delay      time.Duration
	Timeframe  candles.Timeframe
	MaxCandles int
	Transport  string
	Err        string
}

// ViewModel is the rendered view handed to consumers.
type ViewModel struct {
	Status       Status           `json:"status"`
	Message      string           `json:"message,omitempty"`
	Error        string           `json:"error,omitempty"`
	Market       *model.MarketRef `json:"market,omitempty"`
	Outcome      model.Outcome    `json:"outcome"`
	OutcomeLabel string           `json:"outcome_label,omitempty"`
	DelaySeconds int64            `json:"delay_seconds"`
	Timeframe    string           `json:"timeframe"`
	IntervalMs   int64            `json:"interval_ms"`
	Transport    string           `json:"transport,omitempty"`
	NowMs        int64            `json:"now_ms"`
	CutoffMs     int64            `json:"cutoff_ms"`
	Readout      Readout          `json:"readout"`
	Candles      []model.Candle   `json:"candles"`
}

// Derive computes the view for s. It never fails: missing inputs produce an
// idle, waiting or error view with a message instead.
func Derive(s State) ViewModel {
	delayMs := s.Delay.Milliseconds()
	vm := ViewModel{
		Error:        s.Err,
		Outcome:      s.Outcome,
		DelaySeconds: int64(s.Delay / time.Second),
		Timeframe:    s.Timeframe.Name,
		IntervalMs:   s.Timeframe.IntervalMs(),
		Transport:    s.Transport,
		NowMs:        s.NowMs,
		CutoffMs:     DisplayCutoff(s.NowMs, delayMs),
		Candles:      []model.Candle{},
	}

	if s.Market == nil {
		if s.Err != "" {
			vm.Status = StatusError
			vm.Message = s.Err
		} else {
			vm.Status = StatusIdle
			vm.Message = "Select a market"
		}
		return vm
	}

	market := *s.Market
	vm.Market = &market
	vm.OutcomeLabel = market.Label(s.Outcome)
	vm.Readout = PointEstimate(s.Live, s.NowMs, delayMs)
	vm.Candles = DelayedCandles(s.Live, s.Backfill, s.NowMs, delayMs, vm.IntervalMs, s.MaxCandles)

	switch {
	case !vm.Readout.Available:
		vm.Status = StatusWaiting
		if vm.Readout.CountdownSeconds != nil {
			vm.Message = fmt.Sprintf("Waiting for data (visible in %ds)", *vm.Readout.CountdownSeconds)
		} else {
			vm.Message = "Waiting for data"
		}
	case delayMs == 0:
		vm.Status = StatusLive
	default:
		vm.Status = StatusDelayed
	}

	if len(vm.Candles) == 0 && vm.Message == "" {
		vm.Message = "No candles yet"
	}
	return vm
}
