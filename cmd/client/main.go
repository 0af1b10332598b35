/*
Package main implements a terminal client for the delayed probability view.

The client optionally selects a market and adjusts settings over the REST
API, then subscribes to the websocket stream and prints one styled readout
line per received view until interrupted.

Usage:

	go run main.go -addr=localhost:8080 -market=https://polymarket.com/event/some-event -delay=30
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"delaycast/internal/view"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Command-line flags for configuring the client connection
var (
	serverAddr = flag.String("addr", "localhost:8080", "The server address in the format host:port")
	market     = flag.String("market", "", "Optional Polymarket URL to select before streaming")
	delay      = flag.Int("delay", -1, "Optional delay in seconds to apply before streaming")
	timeframe  = flag.String("timeframe", "", "Optional candle timeframe to apply before streaming")
	outcome    = flag.String("outcome", "", "Optional outcome (yes|no) to apply before streaming")
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	probStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("2"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))
)

func main() {
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if *serverAddr == "" {
		log.Fatal().Msg("server address cannot be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	rest := resty.New().
		SetBaseURL("http://"+*serverAddr).
		SetTimeout(20*time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	if err := applySettings(ctx, rest); err != nil {
		log.Fatal().Err(err).Msg("failed to apply settings")
	}
	if *market != "" {
		if err := selectMarket(ctx, rest, *market); err != nil {
			log.Fatal().Err(err).Msg("failed to select market")
		}
	}

	wsURL := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", wsURL.String()).Msg("did not connect")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("stream has closed")
			}
			return
		}

		var vm view.ViewModel
		if err := json.Unmarshal(data, &vm); err != nil {
			log.Error().Err(err).Msg("failed to decode view")
			continue
		}
		fmt.Println(renderLine(vm))
	}
}

func selectMarket(ctx context.Context, rest *resty.Client, marketURL string) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	resp, err := rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"url": marketURL}).
		SetError(&apiErr).
		Post("/api/market")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), apiErr.Error)
	}
	return nil
}

func applySettings(ctx context.Context, rest *resty.Client) error {
	body := map[string]any{}
	if *delay >= 0 {
		body["delay_seconds"] = *delay
	}
	if *timeframe != "" {
		body["timeframe"] = *timeframe
	}
	if *outcome != "" {
		body["outcome"] = *outcome
	}
	if len(body) == 0 {
		return nil
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	resp, err := rest.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErr).
		Put("/api/settings")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), apiErr.Error)
	}
	return nil
}

// renderLine formats one view as a single terminal line.
func renderLine(vm view.ViewModel) string {
	var b strings.Builder

	label := vm.OutcomeLabel
	if label == "" {
		label = strings.ToUpper(string(vm.Outcome))
	}
	b.WriteString(labelStyle.Render(label))
	b.WriteString(" ")

	switch {
	case vm.Readout.Available && vm.Readout.Point != nil:
		b.WriteString(probStyle.Render(fmt.Sprintf("%5.1f%%", vm.Readout.Point.P*100)))
	default:
		b.WriteString(dimStyle.Render("  --.-%"))
	}

	b.WriteString(" ")
	b.WriteString(dimStyle.Render(fmt.Sprintf("[%s %s delay=%ds candles=%d]",
		vm.Status, vm.Timeframe, vm.DelaySeconds, len(vm.Candles))))

	if vm.Market != nil && vm.Market.Question != "" {
		b.WriteString(" ")
		b.WriteString(vm.Market.Question)
	}
	if vm.Message != "" {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(vm.Message))
	}
	if vm.Error != "" && vm.Status != view.StatusError {
		b.WriteString(" ")
		b.WriteString(errStyle.Render(vm.Error))
	}
	return b.String()
}
