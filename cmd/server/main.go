/*
Package main implements the delaycast server.

The server resolves a Polymarket market, follows both outcome tokens over the
CLOB websocket (falling back to polling), and serves a spoiler-safe delayed
view of the YES/NO probability over HTTP and a websocket stream. It supports
graceful shutdown and health checks.

Usage:

	go run main.go -config=delaycast.yaml

Every configuration key can be overridden with a DELAYCAST_* environment
variable, e.g. DELAYCAST_VIEW_DELAY_SECONDS=30. A .env file in the working
directory is loaded first when present.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delaycast/internal/api"
	"delaycast/internal/candles"
	"delaycast/internal/config"
	"delaycast/internal/logging"
	"delaycast/internal/model"
	"delaycast/internal/polymarket"
	"delaycast/internal/series"
	"delaycast/internal/service"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Command-line flags for configuring the server behavior
var (
	configPath = flag.String("config", "", "Optional path to a YAML config file")
	envFile    = flag.String("env", ".env", "Optional dotenv file loaded before the environment is read")
)

func main() {
	flag.Parse()

	// Best effort: a missing .env falls back to the real environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", *envFile).Msg("failed to load env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller, err := newController(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initiate controller")
	}
	if err := controller.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start controller")
	}

	if cfg.View.Market != "" {
		go func() {
			ref, err := controller.SetMarket(ctx, cfg.View.Market)
			if err != nil {
				log.Error().Err(err).Str("market", cfg.View.Market).Msg("failed to select startup market")
				return
			}
			log.Info().Str("question", ref.Question).Msg("startup market selected")
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(api.Config{}, controller, controller).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shut down on interrupt: stop accepting requests, then stop the pipeline.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("initiating graceful shutdown")

		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()

		// Stopping the controller closes every stream so Shutdown is not left
		// waiting on hijacked websocket connections.
		if err := controller.Stop(); err != nil {
			log.Warn().Err(err).Msg("controller stop failed")
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown failed")
		}
		cancel()
	}()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Int("delay_seconds", cfg.View.DelaySeconds).
		Str("timeframe", cfg.View.Timeframe).
		Str("outcome", cfg.View.Outcome).
		Bool("push", !cfg.Polymarket.DisablePush).
		Msg("server starting")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to serve")
	}
	<-ctx.Done()
}

// newController builds the upstream sources and the controller that owns
// them.
func newController(cfg *config.Config) (*service.Controller, error) {
	pm := &polymarket.Config{
		GammaURL:     cfg.Polymarket.GammaURL,
		ClobURL:      cfg.Polymarket.ClobURL,
		WebsocketURL: cfg.Polymarket.WebsocketURL,
		Timeout:      cfg.Polymarket.Timeout,
		RetryCount:   cfg.Polymarket.RetryCount,
		PollInterval: cfg.Polymarket.PollInterval,
		PingPeriod:   cfg.Polymarket.PingPeriod,
	}

	resolver, err := polymarket.NewResolver(pm)
	if err != nil {
		log.Error().Err(err).Msg("failed to create market resolver")
		return nil, err
	}

	history, err := polymarket.NewHistoryClient(pm)
	if err != nil {
		log.Error().Err(err).Msg("failed to create history client")
		return nil, err
	}

	poller, err := polymarket.NewPollSource(pm)
	if err != nil {
		log.Error().Err(err).Msg("failed to create poll source")
		return nil, err
	}

	sources := service.Sources{
		Resolver: resolver,
		History:  history,
		Pull:     poller,
	}

	if !cfg.Polymarket.DisablePush {
		stream, err := polymarket.NewStreamSource(pm)
		if err != nil {
			log.Error().Err(err).Msg("failed to create stream source")
			return nil, err
		}
		sources.Push = stream
	}

	// Validated by config.Load.
	tf, _ := candles.LookupTimeframe(cfg.View.Timeframe)

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		MaxSubscribers: cfg.Server.MaxSubscribers,
	})

	return service.NewController(service.ControllerConfig{
		Defaults: service.Settings{
			Delay:     cfg.View.Delay(),
			Timeframe: tf,
			Outcome:   model.Outcome(cfg.View.Outcome),
		},
		RefreshInterval: cfg.View.RefreshInterval,
		Series: series.Options{
			MaxPoints: cfg.Series.MaxPoints,
			MaxAge:    cfg.Series.MaxAge,
		},
		MaxCandles: cfg.View.MaxCandles,
	}, sources, dispatcher), nil
}
