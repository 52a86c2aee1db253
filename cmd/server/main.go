package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/groundvoice/internal/callarbiter"
	"github.com/dkeye/groundvoice/internal/config"
	"github.com/dkeye/groundvoice/internal/datafeed"
	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/gateway"
	"github.com/dkeye/groundvoice/internal/ice"
	"github.com/dkeye/groundvoice/internal/identity"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/dkeye/groundvoice/internal/ratelimit"
	"github.com/dkeye/groundvoice/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := pflag.NewFlagSet("groundvoice-server", pflag.ContinueOnError)
	flags.String("listen", ":8080", "address to listen on, e.g. :8080 or 0.0.0.0:8080")
	flags.String("log-level", "info", "zerolog level (debug, info, warn, error)")
	configPath := flags.String("config", "", "optional explicit config file path (overrides CONFIG_ENV lookup)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *configPath != "" {
		_ = os.Setenv("CONFIG_ENV", *configPath)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	registry := session.NewRegistry()
	defer registry.Close()

	arbiter := callarbiter.New(registry)
	defer arbiter.Close()

	limiter := ratelimit.NewLimiter(nil)

	identityClient := identity.NewClient(cfg.IdentityEndpoint, cfg.IdentityClientID, cfg.IdentityClientSecret)

	iceMinter := ice.NewMinter(ice.Config{
		StunURLs:  cfg.StunURLs,
		TurnURLs:  cfg.TurnURLs,
		TurnRealm: cfg.TurnRealm,
		Secret:    cfg.TurnSecret,
		TTL:       cfg.IceTTL,
	})

	gw := &gateway.Gateway{
		Registry:    registry,
		Arbiter:     arbiter,
		RateLimiter: limiter,
		Identity:    identityClient,
		IceMinter:   iceMinter,
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
	}

	feedCtx, feedCancel := context.WithCancel(ctx)
	defer feedCancel()
	poller := &datafeed.Poller{
		Fetcher:  datafeed.NewHTTPFetcher(cfg.DataFeedURL),
		Registry: registry,
		Interval: cfg.DataFeedInterval,
		OnInfoChanged: func(info domain.ClientInfo) {
			gw.Broadcast(info.ID, protocol.ClientConnected{Client: info})
		},
		OnStale: func(id domain.ClientID) {
			entry, ok := registry.Lookup(id)
			if !ok {
				return
			}
			_ = entry.Conn.Close()
			if registry.Deregister(id, entry.Generation) {
				arbiter.ClientGone(id)
				limiter.ForgetClient(id)
				gw.Broadcast(id, protocol.ClientDisconnected{ID: id})
			}
		},
	}
	go poller.Run(feedCtx)

	r := gateway.SetupRouter(cfg, gw)
	addr := cfg.Listen

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("groundvoice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return 1
	}
	log.Info().Msg("server exited gracefully")
	return 0
}
