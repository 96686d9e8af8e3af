package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moltrade/relayer/pkg/api"
	"github.com/moltrade/relayer/pkg/config"
	"github.com/moltrade/relayer/pkg/dedup"
	"github.com/moltrade/relayer/pkg/fanout"
	"github.com/moltrade/relayer/pkg/kvstore"
	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
	"github.com/moltrade/relayer/pkg/nostr"
	"github.com/moltrade/relayer/pkg/relaypool"
	"github.com/moltrade/relayer/pkg/republish"
	"github.com/moltrade/relayer/pkg/router"
	"github.com/moltrade/relayer/pkg/settlement"
	"github.com/moltrade/relayer/pkg/store"
)

// run wires the pipeline and blocks until SIGINT/SIGTERM
func run(cfg *config.Config) error {
	logger := log.WithComponent("main")
	logger.Info().Msg("starting moltrade relayer")

	// Durable KV + dedup engine
	kv, err := kvstore.Open(cfg.Deduplication.KVPath)
	if err != nil {
		return fmt.Errorf("failed to open KV store: %w", err)
	}
	defer kv.Close()

	engine, err := dedup.NewEngineWithParams(
		kv,
		cfg.Deduplication.HotsetSize,
		cfg.Deduplication.BloomCapacity,
		cfg.Deduplication.LRUSize,
	)
	if err != nil {
		return fmt.Errorf("failed to build dedup engine: %w", err)
	}
	engine.WarmFromStore(cfg.Deduplication.HotsetSize)
	logger.Info().Msg("deduplication engine initialized")

	// Platform keys (optional: without them encrypted kinds are forwarded
	// but never decrypted or fanned out)
	var keys *nostr.Keys
	if cfg.Nostr != nil && cfg.Nostr.SecretKey != "" {
		keys, err = nostr.ParseKeys(cfg.Nostr.SecretKey)
		if err != nil {
			return fmt.Errorf("failed to parse platform secret key: %w", err)
		}
	}

	// Relay pool
	pool, events := relaypool.New(
		time.Duration(cfg.Relay.HealthCheckInterval)*time.Second,
		cfg.Relay.MaxConnections,
		cfg.Filters.AllowedKinds,
	)
	pool.StartHealthChecks()
	if err := pool.SubscribeAll(cfg.Relay.BootstrapRelays); err != nil {
		return fmt.Errorf("failed to subscribe to relays: %w", err)
	}
	logger.Info().Int("relays", len(cfg.Relay.BootstrapRelays)).Msg("relay pool initialized")

	// Optional relational store
	var subs *store.Service
	if cfg.Postgres != nil && cfg.Postgres.DSN != "" {
		subs, err = store.New(cfg.Postgres.DSN, cfg.Postgres.MaxConnections)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		logger.Info().Msg("subscription store initialized")
	}

	// Re-publisher + platform key tracking
	var publisher *republish.Republisher
	platformPubkey := ""
	if keys != nil {
		publisher = republish.New(keys, pool)
		platformPubkey = keys.PublicKeyHex()
	}
	if subs != nil && platformPubkey != "" {
		var rotation store.RotationPublisher
		if publisher != nil {
			rotation = publisher
		}
		if err := subs.EnsurePlatformPubkey(platformPubkey, rotation); err != nil {
			logger.Warn().Err(err).Msg("failed to record platform pubkey")
		}
	}

	// Push fanout sink
	var sink *fanout.Sink
	if subs != nil && cfg.Output.WebsocketEnabled {
		sink = fanout.NewSink(4096)
		go sink.Run()
	}

	// Settlement worker. It has no shutdown hook: every effect is
	// idempotent and it dies with the process.
	if subs != nil && cfg.Settlement != nil {
		settlement.New(
			subs,
			cfg.Settlement.ExplorerBase,
			time.Duration(cfg.Settlement.PollSecs)*time.Second,
			cfg.Settlement.BatchLimit,
			cfg.Settlement.Credit,
		).Start()
	}

	// Event router
	downstream := make(chan *nostr.Event, 65536)
	opts := router.Options{
		AllowedKinds: cfg.Filters.AllowedKinds,
		Keys:         keys,
	}
	if subs != nil {
		opts.Store = subs
	}
	if sink != nil {
		opts.Sink = sink
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	rt := router.New(
		engine,
		cfg.Output.BatchSize,
		time.Duration(cfg.Output.MaxLatencyMs)*time.Millisecond,
		downstream,
		opts,
	)

	routerDone := make(chan struct{})
	go func() {
		rt.ProcessStream(events)
		close(routerDone)
	}()

	// The downstream channel is where an external forwarder would attach;
	// with fanout handled per follower the raw stream only needs draining.
	go func() {
		for ev := range downstream {
			logger.Debug().Str("event_id", ev.ID).Int("kind", ev.Kind).Msg("event forwarded")
		}
	}()

	// Admin API + push endpoint
	var settlementToken string
	if cfg.Settlement != nil {
		settlementToken = cfg.Settlement.Token
	}
	apiCfg := api.Config{
		Pool:            pool,
		Dedup:           engine,
		Sink:            sink,
		PlatformPubkey:  platformPubkey,
		SettlementToken: settlementToken,
	}
	if subs != nil {
		apiCfg.Store = subs
	}
	server := api.NewServer(apiCfg)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Output.WebsocketPort)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stopSampler := metrics.StartMemorySampler(5 * time.Second)
	defer stopSampler()

	logger.Info().Str("addr", addr).Msg("moltrade relayer started")

	// Wait for shutdown signal or a fatal server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	// Closing the pool closes the fan-in channel; the router flushes its
	// remaining buffer and exits.
	pool.Stop()
	<-routerDone

	if sink != nil {
		sink.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
