// Package main wires the Sokoni client core: durable outbound queue,
// reference-data cache, network sampler and the UI event bridge.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sokoniapp/sokoni-core/internal/cache"
	"github.com/sokoniapp/sokoni-core/internal/config"
	"github.com/sokoniapp/sokoni-core/internal/connectivity"
	"github.com/sokoniapp/sokoni-core/internal/db"
	"github.com/sokoniapp/sokoni-core/internal/events"
	"github.com/sokoniapp/sokoni-core/internal/logging"
	"github.com/sokoniapp/sokoni-core/internal/netprobe"
	"github.com/sokoniapp/sokoni-core/internal/queue"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(cfg.Log)
	log := logging.L()
	log.Info().Str("version", Version).Msg("sokoni core starting")

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize migrator")
	}
	if err := migrator.Up(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	if err := migrator.Verify(); err != nil {
		log.Fatal().Err(err).Msg("migration verification failed")
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub()

	// The host platform pushes real connectivity state in; assume online
	// until told otherwise.
	monitor := connectivity.NewMonitor(true)
	monitor.Subscribe(func(online bool) {
		hub.Publish(events.EventConnectivityChanged, map[string]interface{}{
			"online": online,
		})
	})

	store := cache.New(repo)
	defer store.Close()

	sweeper := cache.NewSweeper(store, cfg.Cache.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	transport := queue.NewHTTPTransport(cfg.Endpoint, cfg.Queue.DeliveryTimeout)
	outbound := queue.New(repo, transport, monitor, hub, queue.Config{
		MaxRetries: cfg.Queue.MaxRetries,
		AutoSync:   cfg.Queue.AutoSync,
	})
	defer outbound.Close()

	sampler := netprobe.New(monitor, hub, netprobe.Config{
		ProbeURL:       cfg.Network.ProbeURL,
		ProbeTimeout:   cfg.Network.ProbeTimeout,
		SampleInterval: cfg.Network.SampleInterval,
		HistorySize:    cfg.Network.HistorySize,
		AverageWindow:  cfg.Network.AverageWindow,
	})
	sampler.Start(ctx)
	defer sampler.Stop()

	wsHub := NewWSHub(hub)
	mux := http.NewServeMux()
	mux.HandleFunc("/events", wsHub.ServeWS)

	server := &http.Server{Addr: cfg.WSAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.WSAddr).Msg("ui event bridge listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("event bridge server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	server.Shutdown(context.Background())
}
