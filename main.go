package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pumppulse/config"
	"pumppulse/feed"
	"pumppulse/middleware"
	"pumppulse/models"
	"pumppulse/monitoring"
	"pumppulse/normalize"
	"pumppulse/source"
	"pumppulse/sse"
	"pumppulse/supervisor"
	"pumppulse/utils"
	"pumppulse/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using process environment")
	}

	// Load configuration; a missing credential for an enabled source is
	// a startup failure, not something to retry.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := utils.InitLogger(cfg.App.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer utils.Logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	monitoring.StartMetricsCollection(ctx)

	tokenFeed := feed.New(cfg.App.FeedCapacity, cfg.App.SubscriberBuffer)
	normalizer := normalize.New(utils.Logger, time.Now)

	rawMessages := make(chan models.RawMessage, 512)

	wsOpts := ws.Options{
		HandshakeTimeout: cfg.Timeouts.Handshake,
		ReadTimeout:      cfg.Timeouts.Read,
		WriteTimeout:     cfg.Timeouts.Write,
	}

	group := supervisor.NewGroup()

	if cfg.PumpPortal.Enabled {
		adapter := source.NewPumpPortal(cfg.PumpPortal.URL, wsOpts, utils.Logger)
		addSource(group, adapter, rawMessages, cfg)
	}
	if cfg.LogStream.Enabled {
		streamOpts := wsOpts
		streamOpts.MaxMessageBytes = cfg.LogStream.MaxMessageBytes
		adapter := source.NewLogStream(cfg.LogStream.URL, cfg.LogStream.APIKey,
			cfg.LogStream.Programs, cfg.LogStream.Commitment,
			cfg.Timeouts.SubscribeConfirm, streamOpts, utils.Logger)
		addSource(group, adapter, rawMessages, cfg)
	}
	if cfg.Poller.Enabled {
		adapter := source.NewPoller(cfg.Poller.URL, cfg.Poller.Interval, utils.Logger)
		addSource(group, adapter, rawMessages, cfg)
	}

	group.Start(ctx)

	// Ingest loop: one consumer keeps per-source ordering intact.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw := <-rawMessages:
				if ev, ok := normalizer.Normalize(raw); ok {
					tokenFeed.Publish(ev)
					utils.Logger.Infow("New token",
						"source", ev.Source, "mint", ev.Mint, "signature", ev.Signature)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/stream", sse.NewHandler(tokenFeed, group, utils.Logger))
	mux.Handle("/api/tokens", sse.NewSnapshotHandler(tokenFeed))
	mux.HandleFunc("/health", monitoring.HealthCheckHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.App.ListenAddr,
		Handler: utils.RequestLogger(middleware.Recover(utils.Logger, mux)),
	}

	go func() {
		utils.Logger.Infow("HTTP server listening", "addr", cfg.App.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error(err, "HTTP server error")
			cancel()
		}
	}()

	<-ctx.Done()
	utils.Logger.Infow("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Error(err, "HTTP shutdown error")
	}

	group.Stop()
	utils.Logger.Infow("Shutdown complete")
}

func addSource(group *supervisor.Group, adapter source.Adapter,
	out chan models.RawMessage, cfg *config.Config) {

	sup := supervisor.New(adapter, out, cfg.Backoff.Base, cfg.Backoff.Max, utils.Logger)
	group.Add(sup)
	monitoring.RegisterHealthCheck(string(adapter.ID()), sup.Connected)
}
