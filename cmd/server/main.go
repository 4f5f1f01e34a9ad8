package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"

	"github.com/gateway-ingress/uptime/internal/config"
	"github.com/gateway-ingress/uptime/internal/gateway"
	"github.com/gateway-ingress/uptime/internal/mock"
	"github.com/gateway-ingress/uptime/internal/queue"
	"github.com/gateway-ingress/uptime/internal/sink"
	"github.com/gateway-ingress/uptime/internal/tracker"
	"github.com/gateway-ingress/uptime/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic updates instead of connecting upstream")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	clock := quartz.NewReal()
	trk, feed := tracker.New(cfg.Tracker.DebounceDelay.Duration(), clock)

	broadcaster := ws.NewBroadcaster(trk, cfg.Tracker.BroadcastThrottle.Duration(), cfg.Tracker.SnapshotInterval.Duration())
	server := ws.NewServer(trk, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(feed)
		gen.Start(ctx)
	} else {
		log.Println("Starting in real mode (gateway + queue ingest)")
		gw := gateway.New(cfg.Gateway, feed, clock)
		go gw.Run(ctx)

		consumer, err := queue.New(cfg.Queue, feed, clock)
		if err != nil {
			log.Fatalf("Failed to create queue consumer: %v", err)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Printf("Queue consumer stopped: %v", err)
			}
		}()
	}

	go func() {
		uptimeSink := sink.MultiSink{sink.LogSink{}, sink.NewBroadcastSink(broadcaster)}
		if err := trk.Run(ctx, uptimeSink); err != nil {
			log.Fatalf("Tracker error: %v", err)
		}
	}()

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		feed.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
