// Command firehose-filter subscribes to the AT Protocol firehose,
// classifies each event against a persisted filter ruleset, fans
// matching events out to per-filter WebSocket streams, and exposes a
// REST API for managing filters and timelines.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyfeed-dev/skyfeed/internal/api"
	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/config"
	"github.com/skyfeed-dev/skyfeed/internal/fanout"
	"github.com/skyfeed-dev/skyfeed/internal/filter"
	"github.com/skyfeed-dev/skyfeed/internal/firehose"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
	"github.com/skyfeed-dev/skyfeed/internal/metrics"
	"github.com/skyfeed-dev/skyfeed/internal/xrpcclient"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfigWithDefaults(*configFile)
	if err != nil {
		log.Printf("Failed to load config from %s, using defaults: %v", *configFile, err)
		cfg = config.GetDefaultConfig()
	}

	fmt.Println("skyfeed firehose-filter: firehose consumer + filtered fan-out")
	fmt.Printf("Configuration loaded from: %s\n", *configFile)
	fmt.Printf("Server will start on: %s\n", cfg.GetBaseURL())
	fmt.Println("WebSocket streams: /ws/{filterName}")
	fmt.Printf("API documentation: %s/swagger/\n\n", cfg.GetBaseURL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := xrpcclient.New("bsky.social")
	filters := filter.Load(ctx, cfg.Filters.Path, resolver)
	hub := fanout.New(filters)

	firehoseHost := firehoseHostFromURL(cfg.Firehose.URL)

	apiServer := api.NewServerWithConfig(filters, hub, cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
			cancel()
		}
	}()

	go runFirehose(ctx, cfg, firehoseHost, hub)

	<-sigChan
	fmt.Println("\nReceived shutdown signal...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	fmt.Println("Server stopped")
}

func firehoseHostFromURL(rawURL string) string {
	const wsPrefix = "wss://"
	host := rawURL
	if i := len("wss://"); len(host) > i && host[:i] == wsPrefix {
		host = host[i:]
	}
	if idx := indexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// runFirehose owns the subscription client's lifecycle: it rebuilds the
// client (preserving the last sequence number as the new cursor)
// whenever the connection's events channel closes. The client retries
// network errors on its own, so the channel closes only after a
// watchdog-triggered Stop or when ctx is canceled.
func runFirehose(ctx context.Context, cfg *config.Config, host string, hub *fanout.Hub) {
	cursor := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fhClient := firehose.NewClient(host, cursor,
			firehose.WithWatchdogTimeout(cfg.Firehose.ReadTimeout),
			firehose.WithReconnectDelay(cfg.Firehose.ReconnectDelay),
		)

		watchCtx, stopWatchdog := context.WithCancel(ctx)
		go watchdogLoop(watchCtx, fhClient)

		ingestIntoHub(ctx, fhClient, hub)
		stopWatchdog()

		if seq, ok := fhClient.LastSeq(); ok {
			cursor = seq
		}
	}
}

func ingestIntoHub(ctx context.Context, fhClient *firehose.Client, hub *fanout.Hub) {
	events := fhClient.Start(ctx)
	for ev := range events {
		metrics.MessagesReceived.Inc()
		hub.Dispatch(ev, eventStore(ev))
	}
}

// eventStore decodes a commit's embedded CAR blocks into a lookup
// store for the fan-out hub's keyword/language matching; non-commit
// events carry no blocks and get an empty store.
func eventStore(ev frame.Event) *carstore.Store {
	if ev.Commit == nil {
		return carstore.Decode(nil)
	}
	return carstore.Decode(ev.Commit.Blocks)
}

func watchdogLoop(ctx context.Context, fhClient *firehose.Client) {
	// The subscription client already recovers on its own read errors;
	// this loop tears the client down when the watchdog threshold is
	// crossed so the caller can rebuild it with a fresh connection.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fhClient.Watchdog() {
				log.Printf("firehose-filter: watchdog timeout on %s, reconnecting", fhClient)
				fhClient.Stop()
				return
			}
		}
	}
}
