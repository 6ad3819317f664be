// Command feedgen runs an AT Protocol feed generator: it consumes the
// firehose, keeps a rolling in-memory index of matching posts, and
// serves that index over the app.bsky.feed.getFeedSkeleton contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/config"
	"github.com/skyfeed-dev/skyfeed/internal/feedgen"
	"github.com/skyfeed-dev/skyfeed/internal/feedstore"
	"github.com/skyfeed-dev/skyfeed/internal/firehose"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
	"github.com/skyfeed-dev/skyfeed/internal/metrics"
	"github.com/skyfeed-dev/skyfeed/internal/record"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfigWithDefaults(*configFile)
	if err != nil {
		log.Printf("Failed to load config from %s, using defaults: %v", *configFile, err)
		cfg = config.GetDefaultConfig()
	}

	fmt.Println("skyfeed feedgen: firehose-backed app.bsky.feed.generator service")
	fmt.Printf("Publisher: %s\n", cfg.FeedGenerator.Publisher)
	fmt.Printf("Listening on: %s:%s\n\n", cfg.FeedGenerator.Hostname, cfg.FeedGenerator.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := feedstore.New()
	algo := &keywordAlgorithm{name: "whats-hot", keyword: "bluesky", store: store}

	registry := feedgen.NewRegistry(cfg.FeedGenerator.Publisher)
	registry.AddAlgorithm(algo)

	server := feedgen.NewServer(cfg.FeedGenerator.Hostname, cfg.FeedGenerator.Publisher, registry, cfg.FeedGenerator.Workers)

	sub := &postIndexer{store: store, keyword: algo.keyword}

	firehoseHost := firehoseHostFromURL(cfg.Firehose.URL)
	fhClient := firehose.NewClient(firehoseHost, -1,
		firehose.WithWatchdogTimeout(cfg.Firehose.ReadTimeout),
		firehose.WithReconnectDelay(cfg.Firehose.ReconnectDelay),
	)
	events := fhClient.Start(ctx)
	go feedgen.Ingest(ctx, events, sub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, cfg.FeedGenerator.Hostname+":"+cfg.FeedGenerator.Port)
	}()

	select {
	case <-sigChan:
		fmt.Println("\nReceived shutdown signal...")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Printf("feedgen: server exited: %v", err)
		}
		cancel()
	}
}

func firehoseHostFromURL(rawURL string) string {
	host := strings.TrimPrefix(rawURL, "wss://")
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	return host
}

// keywordAlgorithm answers getFeedSkeleton by paging the shared post
// store, newest first. It is a minimal stand-in for a real ranking
// algorithm: every post the indexer has appended is eligible.
type keywordAlgorithm struct {
	name    string
	keyword string
	store   *feedstore.Store
}

func (a *keywordAlgorithm) Name() string { return a.name }

func (a *keywordAlgorithm) Handler(limit int, cursor, accessDid, jwt string) feedgen.Skeleton {
	posts, next := a.store.GetPage(limit, cursor)
	skel := feedgen.Skeleton{Cursor: next}
	for _, p := range posts {
		skel.Feed = append(skel.Feed, feedgen.SkeletonPost{Post: p.Uri})
	}
	return skel
}

// postIndexer implements feedgen.Subscription: it decodes each commit's
// CAR blocks, keeps posts whose text mentions keyword, and evicts
// deleted ones.
type postIndexer struct {
	store   *feedstore.Store
	keyword string
}

func (p *postIndexer) Handle(commits []*frame.Commit) {
	for _, commit := range commits {
		store := carstore.Decode(commit.Blocks)

		for _, op := range commit.Ops {
			if op.Action == "delete" && strings.HasPrefix(op.Path, string(record.KindPost)) {
				p.store.Delete("at://" + commit.Repo + "/" + op.Path)
			}
		}

		for _, opRec := range record.Project(commit, store, string(record.KindPost)) {
			if opRec.Record.Post == nil || !strings.Contains(strings.ToLower(opRec.Record.Post.Text), p.keyword) {
				continue
			}
			uri := "at://" + commit.Repo + "/" + opRec.Op.Path
			cidStr := ""
			if opRec.Op.Cid != nil {
				cidStr = opRec.Op.Cid.Cid.String()
			}
			indexedAt := time.Now().UTC()
			if ts, err := time.Parse(time.RFC3339, opRec.Record.Post.CreatedAt); err == nil {
				indexedAt = ts
			}
			p.store.Append(feedstore.FeedPost{
				Uri:       uri,
				Cid:       cidStr,
				Repo:      commit.Repo,
				IndexedAt: indexedAt,
				Post:      *opRec.Record.Post,
			})
			metrics.MessagesReceived.Inc()
		}
	}
}
