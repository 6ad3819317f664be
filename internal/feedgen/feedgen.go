// Package feedgen implements the AT Protocol feed-generator HTTP
// contract: a DID document, describeFeedGenerator, and getFeedSkeleton,
// backed by a registry of user-supplied algorithms and a worker pool
// with supervised restarts.
package feedgen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/skyfeed-dev/skyfeed/internal/aturi"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
	"github.com/skyfeed-dev/skyfeed/internal/metrics"
)

// SkeletonPost is one entry in a getFeedSkeleton response.
type SkeletonPost struct {
	Post string `json:"post"`
}

// Skeleton is the getFeedSkeleton response body.
type Skeleton struct {
	Feed   []SkeletonPost `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

// Algorithm is a custom feed: given paging params and the optional
// caller identity extracted from their bearer JWT, it returns a
// skeleton of post URIs.
type Algorithm interface {
	Name() string
	Handler(limit int, cursor, accessDid, jwt string) Skeleton
}

// Subscription receives batches of ingested commits, grounded in the
// source's Subscription::handler callback.
type Subscription interface {
	Handle(commits []*frame.Commit)
}

type algoKey struct{ publisher, name string }

// Registry maps (publisher, name) to a registered Algorithm with
// last-writer-wins semantics. A read lock is held only for the
// duration of a single request dispatch.
type Registry struct {
	mu         sync.RWMutex
	publisher  string
	algorithms map[algoKey]Algorithm
}

// NewRegistry creates a Registry for algorithms published under
// publisher (the generator's DID).
func NewRegistry(publisher string) *Registry {
	return &Registry{publisher: publisher, algorithms: make(map[algoKey]Algorithm)}
}

// AddAlgorithm registers a (replacing any existing algorithm of the same name).
func (r *Registry) AddAlgorithm(a Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algorithms[algoKey{r.publisher, a.Name()}] = a
}

// RemoveAlgorithm unregisters the algorithm named name, if present.
func (r *Registry) RemoveAlgorithm(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.algorithms, algoKey{r.publisher, name})
}

func (r *Registry) find(publisher, name string) (Algorithm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algorithms[algoKey{publisher, name}]
	return a, ok
}

// feedURIs lists at:// URIs for every registered algorithm, for
// describeFeedGenerator.
func (r *Registry) feedURIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.algorithms))
	for k := range r.algorithms {
		out = append(out, aturi.New(k.publisher, "/app.bsky.feed.generator/"+k.name, "", "").String())
	}
	return out
}

type didDocument struct {
	Context []string  `json:"@context"`
	Id      string    `json:"id"`
	Service []service `json:"service"`
}

type service struct {
	Id              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type describeFeedGeneratorResponse struct {
	Did   string          `json:"did"`
	Feeds []feedReference `json:"feeds"`
}

type feedReference struct {
	Uri string `json:"uri"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Server is the feed-generator HTTP service.
type Server struct {
	Hostname  string
	Publisher string
	Registry  *Registry
	// Workers is the number of goroutines concurrently calling Accept on
	// the listener; a supervisor respawns any that terminate.
	Workers int

	mux *http.ServeMux
}

// NewServer builds a Server. hostname is the DID-document subject
// (did:web:<hostname>); publisher is the generator's own DID, used to
// qualify getFeedSkeleton's feed-URI match.
func NewServer(hostname, publisher string, registry *Registry, workers int) *Server {
	if workers <= 0 {
		workers = 1
	}
	s := &Server{Hostname: hostname, Publisher: publisher, Registry: registry, Workers: workers}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/did.json", s.handleDidDocument)
	mux.HandleFunc("/xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
	mux.HandleFunc("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	s.mux = mux
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(errorBody{Error: "json format error", Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) handleDidDocument(w http.ResponseWriter, r *http.Request) {
	doc := didDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		Id:      "did:web:" + s.Hostname,
		Service: []service{{
			Id:              "#bsky_fg",
			Type:            "BskyFeedGenerator",
			ServiceEndpoint: "https://" + s.Hostname,
		}},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, r *http.Request) {
	feeds := make([]feedReference, 0)
	for _, uri := range s.Registry.feedURIs() {
		feeds = append(feeds, feedReference{Uri: uri})
	}
	writeJSON(w, http.StatusOK, describeFeedGeneratorResponse{
		Did:   "did:web:" + s.Hostname,
		Feeds: feeds,
	})
}

// jwtIssuer extracts the unverified "iss" claim from a bearer JWT's
// middle (payload) segment. No signature verification is performed;
// the result is advisory metadata only, per spec.md §4.9 step 3.
func jwtIssuer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Iss string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Iss
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	feedParam := r.URL.Query().Get("feed")
	uri, ok := aturi.Parse(feedParam)
	if !ok {
		metrics.FeedSkeletonRequests.WithLabelValues("", "400").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed feed uri"})
		return
	}
	name, _ := uri.Rkey()
	collection, _ := uri.Collection()
	if uri.Host != s.Publisher || collection != "app.bsky.feed.generator" || name == "" {
		metrics.FeedSkeletonRequests.WithLabelValues(name, "404").Inc()
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown feed"})
		return
	}
	algo, ok := s.Registry.find(s.Publisher, name)
	if !ok {
		metrics.FeedSkeletonRequests.WithLabelValues(name, "404").Inc()
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown feed"})
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	cursor := r.URL.Query().Get("cursor")

	authHeader := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	did := jwtIssuer(authHeader)

	skeleton := algo.Handler(limit, cursor, did, token)
	metrics.FeedSkeletonRequests.WithLabelValues(name, "200").Inc()
	writeJSON(w, http.StatusOK, skeleton)
}

// Run starts the worker pool on addr and blocks until ctx is canceled.
// N goroutines share a single listener, each serving HTTP requests
// through the registered handler; a supervisor goroutine restarts any
// worker whose Serve call returns until ctx is canceled. A panic in a
// request handler is recovered by net/http for that connection and
// does not end Serve.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("feedgen: listen on %s: %w", addr, err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
		ln.Close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go s.superviseWorker(i, ln, done, &wg)
	}
	wg.Wait()
	return nil
}

func (s *Server) superviseWorker(id int, ln net.Listener, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}
		srv := &http.Server{Handler: s.mux}
		err := srv.Serve(ln)
		select {
		case <-done:
			return
		default:
			slog.Warn("feedgen: worker terminated, restarting", "worker", id, "error", err)
		}
	}
}

// Ingest runs the single ingestion goroutine: it batches events
// arriving on events (draining whatever is immediately available on
// each wakeup, mirroring the source's per-poll batching) and hands
// every commit payload to sub.Handle. It returns when events closes or
// ctx is canceled.
func Ingest(ctx context.Context, events <-chan frame.Event, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			batch := drainCommits(ev, events)
			if len(batch) > 0 {
				sub.Handle(batch)
			}
		}
	}
}

func drainCommits(first frame.Event, events <-chan frame.Event) []*frame.Commit {
	var batch []*frame.Commit
	if first.Commit != nil {
		batch = append(batch, first.Commit)
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return batch
			}
			if ev.Commit != nil {
				batch = append(batch, ev.Commit)
			}
		default:
			return batch
		}
	}
}
