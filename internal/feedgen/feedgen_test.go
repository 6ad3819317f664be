package feedgen

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingAlgorithm struct {
	name          string
	gotLimit      int
	gotCursor     string
	gotDid        string
	gotJwtNotBlank bool
	reply         Skeleton
}

func (a *recordingAlgorithm) Name() string { return a.name }

func (a *recordingAlgorithm) Handler(limit int, cursor, accessDid, jwt string) Skeleton {
	a.gotLimit = limit
	a.gotCursor = cursor
	a.gotDid = accessDid
	a.gotJwtNotBlank = jwt != ""
	return a.reply
}

// TestGetFeedSkeletonDispatch seeds scenario 6: registering an
// algorithm under a publisher/name pair and requesting its skeleton
// dispatches to the algorithm with the parsed query params and returns
// its reply verbatim as JSON.
func TestGetFeedSkeletonDispatch(t *testing.T) {
	const publisher = "did:web:example.com"
	registry := NewRegistry(publisher)
	algo := &recordingAlgorithm{
		name:  "taste",
		reply: Skeleton{Feed: []SkeletonPost{{Post: "at://did:plc:x/app.bsky.feed.post/1"}}},
	}
	registry.AddAlgorithm(algo)

	srv := NewServer("example.com", publisher, registry, 2)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?feed=at://did:web:example.com/app.bsky.feed.generator/taste&limit=5", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if algo.gotLimit != 5 {
		t.Fatalf("algorithm limit = %d, want 5", algo.gotLimit)
	}
	if algo.gotCursor != "" {
		t.Fatalf("algorithm cursor = %q, want empty", algo.gotCursor)
	}

	var got Skeleton
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(got.Feed) != 1 || got.Feed[0].Post != "at://did:plc:x/app.bsky.feed.post/1" {
		t.Fatalf("response = %+v", got)
	}
}

func TestGetFeedSkeletonUnknownFeedIs404(t *testing.T) {
	registry := NewRegistry("did:web:example.com")
	srv := NewServer("example.com", "did:web:example.com", registry, 1)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?feed=at://did:web:example.com/app.bsky.feed.generator/nope", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDescribeFeedGeneratorListsRegisteredFeeds(t *testing.T) {
	const publisher = "did:web:example.com"
	registry := NewRegistry(publisher)
	registry.AddAlgorithm(&recordingAlgorithm{name: "taste"})
	srv := NewServer("example.com", publisher, registry, 1)

	req := httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.describeFeedGenerator", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	var got describeFeedGeneratorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Did != "did:web:example.com" {
		t.Fatalf("did = %q", got.Did)
	}
	if len(got.Feeds) != 1 || got.Feeds[0].Uri != "at://did:web:example.com/app.bsky.feed.generator/taste" {
		t.Fatalf("feeds = %+v", got.Feeds)
	}
}

func TestDidDocument(t *testing.T) {
	srv := NewServer("example.com", "did:web:example.com", NewRegistry("did:web:example.com"), 1)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	var doc didDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Id != "did:web:example.com" {
		t.Fatalf("id = %q", doc.Id)
	}
	if len(doc.Service) != 1 || doc.Service[0].ServiceEndpoint != "https://example.com" {
		t.Fatalf("service = %+v", doc.Service)
	}
}

func TestJwtIssuerExtractsUnverifiedClaim(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"did:plc:caller"}`))
	token := "Bearer header." + payload + ".sig"
	if got := jwtIssuer(token); got != "did:plc:caller" {
		t.Fatalf("jwtIssuer = %q", got)
	}
	if got := jwtIssuer(""); got != "" {
		t.Fatalf("jwtIssuer(empty) = %q, want empty", got)
	}
}
