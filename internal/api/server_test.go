package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skyfeed-dev/skyfeed/internal/config"
	"github.com/skyfeed-dev/skyfeed/internal/fanout"
	"github.com/skyfeed-dev/skyfeed/internal/filter"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	fs := &filter.Set{Filters: []filter.Filter{{Name: "All"}}}
	hub := fanout.New(fs)
	cfg := config.GetDefaultConfig()
	return NewServerWithConfig(fs, hub, cfg)
}

func TestHandleFiltersListAndCreate(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/filters", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/filters status = %d", rec.Code)
	}

	body, _ := json.Marshal(filter.Filter{Name: "keyword-filter", Keywords: &filter.Keywords{Includes: []string{"bluesky"}}})
	req = httptest.NewRequest(http.MethodPost, "/api/filters", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/filters status = %d body = %s", rec.Code, rec.Body.String())
	}

	if _, ok := s.filters.Get("keyword-filter"); !ok {
		t.Fatal("expected filter to be persisted in the set")
	}
}

func TestHandleFilterByNameNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/filters/nope", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleFilterSubscribeRepoAction(t *testing.T) {
	s := newTestServer(t)
	s.filters.Put(filter.Filter{Name: "mine", Subscribes: &filter.Subscribes{}})

	body, _ := json.Marshal(repoRequest{Did: "did:plc:a"})
	req := httptest.NewRequest(http.MethodPost, "/api/filters/mine/subscribe-repo", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	f, _ := s.filters.Get("mine")
	if len(f.Subscribes.Dids) != 1 || f.Subscribes.Dids[0] != "did:plc:a" {
		t.Fatalf("filter subscribes = %+v", f.Subscribes)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
}
