// Package filter evaluates named filter rules against firehose events
// and persists the ruleset to a YAML file, mirroring the "filters.yaml"
// contract of the original AT Protocol firehose tooling this module
// descends from.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
	"github.com/skyfeed-dev/skyfeed/internal/record"
)

// HandleResolver resolves handles to DIDs and fetches a DID's follow
// graph, the two external calls the filter engine needs. Satisfied by
// internal/xrpcclient.Client.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	GetFollows(ctx context.Context, actor string) ([]string, error)
}

// Subscribes is an author test: a set of DIDs, plus handles resolved to
// DIDs at load time.
type Subscribes struct {
	Dids    []string `yaml:"dids,omitempty" json:"dids,omitempty"`
	Handles []string `yaml:"handles,omitempty" json:"handles,omitempty"`
}

func (s *Subscribes) matches(did string) bool {
	if s == nil {
		return false
	}
	for _, d := range s.Dids {
		if d == did {
			return true
		}
	}
	return false
}

// resolve converts Handles into Dids, deduplicating against any DIDs
// already present. Resolution failures are logged and skipped.
func (s *Subscribes) resolve(ctx context.Context, r HandleResolver) {
	if s == nil || len(s.Handles) == 0 {
		return
	}
	seen := make(map[string]bool, len(s.Dids))
	for _, d := range s.Dids {
		seen[d] = true
	}
	for _, h := range s.Handles {
		did, err := r.ResolveHandle(ctx, h)
		if err != nil {
			slog.Warn("filter: failed to resolve handle", "handle", h, "error", err)
			continue
		}
		if !seen[did] {
			seen[did] = true
			s.Dids = append(s.Dids, did)
		}
	}
}

// Keywords is a substring content test over post text.
type Keywords struct {
	Includes []string `yaml:"includes,omitempty" json:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty" json:"excludes,omitempty"`
}

// anyContains reports whether any needle is a substring of any haystack.
// Plain byte-wise substring match, no normalization or case-folding —
// matches the Rust original's str::contains.
func anyContains(needles []string, haystacks []string) bool {
	for _, h := range haystacks {
		for _, n := range needles {
			if strings.Contains(h, n) {
				return true
			}
		}
	}
	return false
}

// Langs is a content test over a post's declared BCP-47 language codes.
type Langs struct {
	Includes []string `yaml:"includes,omitempty" json:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty" json:"excludes,omitempty"`
}

func anyMatch(needles []string, haystack []string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if n == h {
				return true
			}
		}
	}
	return false
}

// Filter is a named predicate over firehose events.
type Filter struct {
	Name       string      `yaml:"name" json:"name"`
	Subscribes *Subscribes `yaml:"subscribes,omitempty" json:"subscribes,omitempty"`
	Keywords   *Keywords   `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Langs      *Langs      `yaml:"langs,omitempty" json:"langs,omitempty"`
}

func (f *Filter) contentHit(texts, langs []string) bool {
	if f.Keywords != nil && anyContains(f.Keywords.Includes, texts) {
		return true
	}
	if f.Langs != nil && anyMatch(f.Langs.Includes, langs) {
		return true
	}
	return false
}

func (f *Filter) contentVeto(texts, langs []string) bool {
	if f.Keywords != nil && anyContains(f.Keywords.Excludes, texts) {
		return true
	}
	if f.Langs != nil && anyMatch(f.Langs.Excludes, langs) {
		return true
	}
	return false
}

// Matches evaluates the filter against a decoded firehose event, per
// spec.md §4.6: subscribes is an author test; keywords/langs form a
// content test; a commit matches if (author_hit && !content_veto) ||
// (!author_hit && content_hit). Handle-change events match on DID
// alone. Every other payload variant matches unconditionally (it is
// infrastructure, not content).
func (f *Filter) Matches(ev frame.Event, store *carstore.Store) bool {
	if f.Subscribes == nil && f.Keywords == nil && f.Langs == nil {
		return true
	}
	switch {
	case ev.Commit != nil:
		authorHit := f.Subscribes.matches(ev.Commit.Repo)
		var texts, langs []string
		for _, opRec := range record.Project(ev.Commit, store, string(record.KindPost)) {
			if opRec.Record.Post == nil {
				continue
			}
			texts = append(texts, opRec.Record.Post.Text)
			langs = append(langs, opRec.Record.Post.Langs...)
		}
		if authorHit {
			return !f.contentVeto(texts, langs)
		}
		return f.contentHit(texts, langs)
	case ev.Handle != nil:
		return f.Subscribes.matches(ev.Handle.Did)
	default:
		return true
	}
}

// Set is the full named ruleset, YAML-persisted.
type Set struct {
	mu      sync.RWMutex
	Filters []Filter `yaml:"filters"`
	path    string
	client  HandleResolver
}

// WellKnownAll is seeded with no predicates so it matches everything.
const WellKnownAll = "All"

// WellKnownFavorites is seeded empty; the TUI mutates its subscribe list.
const WellKnownFavorites = "Favorites"

// Load reads path, falling back to the default All+Favorites ruleset on
// any read or parse error (spec.md §7 configuration-error policy).
// Handles in the loaded ruleset are resolved to DIDs via client before
// the ruleset is returned, then immediately persisted back to disk.
func Load(ctx context.Context, path string, client HandleResolver) *Set {
	s := &Set{path: path, client: client}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("filter: could not read filters file, using defaults", "path", path, "error", err)
		s.Filters = defaultFilters()
	} else if err := yaml.Unmarshal(data, s); err != nil {
		slog.Warn("filter: could not parse filters file, using defaults", "path", path, "error", err)
		s.Filters = defaultFilters()
	}

	for i := range s.Filters {
		s.Filters[i].Subscribes.resolve(ctx, client)
	}
	if err := s.persistLocked(); err != nil {
		slog.Warn("filter: could not persist resolved filters", "error", err)
	}
	return s
}

func defaultFilters() []Filter {
	return []Filter{
		{Name: WellKnownAll},
		{Name: WellKnownFavorites, Subscribes: &Subscribes{}},
	}
}

// All returns a snapshot of the current ruleset.
func (s *Set) All() []Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Filter, len(s.Filters))
	copy(out, s.Filters)
	return out
}

// persistLocked writes the ruleset to s.path via a temp-file-then-rename
// atomic replace. Callers must hold s.mu (read or write lock held by
// the caller of the exported mutators below).
func (s *Set) persistLocked() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("filter: marshal ruleset: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".filters-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("filter: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filter: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filter: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filter: rename temp file: %w", err)
	}
	return nil
}

// persist saves the ruleset under the write lock already held by its
// caller; errors are logged, never propagated (spec.md §7 "persistence
// error" policy).
func (s *Set) persist() {
	if err := s.persistLocked(); err != nil {
		slog.Warn("filter: failed to persist filters", "error", err)
	}
}

func (s *Set) findIndex(name string) int {
	for i, f := range s.Filters {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s *Set) upsert(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findIndex(f.Name); i >= 0 {
		s.Filters[i] = f
	} else {
		s.Filters = append(s.Filters, f)
	}
	s.persist()
}

func (s *Set) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findIndex(name); i >= 0 {
		s.Filters = append(s.Filters[:i], s.Filters[i+1:]...)
		s.persist()
	}
}

func (s *Set) mutateSubscribes(name string, mutate func(*Subscribes)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findIndex(name)
	if i < 0 {
		return fmt.Errorf("filter: unknown filter %q", name)
	}
	if s.Filters[i].Subscribes == nil {
		s.Filters[i].Subscribes = &Subscribes{}
	}
	mutate(s.Filters[i].Subscribes)
	s.persist()
	return nil
}

// SubscribeRepo adds did to filter name's subscribe list.
func (s *Set) SubscribeRepo(name, did string) error {
	return s.mutateSubscribes(name, func(sub *Subscribes) {
		for _, d := range sub.Dids {
			if d == did {
				return
			}
		}
		sub.Dids = append(sub.Dids, did)
	})
}

// UnsubscribeRepo removes did from filter name's subscribe list.
func (s *Set) UnsubscribeRepo(name, did string) error {
	return s.mutateSubscribes(name, func(sub *Subscribes) {
		for i, d := range sub.Dids {
			if d == did {
				sub.Dids = append(sub.Dids[:i], sub.Dids[i+1:]...)
				return
			}
		}
	})
}

// SubscribeHandle resolves handle to a DID via the configured client and
// adds it to filter name's subscribe list.
func (s *Set) SubscribeHandle(ctx context.Context, name, handle string) error {
	did, err := s.client.ResolveHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("filter: resolve handle %q: %w", handle, err)
	}
	return s.SubscribeRepo(name, did)
}

// UnsubscribeHandle resolves handle and removes it from filter name.
func (s *Set) UnsubscribeHandle(ctx context.Context, name, handle string) error {
	did, err := s.client.ResolveHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("filter: resolve handle %q: %w", handle, err)
	}
	return s.UnsubscribeRepo(name, did)
}

// AddTimeline fetches handle's follow graph and installs (or replaces)
// a filter named handle whose subscribe set is exactly that graph.
func (s *Set) AddTimeline(ctx context.Context, handle string) error {
	did, err := s.client.ResolveHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("filter: resolve handle %q: %w", handle, err)
	}
	follows, err := s.client.GetFollows(ctx, did)
	if err != nil {
		return fmt.Errorf("filter: getFollows for %q: %w", handle, err)
	}
	s.upsert(Filter{Name: handle, Subscribes: &Subscribes{Dids: follows}})
	return nil
}

// RemoveTimeline deletes the timeline filter named handle.
func (s *Set) RemoveTimeline(handle string) {
	s.remove(handle)
}

// Put installs or replaces a filter by name, for callers (the HTTP API)
// that build a Filter value directly rather than through the
// subscribe/timeline mutators above.
func (s *Set) Put(f Filter) {
	s.upsert(f)
}

// Delete removes the filter named name, if present.
func (s *Set) Delete(name string) {
	s.remove(name)
}

// Get returns the filter named name, if present.
func (s *Set) Get(name string) (Filter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.findIndex(name); i >= 0 {
		return s.Filters[i], true
	}
	return Filter{}, false
}
