// Package feedstore is a thread-safe, in-memory collection of ingested
// posts with cursor-paginated retrieval, the storage layer a feed
// generator algorithm uses to answer getFeedSkeleton requests.
package feedstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skyfeed-dev/skyfeed/internal/record"
)

// FeedPost is one post selected by an algorithm for inclusion in its feed.
type FeedPost struct {
	Uri       string
	Cid       string
	Repo      string
	IndexedAt time.Time
	Post      record.PostRecord
}

// Cursor is the opaque pagination token: "<indexedAt millis>::<cid>".
type Cursor struct {
	IndexedAtMillis int64
	Cid             string
}

// String renders the cursor in its wire form.
func (c Cursor) String() string {
	return fmt.Sprintf("%d::%s", c.IndexedAtMillis, c.Cid)
}

// ParseCursor decodes a cursor string produced by Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	millis, cid, ok := strings.Cut(s, "::")
	if !ok {
		return Cursor{}, fmt.Errorf("feedstore: malformed cursor %q", s)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("feedstore: malformed cursor %q: %w", s, err)
	}
	return Cursor{IndexedAtMillis: ms, Cid: cid}, nil
}

func cursorOf(p FeedPost) Cursor {
	return Cursor{IndexedAtMillis: p.IndexedAt.UnixMilli(), Cid: p.Cid}
}

// olderThan reports whether p sorts strictly after c in (indexedAt desc,
// cid desc) order, i.e. whether p belongs on a page of "older than c"
// results.
func olderThan(p FeedPost, c Cursor) bool {
	pm := p.IndexedAt.UnixMilli()
	if pm != c.IndexedAtMillis {
		return pm < c.IndexedAtMillis
	}
	return p.Cid < c.Cid
}

// Store holds the live set of posts an algorithm has selected.
type Store struct {
	mu    sync.RWMutex
	posts map[string]FeedPost // keyed by uri
}

// New creates an empty Store.
func New() *Store {
	return &Store{posts: make(map[string]FeedPost)}
}

// Append adds posts to the store, keyed by uri (a later Append with the
// same uri replaces the earlier entry).
func (s *Store) Append(posts ...FeedPost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		s.posts[p.Uri] = p
	}
}

// Delete removes every post whose uri is in uris.
func (s *Store) Delete(uris ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range uris {
		delete(s.posts, u)
	}
}

// GetAll returns a snapshot sorted by (indexedAt desc, cid desc).
func (s *Store) GetAll() []FeedPost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FeedPost, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.IndexedAt.Equal(b.IndexedAt) {
			return a.IndexedAt.After(b.IndexedAt)
		}
		return a.Cid > b.Cid
	})
	return out
}

// GetPage returns up to limit posts older than cursor (or the newest
// limit posts if cursor is empty), plus the cursor for the next page.
// The next cursor is omitted when the page reaches the end of the
// sorted list (terminal page), per spec.md §4.8's boundary condition.
func (s *Store) GetPage(limit int, cursor string) ([]FeedPost, string) {
	all := s.GetAll()

	if cursor != "" {
		c, err := ParseCursor(cursor)
		if err == nil {
			filtered := all[:0:0]
			for _, p := range all {
				if olderThan(p, c) {
					filtered = append(filtered, p)
				}
			}
			all = filtered
		}
	}

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	page := all[:limit]

	if limit == len(all) {
		return page, ""
	}
	last := page[len(page)-1]
	return page, cursorOf(last).String()
}
