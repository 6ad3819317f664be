// Package fanout dispatches decoded firehose events to per-filter
// bounded channels, matching each event against a live filter set and
// never blocking the subscription reader on a slow consumer.
package fanout

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/filter"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
	"github.com/skyfeed-dev/skyfeed/internal/metrics"
)

// QueueSize is the default per-filter channel capacity.
const QueueSize = 256

// unnamedChannel is used when the filter set is empty: every event is
// delivered to this single channel.
const unnamedChannel = ""

// Hub owns one bounded channel per filter name. Reconfiguring the
// filter set creates a new generation: old channels are closed so their
// readers observe the closed channel and rebind to the new generation.
type Hub struct {
	mu         sync.RWMutex
	generation string
	filters    *filter.Set
	channels   map[string]chan frame.Event

	droppedMu sync.Mutex
	dropped   map[string]uint64
}

// New creates a Hub bound to a live filter.Set and opens one channel
// per currently configured filter.
func New(filters *filter.Set) *Hub {
	h := &Hub{
		filters: filters,
		dropped: make(map[string]uint64),
	}
	h.Reconfigure()
	return h
}

// Reconfigure rotates to a new hub generation: it opens fresh channels
// for the current filter set and closes the previous generation's
// channels so their readers can rebind.
func (h *Hub) Reconfigure() {
	names := filterNames(h.filters.All())

	h.mu.Lock()
	old := h.channels
	h.generation = uuid.NewString()
	h.channels = make(map[string]chan frame.Event, len(names))
	for _, name := range names {
		h.channels[name] = make(chan frame.Event, QueueSize)
	}
	h.mu.Unlock()

	for _, ch := range old {
		close(ch)
	}
}

func filterNames(filters []filter.Filter) []string {
	if len(filters) == 0 {
		return []string{unnamedChannel}
	}
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.Name
	}
	return names
}

// Channel returns the current generation's channel for name and the
// generation tag it belongs to. Readers should treat a closed channel
// as a signal to call Channel again to rebind to the new generation.
func (h *Hub) Channel(name string) (<-chan frame.Event, string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[name]
	return ch, h.generation, ok
}

// Dispatch matches ev against every live filter and enqueues it onto
// each matching channel. A full channel drops the event for that
// channel (drop-newest: the incoming event, not a queued one, is
// discarded) and increments that filter's dropped counter. Dispatch
// never blocks the caller.
func (h *Hub) Dispatch(ev frame.Event, store *carstore.Store) {
	filters := h.filters.All()

	h.mu.RLock()
	channels := h.channels
	h.mu.RUnlock()

	if len(filters) == 0 {
		h.send(unnamedChannel, channels[unnamedChannel], ev)
		return
	}
	for _, f := range filters {
		if !f.Matches(ev, store) {
			continue
		}
		h.send(f.Name, channels[f.Name], ev)
	}
}

func (h *Hub) send(name string, ch chan frame.Event, ev frame.Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
		metrics.MessagesSent.WithLabelValues(name).Inc()
	default:
		h.droppedMu.Lock()
		h.dropped[name]++
		h.droppedMu.Unlock()
		metrics.FanoutDropped.WithLabelValues(name).Inc()
		slog.Warn("fanout: channel full, dropping event", "filter", name)
	}
}

// Dropped returns the number of events dropped for name since startup.
func (h *Hub) Dropped(name string) uint64 {
	h.droppedMu.Lock()
	defer h.droppedMu.Unlock()
	return h.dropped[name]
}
