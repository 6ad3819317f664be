package fanout

import (
	"testing"
	"time"

	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/filter"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
)

func namedSet(names ...string) *filter.Set {
	filters := make([]filter.Filter, len(names))
	for i, n := range names {
		filters[i] = filter.Filter{Name: n, Subscribes: &filter.Subscribes{Dids: []string{"did:plc:whatever"}}}
	}
	return &filter.Set{Filters: filters}
}

func TestUnnamedChannelUsedWhenNoFilters(t *testing.T) {
	s := &filter.Set{}
	h := New(s)

	ch, _, ok := h.Channel(unnamedChannel)
	if !ok {
		t.Fatal("expected unnamed channel to exist")
	}

	h.Dispatch(frame.Event{Header: frame.Header{T: "#commit"}, Commit: &frame.Commit{Repo: "did:plc:x"}}, &carstore.Store{})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected event on unnamed channel")
	}
}

func TestDropNewestWhenChannelFull(t *testing.T) {
	s := namedSet("full")
	h := New(s)
	ch, _, _ := h.Channel("full")

	ev := frame.Event{Header: frame.Header{T: "#commit"}, Commit: &frame.Commit{Repo: "did:plc:whatever"}}
	for i := 0; i < QueueSize+5; i++ {
		h.Dispatch(ev, &carstore.Store{})
	}

	if got := h.Dropped("full"); got == 0 {
		t.Fatal("expected some drops once the channel filled up")
	}
	if len(ch) != QueueSize {
		t.Fatalf("channel length = %d, want %d", len(ch), QueueSize)
	}
}

func TestReconfigureClosesOldChannelAndRotatesGeneration(t *testing.T) {
	s := namedSet("rotate")
	h := New(s)
	oldCh, oldGen, _ := h.Channel("rotate")

	h.Reconfigure()

	select {
	case _, open := <-oldCh:
		if open {
			t.Fatal("expected old channel to be closed, got a value")
		}
	default:
		t.Fatal("expected old channel to be closed and immediately readable as closed")
	}

	newCh, newGen, ok := h.Channel("rotate")
	if !ok {
		t.Fatal("expected channel to still exist under the same name after reconfigure")
	}
	if newGen == oldGen {
		t.Fatal("expected generation to change after Reconfigure")
	}
	if newCh == oldCh {
		t.Fatal("expected a fresh channel after Reconfigure")
	}
}
