package filter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeResolver struct {
	handleToDid map[string]string
	follows     map[string][]string
}

func (f *fakeResolver) ResolveHandle(_ context.Context, handle string) (string, error) {
	return f.handleToDid[handle], nil
}

func (f *fakeResolver) GetFollows(_ context.Context, actor string) ([]string, error) {
	return f.follows[actor], nil
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filters.yaml")
	s := Load(context.Background(), path, &fakeResolver{})

	names := map[string]bool{}
	for _, f := range s.All() {
		names[f.Name] = true
	}
	if !names[WellKnownAll] || !names[WellKnownFavorites] {
		t.Fatalf("expected default filters, got %+v", s.All())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected filters file to be persisted: %v", err)
	}
}

func TestSubscribeRepoPersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filters.yaml")
	s := Load(context.Background(), path, &fakeResolver{})

	if err := s.SubscribeRepo(WellKnownFavorites, "did:plc:a"); err != nil {
		t.Fatalf("SubscribeRepo: %v", err)
	}

	reloaded := Load(context.Background(), path, &fakeResolver{})
	found := false
	for _, f := range reloaded.All() {
		if f.Name == WellKnownFavorites && f.Subscribes != nil {
			for _, d := range f.Subscribes.Dids {
				if d == "did:plc:a" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("expected did:plc:a to persist across reload")
	}
}

func TestAddTimelineUsesFollowGraph(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filters.yaml")
	resolver := &fakeResolver{
		handleToDid: map[string]string{"jay.bsky.team": "did:plc:jay"},
		follows:     map[string][]string{"did:plc:jay": {"did:plc:x", "did:plc:y"}},
	}
	s := Load(context.Background(), path, resolver)

	if err := s.AddTimeline(context.Background(), "jay.bsky.team"); err != nil {
		t.Fatalf("AddTimeline: %v", err)
	}
	all := s.All()
	var got *Filter
	for i, f := range all {
		if f.Name == "jay.bsky.team" {
			got = &all[i]
		}
	}
	if got == nil {
		t.Fatal("expected timeline filter to be added")
	}
	if got.Subscribes == nil || len(got.Subscribes.Dids) != 2 {
		t.Fatalf("expected follow graph dids, got %+v", got.Subscribes)
	}

	s.RemoveTimeline("jay.bsky.team")
	for _, f := range s.All() {
		if f.Name == "jay.bsky.team" {
			t.Fatal("expected timeline filter to be removed")
		}
	}
}
