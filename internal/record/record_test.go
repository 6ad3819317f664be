package record

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	varint "github.com/multiformats/go-varint"

	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
)

func makeCid(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	return cid.NewCidV1(cid.DagCBOR, mh)
}

// storeWith builds a real CAR byte stream out of the given decoded
// values and runs it through carstore.Decode, so tests exercise the
// same path production code does.
func storeWith(t *testing.T, blocks map[string]map[string]any) (*carstore.Store, map[string]*frame.Link) {
	t.Helper()
	links := make(map[string]*frame.Link)
	type encoded struct {
		c    cid.Cid
		data []byte
	}
	var ordered []encoded
	for key, v := range blocks {
		data, err := cbor.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		c := makeCid(t, data)
		links[key] = &frame.Link{Cid: c}
		ordered = append(ordered, encoded{c: c, data: data})
	}

	root := cid.Undef
	if len(ordered) > 0 {
		root = ordered[0].c
	}
	header, err := cbor.Marshal(map[string]any{"version": 1, "roots": []any{cbor.Tag{Number: 42, Content: append([]byte{0x00}, root.Bytes()...)}}})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(uint64(len(header))))
	buf.Write(header)
	for _, e := range ordered {
		cb := e.c.Bytes()
		buf.Write(varint.ToUvarint(uint64(len(cb) + len(e.data))))
		buf.Write(cb)
		buf.Write(e.data)
	}

	return carstore.Decode(buf.Bytes()), links
}

func TestProjectAndGetPostText(t *testing.T) {
	store, links := storeWith(t, map[string]map[string]any{
		"post1": {"$type": "app.bsky.feed.post", "text": "hello world", "createdAt": "2024-01-01T00:00:00Z"},
		"like1": {"$type": "app.bsky.feed.like", "subject": map[string]any{"uri": "at://x", "cid": "bafy"}, "createdAt": "2024-01-01T00:00:00Z"},
	})

	commit := &frame.Commit{
		Repo: "did:plc:x",
		Ops: []frame.Op{
			{Action: "create", Path: "app.bsky.feed.post/abc", Cid: links["post1"]},
			{Action: "create", Path: "app.bsky.feed.like/xyz", Cid: links["like1"]},
		},
	}

	texts := GetPostText(commit, store)
	if len(texts) != 1 || texts[0] != "hello world" {
		t.Fatalf("GetPostText = %v", texts)
	}

	path, ok := GetPostPath(commit, store)
	if !ok || path != "app.bsky.feed.post/abc" {
		t.Fatalf("GetPostPath = %q, %v", path, ok)
	}

	recs := Project(commit, store, "app.bsky.feed.like")
	if len(recs) != 1 || recs[0].Record.Kind != KindLike {
		t.Fatalf("Project(like) = %+v", recs)
	}
}

func TestProjectUnknownTypeDoesNotFail(t *testing.T) {
	store, links := storeWith(t, map[string]map[string]any{
		"weird": {"$type": "app.bsky.feed.somethingNew", "foo": "bar"},
	})
	commit := &frame.Commit{
		Ops: []frame.Op{{Action: "create", Path: "app.bsky.feed.somethingNew/1", Cid: links["weird"]}},
	}
	recs := Project(commit, store, "app.bsky.feed.somethingNew")
	if len(recs) != 1 || recs[0].Record.Kind != KindUnknown {
		t.Fatalf("expected unknown kind, got %+v", recs)
	}
}

func TestProjectSkipsUnresolvedCid(t *testing.T) {
	store, _ := storeWith(t, nil)
	missing := makeCid(t, []byte("missing"))
	commit := &frame.Commit{
		Ops: []frame.Op{{Action: "create", Path: "app.bsky.feed.post/1", Cid: &frame.Link{Cid: missing}}},
	}
	recs := Project(commit, store, "app.bsky.feed.post")
	if len(recs) != 0 {
		t.Fatalf("expected no records for unresolved cid, got %+v", recs)
	}
}
