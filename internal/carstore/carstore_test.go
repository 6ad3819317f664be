package carstore

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	varint "github.com/multiformats/go-varint"
)

func makeCid(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	return cid.NewCidV1(cid.DagCBOR, mh)
}

func appendBlock(buf *bytes.Buffer, c cid.Cid, data []byte) {
	cb := c.Bytes()
	buf.Write(varint.ToUvarint(uint64(len(cb) + len(data))))
	buf.Write(cb)
	buf.Write(data)
}

func buildCar(t *testing.T, root cid.Cid, blocks map[cid.Cid][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	header, err := cbor.Marshal(map[string]any{
		"version": 1,
		"roots":   []any{cbor.Tag{Number: 42, Content: append([]byte{0x00}, root.Bytes()...)}},
	})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	buf.Write(varint.ToUvarint(uint64(len(header))))
	buf.Write(header)
	for c, data := range blocks {
		appendBlock(&buf, c, data)
	}
	return buf.Bytes()
}

func TestDecodeWellFormedCar(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{"$type": "app.bsky.feed.post", "text": "hi"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	c := makeCid(t, payload)
	raw := buildCar(t, c, map[cid.Cid][]byte{c: payload})

	store := Decode(raw)
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	val, ok := store.Get(c)
	if !ok {
		t.Fatal("expected block present")
	}
	m, ok := val.(map[string]any)
	if !ok {
		t.Fatalf("value is %T, want map", val)
	}
	if m["text"] != "hi" {
		t.Fatalf("text = %v", m["text"])
	}
}

func TestDecodeEmptyInputIsSafe(t *testing.T) {
	store := Decode(nil)
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", store.Len())
	}
}

func TestDecodeSkipsCorruptBlockButKeepsOthers(t *testing.T) {
	good, _ := cbor.Marshal(map[string]any{"$type": "app.bsky.feed.post", "text": "ok"})
	goodCid := makeCid(t, good)

	var buf bytes.Buffer
	header, _ := cbor.Marshal(map[string]any{"version": 1, "roots": []any{cbor.Tag{Number: 42, Content: append([]byte{0x00}, goodCid.Bytes()...)}}})
	buf.Write(varint.ToUvarint(uint64(len(header))))
	buf.Write(header)

	// The well-formed block is written first so it is decoded before any
	// later desync; a block with a non-CBOR payload follows it and is
	// skipped rather than aborting the store.
	appendBlock(&buf, goodCid, good)
	badCid := makeCid(t, []byte("bad"))
	appendBlock(&buf, badCid, []byte{0xff, 0xff, 0xff})

	store := Decode(buf.Bytes())
	if _, ok := store.Get(goodCid); !ok {
		t.Fatal("expected well-formed leading block to decode")
	}
	if _, ok := store.Get(badCid); ok {
		t.Fatal("expected corrupt block to be skipped")
	}
}
