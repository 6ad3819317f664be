package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func encodeFrame(t *testing.T, header any, payload any) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(header); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	if err := enc.Encode(payload); err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return buf.Bytes()
}

// TestFrameRoundTrip seeds scenario 1: a commit with seq=42 and no ops.
func TestFrameRoundTrip(t *testing.T) {
	type wireHeader struct {
		Op int64  `cbor:"op"`
		T  string `cbor:"t"`
	}
	type wireCommit struct {
		Seq    int64  `cbor:"seq"`
		Repo   string `cbor:"repo"`
		Rev    string `cbor:"rev"`
		Blocks []byte `cbor:"blocks"`
		Ops    []Op   `cbor:"ops"`
		Blobs  []Link `cbor:"blobs"`
		Time   string `cbor:"time"`
		TooBig bool   `cbor:"tooBig"`
		Rebase bool   `cbor:"rebase"`
	}

	data := encodeFrame(t, wireHeader{Op: 1, T: "#commit"}, wireCommit{
		Seq:    42,
		Repo:   "did:plc:x",
		Blocks: []byte{},
		Ops:    []Op{},
		Blobs:  []Link{},
		Time:   "2024-01-01T00:00:00Z",
	})

	ev, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Commit == nil {
		t.Fatal("expected commit payload")
	}
	if ev.Commit.Seq != 42 {
		t.Fatalf("seq = %d, want 42", ev.Commit.Seq)
	}
	if len(ev.Commit.Ops) != 0 {
		t.Fatalf("ops = %v, want empty", ev.Commit.Ops)
	}
	seq, ok := ev.Seq()
	if !ok || seq != 42 {
		t.Fatalf("Seq() = %d, %v", seq, ok)
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	type wireHeader struct {
		Op int64  `cbor:"op"`
		T  string `cbor:"t"`
	}
	data := encodeFrame(t, wireHeader{Op: 1, T: "#bogus"}, struct{}{})
	_, err := Decode(data)
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("err = %v, want ErrUnknownVariant", err)
	}
}

func TestDecodeProtocolErrorFrame(t *testing.T) {
	type wireHeader struct {
		Op int64  `cbor:"op"`
		T  string `cbor:"t"`
	}
	data := encodeFrame(t, wireHeader{Op: -1, T: "#error"}, struct{}{})
	_, err := Decode(data)
	if !errors.Is(err, ErrProtocolFrame) {
		t.Fatalf("err = %v, want ErrProtocolFrame", err)
	}
}

func TestDecodeMalformedHeader(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}
