// Package frame decodes the binary DAG-CBOR frames carried on the AT
// Protocol firehose WebSocket: a header value followed by one of six
// typed payload variants.
package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

// Sentinel errors surfaced to the subscription client. All three are
// non-fatal: the caller logs and moves on to the next frame.
var (
	ErrMalformedFrame = errors.New("frame: malformed header or truncated payload")
	ErrUnknownVariant = errors.New("frame: unknown payload variant")
	ErrProtocolFrame  = errors.New("frame: protocol error frame (op < 0)")
)

// Header is the first DAG-CBOR value on the wire.
type Header struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t"`
}

// Link unwraps a DAG-CBOR tag-42 CID link into a cid.Cid. AT Protocol
// encodes links as a byte string prefixed with the 0x00 multibase
// identity marker.
type Link struct {
	Cid cid.Cid
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != 42 {
		return fmt.Errorf("frame: expected CBOR tag 42 for CID link, got %d", tag.Number)
	}
	var raw []byte
	if err := cbor.Unmarshal(tag.Content, &raw); err != nil {
		return err
	}
	if len(raw) > 0 && raw[0] == 0x00 {
		raw = raw[1:]
	}
	c, err := cid.Cast(raw)
	if err != nil {
		return err
	}
	l.Cid = c
	return nil
}

// Op is a single record operation within a commit.
type Op struct {
	Action string `cbor:"action"`
	Path   string `cbor:"path"`
	Cid    *Link  `cbor:"cid,omitempty"`
}

// Commit is the #commit payload: a repository mutation.
type Commit struct {
	Seq     int64  `cbor:"seq"`
	Repo    string `cbor:"repo"`
	Commit  *Link  `cbor:"commit,omitempty"`
	Rev     string `cbor:"rev"`
	Prev    *Link  `cbor:"prev,omitempty"`
	Since   string `cbor:"since,omitempty"`
	Blocks  []byte `cbor:"blocks"`
	Ops     []Op   `cbor:"ops"`
	Blobs   []Link `cbor:"blobs,omitempty"`
	Time    string `cbor:"time"`
	TooBig  bool   `cbor:"tooBig"`
	Rebase  bool   `cbor:"rebase"`
}

// Handle is the #handle payload: a repo's handle changed.
type Handle struct {
	Seq    int64  `cbor:"seq"`
	Did    string `cbor:"did"`
	Handle string `cbor:"handle"`
	Time   string `cbor:"time"`
}

// Identity is the #identity payload.
type Identity struct {
	Seq    int64   `cbor:"seq"`
	Did    string  `cbor:"did"`
	Handle *string `cbor:"handle,omitempty"`
	Time   string  `cbor:"time"`
}

// Migrate is the #migrate payload.
type Migrate struct {
	Seq       int64   `cbor:"seq"`
	Did       string  `cbor:"did"`
	MigrateTo *string `cbor:"migrateTo,omitempty"`
	Time      string  `cbor:"time"`
}

// Tombstone is the #tombstone payload: a repo was deleted.
type Tombstone struct {
	Seq  int64  `cbor:"seq"`
	Did  string `cbor:"did"`
	Time string `cbor:"time"`
}

// Info is the #info payload: relay-level advisory messages, e.g. a
// stale cursor.
type Info struct {
	Name    string `cbor:"name"`
	Message string `cbor:"message,omitempty"`
}

// OutdatedCursorInfoName is the Info.Name value that signals the
// subscriber's cursor has fallen out of the relay's replay window.
const OutdatedCursorInfoName = "OutdatedCursor"

// Event is a decoded frame: the header plus exactly one populated
// payload field matching header.T.
type Event struct {
	Header    Header
	Commit    *Commit
	Handle    *Handle
	Identity  *Identity
	Migrate   *Migrate
	Tombstone *Tombstone
	Info      *Info
}

// Seq returns the sequence number carried by the payload, if any.
func (e Event) Seq() (int64, bool) {
	switch {
	case e.Commit != nil:
		return e.Commit.Seq, true
	case e.Handle != nil:
		return e.Handle.Seq, true
	case e.Identity != nil:
		return e.Identity.Seq, true
	case e.Migrate != nil:
		return e.Migrate.Seq, true
	case e.Tombstone != nil:
		return e.Tombstone.Seq, true
	default:
		return 0, false
	}
}

// Decode parses one binary WebSocket message into an Event. It decodes
// the header and payload as two concatenated DAG-CBOR values from the
// same byte stream, so no manual length bookkeeping is needed.
func Decode(data []byte) (Event, error) {
	dec := cbor.NewDecoder(bytes.NewReader(data))

	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if hdr.Op < 0 {
		return Event{Header: hdr}, ErrProtocolFrame
	}

	ev := Event{Header: hdr}
	var err error
	switch hdr.T {
	case "#commit":
		var p Commit
		err = dec.Decode(&p)
		ev.Commit = &p
	case "#handle":
		var p Handle
		err = dec.Decode(&p)
		ev.Handle = &p
	case "#identity":
		var p Identity
		err = dec.Decode(&p)
		ev.Identity = &p
	case "#migrate":
		var p Migrate
		err = dec.Decode(&p)
		ev.Migrate = &p
	case "#tombstone":
		var p Tombstone
		err = dec.Decode(&p)
		ev.Tombstone = &p
	case "#info":
		var p Info
		err = dec.Decode(&p)
		ev.Info = &p
	default:
		return Event{Header: hdr}, fmt.Errorf("%w: %q", ErrUnknownVariant, hdr.T)
	}
	if err != nil {
		return Event{Header: hdr}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ev, nil
}
