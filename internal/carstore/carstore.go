// Package carstore decodes the embedded content-addressed archive (CAR)
// carried in a commit's blocks field into a CID-addressable map of IPLD
// values.
package carstore

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
)

// decMode decodes CBOR maps into map[string]interface{} rather than the
// default mode's map[interface{}]interface{}, so decoded IPLD values
// bridge cleanly through encoding/json in internal/record.
var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}{})}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Store is a decoded CAR: a header node plus the body blocks, each
// CBOR-decoded into a generic IPLD value (map[string]any, []any, or a
// scalar). Decoding is best-effort: a block that fails to parse is
// logged and skipped rather than aborting the whole store.
type Store struct {
	Roots []cid.Cid
	data  map[cid.Cid]any
}

// Len reports the number of successfully decoded blocks.
func (s *Store) Len() int {
	return len(s.data)
}

// Get looks up the IPLD value for c.
func (s *Store) Get(c cid.Cid) (any, bool) {
	v, ok := s.data[c]
	return v, ok
}

// Decode parses raw as a CAR byte stream. On total failure to even read
// a header (e.g. an empty or non-CAR buffer) it returns a valid,
// empty Store rather than an error, matching the "default-empty on any
// decode error" contract in the spec: callers always get something to
// range over.
func Decode(raw []byte) *Store {
	store := &Store{data: make(map[cid.Cid]any)}

	br, err := carv2.NewBlockReader(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("carstore: failed to read CAR header", "error", err)
		return store
	}
	store.Roots = br.Roots

	for {
		blk, err := br.Next()
		if err != nil {
			// io.EOF ends the loop; any other per-block error is
			// logged and iteration continues with the next block.
			if errors.Is(err, io.EOF) {
				break
			}
			slog.Warn("carstore: skipping corrupt block", "error", err)
			continue
		}
		if blk == nil {
			break
		}
		var val any
		if err := decMode.Unmarshal(blk.RawData(), &val); err != nil {
			slog.Warn("carstore: skipping undecodable block", "cid", blk.Cid(), "error", err)
			continue
		}
		store.data[blk.Cid()] = val
	}

	return store
}
