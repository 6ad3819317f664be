// Package record projects repository records out of a commit's CAR
// block store: it resolves each create/update operation's CID to an
// app.bsky.* record and decodes it into a typed, tagged-union value.
package record

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skyfeed-dev/skyfeed/internal/carstore"
	"github.com/skyfeed-dev/skyfeed/internal/frame"
)

// Kind discriminates the record variants this projector understands.
type Kind string

const (
	KindPost       Kind = "app.bsky.feed.post"
	KindLike       Kind = "app.bsky.feed.like"
	KindRepost     Kind = "app.bsky.feed.repost"
	KindFollow     Kind = "app.bsky.graph.follow"
	KindBlock      Kind = "app.bsky.graph.block"
	KindList       Kind = "app.bsky.graph.list"
	KindListItem   Kind = "app.bsky.graph.listitem"
	KindGenerator  Kind = "app.bsky.feed.generator"
	KindProfile    Kind = "app.bsky.actor.profile"
	KindThreadgate Kind = "app.bsky.feed.threadgate"
	KindUnknown    Kind = "unknown"
)

// StrongRef is a (uri, cid) pointer to another record.
type StrongRef struct {
	Uri string `json:"uri"`
	Cid string `json:"cid"`
}

// Reply links a post to its thread root and immediate parent.
type Reply struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// Facet is a byte-range annotation (mention, link, or tag) over a
// post's UTF-8 text. Indices are byte offsets, not code points.
type Facet struct {
	Index struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"index"`
	Features []map[string]any `json:"features"`
}

// Embed is the union of image/external-link/quote-record/record-with-media
// embeds. Only the discriminating $type is kept here; the spec treats
// embed contents as pass-through data the filter engine never inspects.
type Embed struct {
	Type string `json:"$type"`
}

// PostRecord is app.bsky.feed.post.
type PostRecord struct {
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs,omitempty"`
	Reply     *Reply   `json:"reply,omitempty"`
	Facets    []Facet  `json:"facets,omitempty"`
	Embed     *Embed   `json:"embed,omitempty"`
}

// LikeRecord is app.bsky.feed.like.
type LikeRecord struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// RepostRecord is app.bsky.feed.repost.
type RepostRecord struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// FollowRecord is app.bsky.graph.follow.
type FollowRecord struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// BlockRecord is app.bsky.graph.block.
type BlockRecord struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// ListRecord is app.bsky.graph.list.
type ListRecord struct {
	Name        string `json:"name"`
	Purpose     string `json:"purpose"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// ListItemRecord is app.bsky.graph.listitem.
type ListItemRecord struct {
	Subject   string `json:"subject"`
	List      string `json:"list"`
	CreatedAt string `json:"createdAt"`
}

// GeneratorRecord is app.bsky.feed.generator.
type GeneratorRecord struct {
	Did         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// ProfileRecord is app.bsky.actor.profile.
type ProfileRecord struct {
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// ThreadgateRecord is app.bsky.feed.threadgate.
type ThreadgateRecord struct {
	Post      string           `json:"post"`
	Allow     []map[string]any `json:"allow,omitempty"`
	CreatedAt string           `json:"createdAt"`
}

// Record is the tagged union over every record kind this projector
// understands, plus a catch-all Unknown arm for forward compatibility.
type Record struct {
	Kind       Kind
	Post       *PostRecord
	Like       *LikeRecord
	Repost     *RepostRecord
	Follow     *FollowRecord
	Block      *BlockRecord
	List       *ListRecord
	ListItem   *ListItemRecord
	Generator  *GeneratorRecord
	Profile    *ProfileRecord
	Threadgate *ThreadgateRecord
	Unknown    map[string]any
}

// OpRecord pairs a commit operation with its decoded record.
type OpRecord struct {
	Op     frame.Op
	Record Record
}

// decode bridges an IPLD value (as produced by carstore, a generic
// map[string]any) through canonical JSON into the target record type.
// This is the "simple, slow" bridge the design notes explicitly permit
// in place of a direct IPLD decoder.
func decode(ipldVal any) (Record, error) {
	m, ok := ipldVal.(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("record: value is %T, not a map", ipldVal)
	}
	typ, _ := m["$type"].(string)

	raw, err := json.Marshal(m)
	if err != nil {
		return Record{}, fmt.Errorf("record: bridge to JSON: %w", err)
	}

	switch Kind(typ) {
	case KindPost:
		var p PostRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindPost, Post: &p}, nil
	case KindLike:
		var p LikeRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindLike, Like: &p}, nil
	case KindRepost:
		var p RepostRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindRepost, Repost: &p}, nil
	case KindFollow:
		var p FollowRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindFollow, Follow: &p}, nil
	case KindBlock:
		var p BlockRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindBlock, Block: &p}, nil
	case KindList:
		var p ListRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindList, List: &p}, nil
	case KindListItem:
		var p ListItemRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindListItem, ListItem: &p}, nil
	case KindGenerator:
		var p GeneratorRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindGenerator, Generator: &p}, nil
	case KindProfile:
		var p ProfileRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindProfile, Profile: &p}, nil
	case KindThreadgate:
		var p ThreadgateRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, err
		}
		return Record{Kind: KindThreadgate, Threadgate: &p}, nil
	default:
		return Record{Kind: KindUnknown, Unknown: m}, nil
	}
}

// Project iterates commit.Ops whose path has pathPrefix, resolves each
// create/update op's CID in store, and decodes the matching record.
// An unknown $type yields a KindUnknown record carrying the raw map.
// Ops with a missing or unresolved CID, or a value that fails to
// decode, are logged and skipped, not fatal.
func Project(commit *frame.Commit, store *carstore.Store, pathPrefix string) []OpRecord {
	var out []OpRecord
	for _, op := range commit.Ops {
		if !strings.HasPrefix(op.Path, pathPrefix) {
			continue
		}
		if op.Action != "create" && op.Action != "update" {
			continue
		}
		if op.Cid == nil {
			slog.Warn("record: op missing cid", "path", op.Path, "action", op.Action)
			continue
		}
		val, ok := store.Get(op.Cid.Cid)
		if !ok {
			slog.Warn("record: op cid not found in CAR store", "path", op.Path, "cid", op.Cid.Cid)
			continue
		}
		rec, err := decode(val)
		if err != nil {
			slog.Warn("record: failed to decode record", "path", op.Path, "error", err)
			continue
		}
		out = append(out, OpRecord{Op: op, Record: rec})
	}
	return out
}

// GetPostText returns the text of every create op whose record is a post.
func GetPostText(commit *frame.Commit, store *carstore.Store) []string {
	var texts []string
	for _, opRec := range Project(commit, store, string(KindPost)) {
		if opRec.Op.Action != "create" || opRec.Record.Post == nil {
			continue
		}
		texts = append(texts, opRec.Record.Post.Text)
	}
	return texts
}

// GetPostPath returns the path of the first post op in the commit.
func GetPostPath(commit *frame.Commit, store *carstore.Store) (string, bool) {
	recs := Project(commit, store, string(KindPost))
	if len(recs) == 0 {
		return "", false
	}
	return recs[0].Op.Path, true
}
