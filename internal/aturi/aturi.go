// Package aturi parses and renders at:// URIs used throughout the
// AT Protocol to reference records inside a repository.
package aturi

import (
	"regexp"
	"strings"
)

// uriPattern mirrors the grammar at://host(/collection(/rkey)?)?(?query)?(#hash)?.
var uriPattern = regexp.MustCompile(`^(at://)?(did:[a-zA-Z0-9:%-]+|[a-zA-Z0-9][a-zA-Z0-9.:-]*)(/[^?#\s]*)?(\?[^#\s]+)?(#[^\s]+)?$`)

// AtUri is a parsed at:// reference. Host is either a DID or a handle.
type AtUri struct {
	Host  string
	Path  string
	Query string
	Hash  string
}

// Parse parses s into an AtUri. It returns false if s does not match the
// at-uri grammar.
func Parse(s string) (AtUri, bool) {
	m := uriPattern.FindStringSubmatch(s)
	if m == nil {
		return AtUri{}, false
	}
	return AtUri{
		Host:  m[2],
		Path:  m[3],
		Query: strings.TrimPrefix(m[4], "?"),
		Hash:  strings.TrimPrefix(m[5], "#"),
	}, true
}

// New builds an AtUri from its parts, matching the constructor shape used
// by algorithm/feed-uri construction.
func New(host, path, query, hash string) AtUri {
	return AtUri{Host: host, Path: path, Query: query, Hash: hash}
}

// Render produces the canonical string form of u.
func (u AtUri) Render() string {
	var b strings.Builder
	b.WriteString("at://")
	b.WriteString(u.Host)
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteString("?")
		b.WriteString(u.Query)
	}
	if u.Hash != "" {
		b.WriteString("#")
		b.WriteString(u.Hash)
	}
	return b.String()
}

// String implements fmt.Stringer via Render.
func (u AtUri) String() string {
	return u.Render()
}

func (u AtUri) pathSegments() []string {
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Collection returns the first path segment after the host, if any.
func (u AtUri) Collection() (string, bool) {
	segs := u.pathSegments()
	if len(segs) < 1 {
		return "", false
	}
	return segs[0], true
}

// Rkey returns the second path segment after the host, if any.
func (u AtUri) Rkey() (string, bool) {
	segs := u.pathSegments()
	if len(segs) < 2 {
		return "", false
	}
	return segs[1], true
}
