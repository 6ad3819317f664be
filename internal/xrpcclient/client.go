// Package xrpcclient is a minimal outbound REST client for the three
// AT Protocol calls the core issues directly: resolving handles,
// describing repos, and fetching follow graphs. It caches results for
// the lifetime of the process and honors HTTPS_PROXY, grounded in the
// original firehose tool's ureq-based client.
package xrpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Repo mirrors com.atproto.repo.describeRepo's response shape.
type Repo struct {
	Handle          string   `json:"handle"`
	Did             string   `json:"did"`
	Collections     []string `json:"collections"`
	HandleIsCorrect bool     `json:"handleIsCorrect"`
}

// Client is a cached, proxy-aware REST client over an AT Protocol host.
type Client struct {
	host       string
	httpClient *http.Client

	mu          sync.Mutex
	repoCache   map[string]Repo
	handleCache map[string]string
}

// New creates a Client targeting host (e.g. "bsky.social"). The
// underlying transport honors HTTPS_PROXY/https_proxy via
// http.ProxyFromEnvironment, matching the original client's proxy
// handling.
func New(host string) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		},
		repoCache:   make(map[string]Repo),
		handleCache: make(map[string]string),
	}
}

func (c *Client) get(ctx context.Context, xrpc string, query url.Values, out any) error {
	u := fmt.Sprintf("https://%s/xrpc/%s", c.host, xrpc)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("xrpcclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("xrpcclient: request %s: %w", xrpc, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("xrpcclient: %s returned status %d", xrpc, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// DescribeRepo calls com.atproto.repo.describeRepo.
func (c *Client) DescribeRepo(ctx context.Context, did string) (Repo, error) {
	var repo Repo
	err := c.get(ctx, "com.atproto.repo.describeRepo", url.Values{"repo": {did}}, &repo)
	return repo, err
}

// GetRepo returns repo info for did, caching the result for the
// lifetime of the process (staleness is acceptable per spec.md §5).
func (c *Client) GetRepo(ctx context.Context, did string) (Repo, error) {
	c.mu.Lock()
	if r, ok := c.repoCache[did]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	repo, err := c.DescribeRepo(ctx, did)
	if err != nil {
		return Repo{}, err
	}
	c.mu.Lock()
	c.repoCache[did] = repo
	c.mu.Unlock()
	return repo, nil
}

// ResolveHandle calls com.atproto.identity.resolveHandle, caching the
// did:handle mapping for the lifetime of the process.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	c.mu.Lock()
	if did, ok := c.handleCache[handle]; ok {
		c.mu.Unlock()
		return did, nil
	}
	c.mu.Unlock()

	var result struct {
		Did string `json:"did"`
	}
	if err := c.get(ctx, "com.atproto.identity.resolveHandle", url.Values{"handle": {handle}}, &result); err != nil {
		return "", err
	}
	if result.Did == "" {
		return "", fmt.Errorf("xrpcclient: no such handle %q", handle)
	}
	c.mu.Lock()
	c.handleCache[handle] = result.Did
	c.mu.Unlock()
	return result.Did, nil
}

// GetFollows calls app.bsky.graph.getFollows, paging through cursor
// until exhausted, and returns the flat list of followee DIDs.
func (c *Client) GetFollows(ctx context.Context, actor string) ([]string, error) {
	var follows []string
	cursor := ""
	for {
		var page struct {
			Follows []struct {
				Did string `json:"did"`
			} `json:"follows"`
			Cursor string `json:"cursor"`
		}
		q := url.Values{"actor": {actor}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		if err := c.get(ctx, "app.bsky.graph.getFollows", q, &page); err != nil {
			return nil, err
		}
		for _, f := range page.Follows {
			follows = append(follows, f.Did)
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	return follows, nil
}
