// Package normalize turns an image reference (usually a bare URL produced
// by an upstream node) into a form a generation or analysis collaborator
// can consume. Cross-origin sources frequently block direct pixel access,
// so normalization is an ordered fallback chain: each source is attempted
// only after the previous one failed, and the first success terminates the
// chain. Only total failure surfaces to the caller.
package normalize

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/storyflow"
)

// Payload is a normalized image. Exactly one of Base64 or RemoteURL is
// set: Base64 when the bytes were obtained client-side, RemoteURL when the
// chain deferred the fetch to the collaborator's server side.
type Payload struct {
	Base64    string
	MIME      string
	RemoteURL string
}

// DataURL renders the payload as a data URL when bytes are present.
func (p Payload) DataURL() string {
	if p.Base64 == "" {
		return p.RemoteURL
	}
	mime := p.MIME
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, p.Base64)
}

// Source is one link of the chain.
type Source struct {
	// Name identifies the source in logs and stats.
	Name string
	// Condition skips the source without counting an attempt.
	Condition func(rawURL string) bool
	// Fetch performs the normalization attempt.
	Fetch func(ctx context.Context, rawURL string) (Payload, error)
}

// Chain is an ordered image-normalization fallback chain.
type Chain struct {
	sources []Source
	logger  storyflow.Logger

	mu        sync.Mutex
	attempts  map[string]int64
	successes map[string]int64
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger attaches a logger.
func WithLogger(l storyflow.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// WithSource appends a custom source to the chain.
func WithSource(s Source) Option {
	return func(c *Chain) { c.sources = append(c.sources, s) }
}

// MaxFetchBytes bounds a direct fetch; larger images defer to server-side
// handling.
const MaxFetchBytes = 24 << 20

// NewChain builds the standard three-step chain over the given client:
// direct fetch with base64 encoding (data URLs pass straight through),
// proxy fetch for cross-origin sources, and finally the raw URL handed to
// the collaborator to fetch server-side. proxyBase empty disables the
// proxy step.
func NewChain(client *http.Client, proxyBase string, opts ...Option) *Chain {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Chain{
		logger:    storyflow.NopLogger(),
		attempts:  make(map[string]int64),
		successes: make(map[string]int64),
	}

	c.sources = append(c.sources, Source{
		Name:      "inline",
		Condition: func(rawURL string) bool { return strings.HasPrefix(rawURL, "data:") },
		Fetch:     fetchInline,
	})
	c.sources = append(c.sources, Source{
		Name:  "direct",
		Fetch: directFetcher(client, ""),
	})
	if proxyBase != "" {
		c.sources = append(c.sources, Source{
			Name:  "proxy",
			Fetch: directFetcher(client, proxyBase),
		})
	}
	c.sources = append(c.sources, Source{
		Name: "remote-reference",
		Fetch: func(ctx context.Context, rawURL string) (Payload, error) {
			u, err := url.ParseRequestURI(rawURL)
			if err != nil {
				return Payload{}, fmt.Errorf("not a usable remote reference: %w", err)
			}
			// Only http(s) can be fetched server-side; a data URL that
			// reached this point already failed to decode.
			if u.Scheme != "http" && u.Scheme != "https" {
				return Payload{}, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
			}
			return Payload{RemoteURL: rawURL}, nil
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Normalize runs the chain for one image reference. The error, when every
// source fails, is a *storyflow.TransferError carrying each attempt.
func (c *Chain) Normalize(ctx context.Context, rawURL string) (Payload, error) {
	var attempts []error

	for _, src := range c.sources {
		if src.Condition != nil && !src.Condition(rawURL) {
			continue
		}

		c.count(c.attempts, src.Name)
		payload, err := src.Fetch(ctx, rawURL)
		if err == nil {
			c.count(c.successes, src.Name)
			c.logger.Debug(ctx, "image normalized", "source", src.Name, "url", rawURL)
			return payload, nil
		}

		c.logger.Debug(ctx, "normalization source failed",
			"source", src.Name, "url", rawURL, "error", err)
		attempts = append(attempts, fmt.Errorf("%s: %w", src.Name, err))

		if ctx.Err() != nil {
			break
		}
	}

	return Payload{}, &storyflow.TransferError{URL: rawURL, Attempts: attempts}
}

// NormalizeAll normalizes a reference set concurrently, preserving order.
func (c *Chain) NormalizeAll(ctx context.Context, urls []string) ([]Payload, error) {
	payloads := make([]Payload, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			p, err := c.Normalize(ctx, u)
			if err != nil {
				return err
			}
			payloads[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return payloads, nil
}

// Stats returns per-source attempt/success counts.
func (c *Chain) Stats() map[string][2]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][2]int64, len(c.attempts))
	for name, n := range c.attempts {
		out[name] = [2]int64{n, c.successes[name]}
	}
	return out
}

func (c *Chain) count(m map[string]int64, name string) {
	c.mu.Lock()
	m[name]++
	c.mu.Unlock()
}

// fetchInline decodes a data URL without touching the network.
func fetchInline(_ context.Context, rawURL string) (Payload, error) {
	rest, ok := strings.CutPrefix(rawURL, "data:")
	if !ok {
		return Payload{}, fmt.Errorf("not a data url")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return Payload{}, fmt.Errorf("malformed data url")
	}
	mime, _, _ := strings.Cut(meta, ";")
	if !strings.Contains(meta, "base64") {
		decoded, err := url.QueryUnescape(data)
		if err != nil {
			return Payload{}, fmt.Errorf("malformed data url payload: %w", err)
		}
		return Payload{Base64: base64.StdEncoding.EncodeToString([]byte(decoded)), MIME: mime}, nil
	}
	// Validate the payload decodes before passing it along.
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return Payload{}, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return Payload{Base64: data, MIME: mime}, nil
}

// directFetcher fetches image bytes and base64-encodes them. With a proxy
// base the request is routed through the proxy, which strips the
// cross-origin restrictions the direct attempt tripped over.
func directFetcher(client *http.Client, proxyBase string) func(ctx context.Context, rawURL string) (Payload, error) {
	return func(ctx context.Context, rawURL string) (Payload, error) {
		target := rawURL
		if proxyBase != "" {
			target = strings.TrimRight(proxyBase, "/") + "?url=" + url.QueryEscape(rawURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return Payload{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return Payload{}, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return Payload{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
		if err != nil {
			return Payload{}, err
		}
		if len(body) > MaxFetchBytes {
			return Payload{}, fmt.Errorf("image exceeds %d bytes", MaxFetchBytes)
		}

		mime := resp.Header.Get("Content-Type")
		if mime == "" || !strings.HasPrefix(mime, "image/") {
			mime = http.DetectContentType(body)
		}
		if !strings.HasPrefix(mime, "image/") {
			return Payload{}, fmt.Errorf("not an image: %s", mime)
		}

		return Payload{Base64: base64.StdEncoding.EncodeToString(body), MIME: mime}, nil
	}
}
