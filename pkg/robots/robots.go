// Package robots answers whether a URL may be crawled according to the
// robots.txt of its origin.
package robots

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const maxRobotsBytes = 512 * 1024

// Options configures a Gate.
type Options struct {
	// Enabled turns robots compliance on. A disabled gate allows everything
	// and never fetches.
	Enabled   bool
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
	Logger    *slog.Logger
}

// Gate caches one rule group per origin for the lifetime of a run.
type Gate struct {
	enabled   bool
	userAgent string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*robotstxt.Group // nil value means allow all

	flight singleflight.Group
}

// NewGate constructs a gate from options.
func NewGate(opts Options) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "*"
	}
	return &Gate{
		enabled:   opts.Enabled,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		client:    opts.Client,
		logger:    opts.Logger,
		cache:     make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether target is permitted. Any failure to obtain rules
// results in allow.
func (g *Gate) Allowed(ctx context.Context, target string) bool {
	if !g.enabled {
		return true
	}

	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return true
	}

	group := g.group(ctx, u)
	if group == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

// Cached reports whether rules for origin have been resolved.
func (g *Gate) Cached(origin string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.cache[strings.ToLower(origin)]
	return ok
}

func (g *Gate) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	origin := strings.ToLower(u.Scheme + "://" + u.Host)

	g.mu.RLock()
	group, ok := g.cache[origin]
	g.mu.RUnlock()
	if ok {
		return group
	}

	v, _, _ := g.flight.Do(origin, func() (any, error) {
		// a caller that lost the race may arrive after the flight finished
		g.mu.RLock()
		group, ok := g.cache[origin]
		g.mu.RUnlock()
		if ok {
			return group, nil
		}

		group = g.fetch(ctx, origin)

		g.mu.Lock()
		g.cache[origin] = group
		g.mu.Unlock()
		return group, nil
	})
	group, _ = v.(*robotstxt.Group)
	return group
}

func (g *Gate) fetch(ctx context.Context, origin string) *robotstxt.Group {
	logger := g.logger.With("origin", origin)

	// the fetch is bounded by its own timeout, not the page's
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	data, err := g.download(ctx, origin+"/robots.txt")
	if err != nil {
		logger.Warn("robots.txt unavailable, allowing all", "error", err)
		return nil
	}

	group := data.FindGroup(g.userAgent)
	logger.Debug("robots.txt loaded", "user_agent", g.userAgent)
	return group
}

func (g *Gate) download(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	return io.ReadAll(io.LimitReader(reader, maxRobotsBytes))
}
