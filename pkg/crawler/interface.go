package crawler

import (
	"context"
	"time"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/history"
	"github.com/amosWeiskopf/snapcrawl/pkg/refresh"
)

// History is the part of history.Store the crawler needs
type History interface {
	Contains(hash string) bool
	Add(ctx context.Context, e history.Entry) error
}

// RobotsGate decides robots.txt compliance for a URL
type RobotsGate interface {
	Allowed(ctx context.Context, url string) bool
}

// Throttle spaces requests per domain
type Throttle interface {
	Acquire(ctx context.Context, domain string) error
}

// Settler runs the in-page interaction loop
type Settler interface {
	Settle(ctx context.Context, page browser.Page) refresh.Outcome
}

// TitleSource names a rendered page
type TitleSource interface {
	Title(ctx context.Context, page browser.Page) string
}

// DocumentSink stores rendered documents and returns the file name used
type DocumentSink interface {
	Save(title string, data []byte) (string, error)
}

// PageProcessor turns one WorkItem into a PageResult. It never fails the run.
type PageProcessor interface {
	Process(ctx context.Context, item models.WorkItem) models.PageResult
}

// Options contains configuration for the crawler
type Options struct {
	Concurrency   int           // Number of workers
	MaxDepth      int           // Maximum crawl depth, seed is 0
	MaxPages      int           // Cap on enqueued pages, 0 means unlimited
	PageTimeout   time.Duration // Navigation timeout
	RenderTimeout time.Duration // PDF render timeout
	Paper         browser.Paper // PDF paper size
	// Prefixes limits where a redirect from a discovered link may land.
	// The seed is exempt, as it is from link filtering.
	Prefixes []string
	// ProgressInterval controls how often progress is logged, 0 disables it.
	ProgressInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = o.PageTimeout
	}
	if o.Paper.Width <= 0 || o.Paper.Height <= 0 {
		o.Paper = browser.PaperA4
	}
	return o
}
