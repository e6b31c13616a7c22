package crawler

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// Visited is the read side of history used when enqueueing
type Visited interface {
	Contains(hash string) bool
}

// Crawler is the frontier scheduler. A fixed pool of workers pulls WorkItems
// from one FIFO queue; the run ends when the queue is empty and no worker is
// busy. A Crawler runs one crawl at a time.
type Crawler struct {
	processor PageProcessor
	visited   Visited
	opts      Options
	logger    *slog.Logger

	runMu sync.Mutex

	queueMu   sync.Mutex
	queueCond *sync.Cond
	linkQueue *list.List
	active    int
	stopped   bool
	enqueued  map[string]bool
	result    *models.CrawlResult
}

// New creates a Crawler.
func New(processor PageProcessor, visited Visited, opts Options, logger *slog.Logger) (*Crawler, error) {
	if processor == nil {
		return nil, errors.New("crawler: processor is required")
	}
	if visited == nil {
		return nil, errors.New("crawler: history is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Crawler{
		processor: processor,
		visited:   visited,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
	c.queueCond = sync.NewCond(&c.queueMu)
	return c, nil
}

// Run crawls from seed until the frontier drains or ctx is canceled. Only an
// invalid seed is an error; per-page failures are reported in the result.
func (c *Crawler) Run(ctx context.Context, seed string) (*models.CrawlResult, error) {
	normalized, err := utils.NormalizeURL(seed, "")
	if err != nil {
		return nil, fmt.Errorf("seed %q: %w", seed, err)
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	result := &models.CrawlResult{
		RunID:     uuid.NewString(),
		Seed:      normalized,
		StartedAt: time.Now(),
	}
	logger := c.logger.With("run_id", result.RunID)

	c.queueMu.Lock()
	c.linkQueue = list.New()
	c.active = 0
	c.stopped = false
	c.enqueued = make(map[string]bool)
	c.result = result
	c.push(models.WorkItem{URL: normalized, Depth: 0})
	c.queueMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.queueMu.Lock()
		c.stopped = true
		c.queueMu.Unlock()
		c.queueCond.Broadcast()
	})
	defer stop()

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	if c.opts.ProgressInterval > 0 {
		go c.trackProgress(progressCtx, logger)
	}

	logger.Info("crawl started",
		"seed", normalized,
		"workers", c.opts.Concurrency,
		"max_depth", c.opts.MaxDepth,
	)

	var g errgroup.Group
	for i := 0; i < c.opts.Concurrency; i++ {
		g.Go(func() error {
			c.work(ctx)
			return nil
		})
	}
	_ = g.Wait()

	c.queueMu.Lock()
	result.FinishedAt = time.Now()
	result.Canceled = ctx.Err() != nil
	c.result = nil
	c.queueMu.Unlock()

	logger.Info("crawl finished",
		"processed", result.Processed,
		"enqueued", result.Enqueued,
		"skipped_by_history", result.SkippedByHistory,
		"duration", result.Duration().Round(time.Millisecond),
		"canceled", result.Canceled,
	)
	return result, nil
}

func (c *Crawler) work(ctx context.Context) {
	for {
		item, ok := c.next()
		if !ok {
			return
		}
		res := c.processor.Process(ctx, item)
		c.complete(item, res)
	}
}

// next blocks until an item is available. It returns false once the queue is
// empty with no active workers, or the run was stopped.
func (c *Crawler) next() (models.WorkItem, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	for {
		for c.linkQueue.Len() == 0 && c.active > 0 && !c.stopped {
			c.queueCond.Wait()
		}
		if c.stopped || c.linkQueue.Len() == 0 {
			return models.WorkItem{}, false
		}

		elem := c.linkQueue.Front()
		item := elem.Value.(models.WorkItem)
		c.linkQueue.Remove(elem)

		if item.Depth > c.opts.MaxDepth {
			c.result.SkippedByDepth++
			continue
		}
		c.active++
		return item, true
	}
}

// complete records res and enqueues its children. Every completion wakes
// waiting workers so the last one can observe termination.
func (c *Crawler) complete(item models.WorkItem, res models.PageResult) {
	c.queueMu.Lock()
	defer c.queueCond.Broadcast()
	defer c.queueMu.Unlock()

	c.active--
	c.result.Processed++
	c.result.Pages = append(c.result.Pages, res)
	if res.Skipped {
		c.result.SkippedByHistory++
	}
	if c.stopped {
		return
	}

	childDepth := item.Depth + 1
	for _, link := range res.Links {
		hash := utils.HashURL(link)
		if c.enqueued[hash] || c.visited.Contains(hash) {
			continue
		}
		if childDepth > c.opts.MaxDepth {
			c.result.SkippedByDepth++
			c.enqueued[hash] = true
			continue
		}
		if c.opts.MaxPages > 0 && c.result.Enqueued >= c.opts.MaxPages {
			break
		}
		c.push(models.WorkItem{URL: link, Depth: childDepth})
	}
}

// push appends item. Callers hold queueMu.
func (c *Crawler) push(item models.WorkItem) {
	c.enqueued[utils.HashURL(item.URL)] = true
	c.linkQueue.PushBack(item)
	c.result.Enqueued++
}

func (c *Crawler) trackProgress(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(c.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.queueMu.Lock()
			if c.result != nil {
				logger.Info("progress",
					"processed", c.result.Processed,
					"queued", c.linkQueue.Len(),
					"active", c.active,
				)
			}
			c.queueMu.Unlock()
		}
	}
}
