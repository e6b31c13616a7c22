package models

import (
	"errors"
	"time"
)

// WorkItem is a unit of frontier work
type WorkItem struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// PageResult is the outcome of processing one WorkItem
type PageResult struct {
	URL          string        `json:"url"`
	FinalURL     string        `json:"final_url,omitempty"`
	Title        string        `json:"title,omitempty"`
	Depth        int           `json:"depth"`
	Links        []string      `json:"links,omitempty"`
	Success      bool          `json:"success"`
	Skipped      bool          `json:"skipped,omitempty"`
	Err          error         `json:"-"`
	Filename     string        `json:"filename,omitempty"`
	Interactions int           `json:"interactions,omitempty"`
	SettleReason string        `json:"settle_reason,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Reason maps the result onto a stable, loggable string.
func (r PageResult) Reason() string {
	switch {
	case r.Skipped:
		return StatusSkipped
	case r.Err == nil && r.Success:
		return StatusOK
	case errors.Is(r.Err, ErrInvalidURL):
		return StatusInvalidURL
	case errors.Is(r.Err, ErrRobotsDisallowed):
		return StatusRobotsDisallowed
	case errors.Is(r.Err, ErrOutOfScope):
		return StatusOutOfScope
	case errors.Is(r.Err, ErrNavigationFailed):
		return StatusNavigationFailed
	case errors.Is(r.Err, ErrRenderFailed):
		return StatusRenderFailed
	case r.Err != nil:
		return StatusFailed
	default:
		return StatusOK
	}
}

// CrawlResult contains the results of a crawl run
type CrawlResult struct {
	RunID      string       `json:"run_id"`
	Seed       string       `json:"seed"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Pages      []PageResult `json:"pages"`

	Enqueued         int  `json:"enqueued"`
	Processed        int  `json:"processed"`
	SkippedByHistory int  `json:"skipped_by_history"`
	SkippedByDepth   int  `json:"skipped_by_depth"`
	Canceled         bool `json:"canceled,omitempty"`
}

// Duration returns how long the run took.
func (c *CrawlResult) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}
