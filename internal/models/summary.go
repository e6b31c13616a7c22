package models

import "time"

// RunSummary aggregates a CrawlResult for reporting
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Seed        string        `json:"seed"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Canceled    bool          `json:"canceled,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`

	Enqueued         int `json:"enqueued"`
	Processed        int `json:"processed"`
	Saved            int `json:"saved"`
	Failed           int `json:"failed"`
	SkippedByHistory int `json:"skipped_by_history"`
	SkippedByDepth   int `json:"skipped_by_depth"`

	ByStatus        map[string]int `json:"by_status"`
	SettleReasons   map[string]int `json:"settle_reasons,omitempty"`
	Interactions    int            `json:"interactions"`
	LinksDiscovered int            `json:"links_discovered"`
	AvgPageTime     time.Duration  `json:"avg_page_time"`
	Domains         []DomainStats  `json:"domains"`
	Documents       []Document     `json:"documents"`
	Failures        []Failure      `json:"failures,omitempty"`
}

// DomainStats counts pages per host
type DomainStats struct {
	Domain string `json:"domain"`
	Pages  int    `json:"pages"`
	Saved  int    `json:"saved"`
	Failed int    `json:"failed"`
}

// Document is one saved PDF
type Document struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Depth    int    `json:"depth"`
}

// Failure is one page that was not saved
type Failure struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error"`
}
