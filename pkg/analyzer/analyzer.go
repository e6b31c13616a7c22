package analyzer

import (
	"sort"
	"time"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// Analyzer turns crawl results into run summaries
type Analyzer struct {
	config *Config
}

// Config holds analyzer configuration
type Config struct {
	// MaxFailures caps the failures listed in a summary, 0 means all.
	MaxFailures int
	// IncludeDocuments lists every saved document.
	IncludeDocuments bool
}

// New creates a new Analyzer instance
func New() *Analyzer {
	return &Analyzer{
		config: &Config{
			MaxFailures:      100,
			IncludeDocuments: true,
		},
	}
}

// NewWithConfig creates an Analyzer with custom configuration
func NewWithConfig(config *Config) *Analyzer {
	return &Analyzer{config: config}
}

// Analyze summarizes one crawl run
func (a *Analyzer) Analyze(result *models.CrawlResult) *models.RunSummary {
	summary := &models.RunSummary{
		RunID:            result.RunID,
		Seed:             result.Seed,
		StartedAt:        result.StartedAt,
		Duration:         result.Duration(),
		Canceled:         result.Canceled,
		GeneratedAt:      time.Now(),
		Enqueued:         result.Enqueued,
		Processed:        result.Processed,
		SkippedByHistory: result.SkippedByHistory,
		SkippedByDepth:   result.SkippedByDepth,
		ByStatus:         make(map[string]int),
		SettleReasons:    make(map[string]int),
	}

	domains := make(map[string]*models.DomainStats)
	var worked int
	var total time.Duration

	for _, page := range result.Pages {
		status := page.Reason()
		summary.ByStatus[status]++
		if page.Skipped {
			continue
		}

		if page.SettleReason != "" {
			summary.SettleReasons[page.SettleReason]++
		}
		summary.Interactions += page.Interactions
		summary.LinksDiscovered += len(page.Links)
		worked++
		total += page.Duration

		domain := utils.Domain(page.URL)
		stats, ok := domains[domain]
		if !ok {
			stats = &models.DomainStats{Domain: domain}
			domains[domain] = stats
		}
		stats.Pages++

		if page.Success {
			summary.Saved++
			stats.Saved++
			if a.config.IncludeDocuments {
				summary.Documents = append(summary.Documents, models.Document{
					URL:      page.URL,
					Title:    page.Title,
					Filename: page.Filename,
					Depth:    page.Depth,
				})
			}
			continue
		}

		summary.Failed++
		stats.Failed++
		if a.config.MaxFailures == 0 || len(summary.Failures) < a.config.MaxFailures {
			f := models.Failure{URL: page.URL, Status: status}
			if page.Err != nil {
				f.Error = page.Err.Error()
			}
			summary.Failures = append(summary.Failures, f)
		}
	}

	if worked > 0 {
		summary.AvgPageTime = total / time.Duration(worked)
	}
	summary.Domains = sortDomains(domains)
	sort.SliceStable(summary.Documents, func(i, j int) bool {
		if summary.Documents[i].Depth != summary.Documents[j].Depth {
			return summary.Documents[i].Depth < summary.Documents[j].Depth
		}
		return summary.Documents[i].URL < summary.Documents[j].URL
	})
	sort.SliceStable(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].URL < summary.Failures[j].URL
	})
	return summary
}

// sortDomains orders hosts by page count, then name
func sortDomains(domains map[string]*models.DomainStats) []models.DomainStats {
	out := make([]models.DomainStats, 0, len(domains))
	for _, d := range domains {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pages != out[j].Pages {
			return out[i].Pages > out[j].Pages
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
