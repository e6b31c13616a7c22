package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser/fake"
	"github.com/amosWeiskopf/snapcrawl/pkg/document"
	"github.com/amosWeiskopf/snapcrawl/pkg/extractor"
	"github.com/amosWeiskopf/snapcrawl/pkg/history"
	"github.com/amosWeiskopf/snapcrawl/pkg/refresh"
	"github.com/amosWeiskopf/snapcrawl/pkg/throttle"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// robotsFunc adapts a function to RobotsGate.
type robotsFunc func(url string) bool

func (f robotsFunc) Allowed(_ context.Context, url string) bool { return f(url) }

var allowAll = robotsFunc(func(string) bool { return true })

type harness struct {
	site    *fake.Site
	history *history.FileStore
	outDir  string
	crawler *Crawler
}

type harnessOptions struct {
	opts     Options
	prefixes []string
	robots   RobotsGate
	delay    time.Duration
	refresh  refresh.Config
	history  *history.FileStore
}

func newHarness(t *testing.T, pages map[string]*fake.Page, ho harnessOptions) *harness {
	t.Helper()

	dir := t.TempDir()
	store := ho.history
	if store == nil {
		var err error
		store, err = history.OpenFile(filepath.Join(dir, "history.json"))
		require.NoError(t, err)
	}
	docs, err := document.NewWriter(filepath.Join(dir, "out"), ".pdf")
	require.NoError(t, err)

	if ho.robots == nil {
		ho.robots = allowAll
	}
	if ho.opts.Concurrency == 0 {
		ho.opts.Concurrency = 2
	}
	ho.opts.Prefixes = ho.prefixes

	site := fake.NewSite(pages)
	ext := extractor.New(ho.prefixes)
	ho.refresh.LoadMore = browser.Target{Texts: []string{"load more"}}
	ho.refresh.NextPage = browser.Target{Texts: []string{"next"}}

	proc, err := NewProcessor(Deps{
		Browser:   site,
		History:   store,
		Robots:    ho.robots,
		Throttle:  throttle.New(ho.delay),
		Refresh:   refresh.New(ho.refresh, ext, nil),
		Titles:    ext,
		Documents: docs,
	}, ho.opts)
	require.NoError(t, err)

	c, err := New(proc, store, ho.opts, nil)
	require.NoError(t, err)

	return &harness{site: site, history: store, outDir: docs.Dir(), crawler: c}
}

func sorted(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func TestRunPrefixScenario(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/": {
			Title: "Example Domain",
			Links: []string{"/docs/a", "/docs/b", "/blog/c"},
		},
		"https://example.com/docs/a": {Title: "Doc A", Links: []string{"/docs/deeper"}},
		"https://example.com/docs/b": {Title: "Doc B"},
		"https://example.com/blog/c": {Title: "Blog"},
	}

	h := newHarness(t, pages, harnessOptions{
		opts:     Options{MaxDepth: 1},
		prefixes: []string{"https://example.com/docs"},
	})

	result, err := h.crawler.Run(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/docs/a",
		"https://example.com/docs/b",
	}, sorted(h.site.VisitedURLs()))
	assert.Equal(t, 3, h.history.Len())
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Enqueued)
	assert.Equal(t, 1, result.SkippedByDepth, "docs/deeper is beyond max depth")
	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.Canceled)

	files, err := os.ReadDir(h.outDir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"Example_Domain.pdf", "Doc_A.pdf", "Doc_B.pdf"}, names)
}

func TestRunRobotsScenario(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/": {
			Title: "Home",
			Links: []string{"/private/x", "/public/y"},
		},
		"https://example.com/private/x": {Title: "Secret"},
		"https://example.com/public/y":  {Title: "Public"},
	}

	h := newHarness(t, pages, harnessOptions{
		opts: Options{MaxDepth: 1},
		robots: robotsFunc(func(u string) bool {
			return !strings.Contains(u, "/private/")
		}),
	})

	result, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.NotContains(t, h.site.VisitedURLs(), "https://example.com/private/x")
	assert.Contains(t, h.site.VisitedURLs(), "https://example.com/public/y")

	var denied *models.PageResult
	for i := range result.Pages {
		if result.Pages[i].URL == "https://example.com/private/x" {
			denied = &result.Pages[i]
		}
	}
	require.NotNil(t, denied)
	assert.False(t, denied.Success)
	assert.ErrorIs(t, denied.Err, models.ErrRobotsDisallowed)

	e, ok, err := h.history.Get(context.Background(), utils.HashURL("https://example.com/private/x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusRobotsDisallowed, e.Status)
}

func TestRunDiamondVisitsOnce(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/":  {Title: "A", Links: []string{"/b", "/c"}},
		"https://example.com/b": {Title: "B", Links: []string{"/d", "/"}},
		"https://example.com/c": {Title: "C", Links: []string{"/d/", "/d#frag"}},
		"https://example.com/d": {Title: "D", Links: []string{"/b"}},
	}

	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 5, Concurrency: 4}})

	_, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	visits := h.site.VisitedURLs()
	assert.Len(t, visits, 4)
	assert.ElementsMatch(t, []string{
		"https://example.com/",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, visits)
}

func TestRunDepthBound(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/":  {Title: "0", Links: []string{"/1"}},
		"https://example.com/1": {Title: "1", Links: []string{"/2"}},
		"https://example.com/2": {Title: "2", Links: []string{"/3"}},
		"https://example.com/3": {Title: "3"},
	}

	for depth, want := range map[int]int{0: 1, 1: 2, 2: 3, 5: 4} {
		h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: depth}})
		result, err := h.crawler.Run(context.Background(), "https://example.com/")
		require.NoError(t, err)
		assert.Len(t, h.site.VisitedURLs(), want, "max depth %d", depth)
		for _, p := range result.Pages {
			assert.LessOrEqual(t, p.Depth, depth)
		}
	}
}

func TestRunSkipsHistoryAcrossRuns(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/":  {Title: "Home", Links: []string{"/a"}},
		"https://example.com/a": {Title: "A", Links: []string{"/b"}},
		"https://example.com/b": {Title: "B"},
	}

	path := filepath.Join(t.TempDir(), "history.json")
	store, err := history.OpenFile(path)
	require.NoError(t, err)

	first := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 1}, history: store})
	_, err = first.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Len(t, first.site.VisitedURLs(), 2)

	// a fresh process reloads history from disk
	reopened, err := history.OpenFile(path)
	require.NoError(t, err)
	second := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 2}, history: reopened})
	result, err := second.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Empty(t, second.site.VisitedURLs(), "the seed is already in history")
	require.Len(t, result.Pages, 1)
	assert.True(t, result.Pages[0].Skipped)
	assert.Equal(t, 1, result.SkippedByHistory)
}

func TestRunConcurrencyBound(t *testing.T) {
	pages := map[string]*fake.Page{}
	var links []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		links = append(links, "/"+name)
		pages["https://example.com/"+name] = &fake.Page{Title: name, Delay: 20 * time.Millisecond}
	}
	pages["https://example.com/"] = &fake.Page{Title: "Home", Links: links}

	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 1, Concurrency: 3}})
	result, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, 9, result.Processed)
	assert.LessOrEqual(t, h.site.MaxOpenPages(), 3)
	assert.Zero(t, h.site.OpenPages(), "every tab is closed")
}

func TestRunThrottlesSameDomain(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/":  {Title: "Home", Links: []string{"/a", "/b", "/c"}},
		"https://example.com/a": {Title: "A"},
		"https://example.com/b": {Title: "B"},
		"https://example.com/c": {Title: "C"},
	}

	const delay = 60 * time.Millisecond
	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 1, Concurrency: 4}, delay: delay})
	_, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	visits := h.site.Visits()
	require.Len(t, visits, 4)
	sort.Slice(visits, func(i, j int) bool { return visits[i].At.Before(visits[j].At) })
	for i := 1; i < len(visits); i++ {
		assert.GreaterOrEqual(t, visits[i].At.Sub(visits[i-1].At), delay-10*time.Millisecond)
	}
}

func TestRunFailuresDoNotStopCrawl(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/": {
			Title: "Home",
			Links: []string{"/broken", "/unrenderable", "/missing", "/ok"},
		},
		"https://example.com/broken":       {NavigateErr: errors.New("net::ERR_CONNECTION_RESET")},
		"https://example.com/unrenderable": {Title: "Heavy", Links: []string{"/from-heavy"}, RenderErr: errors.New("printing failed")},
		"https://example.com/ok":           {Title: "OK"},
		"https://example.com/from-heavy":   {Title: "Child"},
	}

	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 2}})
	result, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	byURL := map[string]models.PageResult{}
	for _, p := range result.Pages {
		byURL[p.URL] = p
	}

	assert.ErrorIs(t, byURL["https://example.com/broken"].Err, models.ErrNavigationFailed)
	assert.ErrorIs(t, byURL["https://example.com/missing"].Err, models.ErrNavigationFailed)
	assert.ErrorIs(t, byURL["https://example.com/unrenderable"].Err, models.ErrRenderFailed)
	assert.True(t, byURL["https://example.com/ok"].Success)

	// links of a page that failed to render are still followed
	assert.True(t, byURL["https://example.com/from-heavy"].Success)

	e, ok, err := h.history.Get(context.Background(), utils.HashURL("https://example.com/unrenderable"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusRenderFailed, e.Status)
	assert.Empty(t, e.Filename)

	e, ok, err = h.history.Get(context.Background(), utils.HashURL("https://example.com/broken"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusNavigationFailed, e.Status)
}

func TestRunRecordsRedirectTarget(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/":    {Title: "Home", Links: []string{"/old", "/new"}},
		"https://example.com/old": {Title: "Moved", RedirectTo: "https://example.com/new/"},
		"https://example.com/new": {Title: "Moved"},
	}

	// one worker keeps /old ahead of /new
	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 1, Concurrency: 1}})
	result, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/", "https://example.com/old"}, h.site.VisitedURLs())
	assert.True(t, h.history.Contains(utils.HashURL("https://example.com/new")))
	assert.Equal(t, 3, h.history.Len())

	var skipped int
	for _, p := range result.Pages {
		if p.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestRunMaxPages(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/":  {Title: "Home", Links: []string{"/a", "/b", "/c", "/d"}},
		"https://example.com/a": {Title: "A"},
		"https://example.com/b": {Title: "B"},
		"https://example.com/c": {Title: "C"},
		"https://example.com/d": {Title: "D"},
	}

	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 1, MaxPages: 3}})
	result, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Enqueued)
	assert.Len(t, h.site.VisitedURLs(), 3)
}

func TestRunInvalidSeed(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})

	for _, seed := range []string{"", "not a url", "ftp://example.com/"} {
		_, err := h.crawler.Run(context.Background(), seed)
		assert.ErrorIs(t, err, models.ErrInvalidURL, seed)
	}
	assert.Empty(t, h.site.VisitedURLs())
}

func TestRunCanceled(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/": {Title: "Home", Links: []string{"/slow"}},
		"https://example.com/slow": {
			Title: "Slow",
			Delay: 5 * time.Second,
			Links: []string{"/never"},
		},
		"https://example.com/never": {Title: "Never"},
	}

	h := newHarness(t, pages, harnessOptions{opts: Options{MaxDepth: 3, PageTimeout: 10 * time.Second}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := h.crawler.Run(ctx, "https://example.com/")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.True(t, result.Canceled)
	assert.NotContains(t, h.site.VisitedURLs(), "https://example.com/never")
	assert.False(t, h.history.Contains(utils.HashURL("https://example.com/slow")), "interrupted pages are retried next run")
}

func TestRunPullModeFollowsRevealedLinks(t *testing.T) {
	pages := map[string]*fake.Page{
		"https://example.com/": {
			Title:    "Feed",
			Links:    []string{"/p1"},
			LoadMore: [][]string{{"/p2"}, {"/p3"}},
		},
		"https://example.com/p1": {Title: "P1"},
		"https://example.com/p2": {Title: "P2"},
		"https://example.com/p3": {Title: "P3"},
	}

	h := newHarness(t, pages, harnessOptions{
		opts:    Options{MaxDepth: 1},
		refresh: refresh.Config{Mode: refresh.ModePull, NoNewLimit: 2},
	})
	result, err := h.crawler.Run(context.Background(), "https://example.com/")
	require.NoError(t, err)

	assert.Len(t, h.site.VisitedURLs(), 4)
	for _, p := range result.Pages {
		if p.URL == "https://example.com/" {
			assert.Equal(t, 2, p.Interactions)
			assert.Equal(t, string(refresh.ReasonNoControl), p.SettleReason)
		}
	}
}
