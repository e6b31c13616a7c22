package crawler

import (
	"context"
	"path/filepath"
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

// slowRender delays RenderPDF past a short render timeout.
type slowRender struct {
	browser.Page
	wait time.Duration
}

func (s slowRender) RenderPDF(ctx context.Context, paper browser.Paper) ([]byte, error) {
	select {
	case <-time.After(s.wait):
		return s.Page.RenderPDF(ctx, paper)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type slowBrowser struct {
	*fake.Site
	wait time.Duration
}

func (b slowBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	p, err := b.Site.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return slowRender{Page: p, wait: b.wait}, nil
}

func testDeps(t *testing.T, b browser.Browser) (Deps, *history.FileStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := history.OpenFile(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	docs, err := document.NewWriter(filepath.Join(dir, "out"), ".pdf")
	require.NoError(t, err)
	ext := extractor.New(nil)
	return Deps{
		Browser:   b,
		History:   store,
		Robots:    allowAll,
		Throttle:  throttle.New(0),
		Refresh:   refresh.New(refresh.Config{}, ext, nil),
		Titles:    ext,
		Documents: docs,
	}, store
}

func TestNewProcessorRequiresDeps(t *testing.T) {
	deps, _ := testDeps(t, fake.NewSite(nil))

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"browser", func(d *Deps) { d.Browser = nil }},
		{"history", func(d *Deps) { d.History = nil }},
		{"robots", func(d *Deps) { d.Robots = nil }},
		{"throttle", func(d *Deps) { d.Throttle = nil }},
		{"refresh", func(d *Deps) { d.Refresh = nil }},
		{"titles", func(d *Deps) { d.Titles = nil }},
		{"documents", func(d *Deps) { d.Documents = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := deps
			tt.mutate(&d)
			_, err := NewProcessor(d, Options{})
			assert.ErrorContains(t, err, "required")
		})
	}

	_, err := NewProcessor(deps, Options{})
	assert.NoError(t, err)
}

func TestProcessSavesPage(t *testing.T) {
	site := fake.NewSite(map[string]*fake.Page{
		"https://example.com/a": {Title: "Page A", Links: []string{"/b", "https://other.org/"}},
	})
	deps, store := testDeps(t, site)
	p, err := NewProcessor(deps, Options{})
	require.NoError(t, err)

	res := p.Process(context.Background(), models.WorkItem{URL: "https://EXAMPLE.com/a/", Depth: 2})

	assert.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, "https://example.com/a", res.URL)
	assert.Equal(t, 2, res.Depth)
	assert.Equal(t, "Page A", res.Title)
	assert.Equal(t, "Page_A.pdf", res.Filename)
	assert.Equal(t, []string{"https://example.com/b", "https://other.org/"}, res.Links)
	assert.Equal(t, string(refresh.ReasonImmediate), res.SettleReason)
	assert.Equal(t, models.StatusOK, res.Reason())

	e, ok, err := store.Get(context.Background(), utils.HashURL("https://example.com/a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Page_A.pdf", e.Filename)
	assert.Equal(t, models.StatusOK, e.Status)
	assert.False(t, e.SavedAt.IsZero())
	assert.Zero(t, site.OpenPages())
}

func TestProcessSkipsVisited(t *testing.T) {
	site := fake.NewSite(map[string]*fake.Page{"https://example.com/": {Title: "Home"}})
	deps, store := testDeps(t, site)
	require.NoError(t, store.Add(context.Background(), history.Entry{
		Hash: utils.HashURL("https://example.com/"),
		URL:  "https://example.com/",
	}))
	p, err := NewProcessor(deps, Options{})
	require.NoError(t, err)

	res := p.Process(context.Background(), models.WorkItem{URL: "https://example.com"})

	assert.True(t, res.Skipped)
	assert.Equal(t, models.StatusSkipped, res.Reason())
	assert.Empty(t, site.VisitedURLs())
}

func TestProcessInvalidURL(t *testing.T) {
	site := fake.NewSite(nil)
	deps, store := testDeps(t, site)
	p, err := NewProcessor(deps, Options{})
	require.NoError(t, err)

	res := p.Process(context.Background(), models.WorkItem{URL: "mailto:someone@example.com"})

	assert.ErrorIs(t, res.Err, models.ErrInvalidURL)
	assert.Equal(t, models.StatusInvalidURL, res.Reason())
	assert.Zero(t, store.Len())
	assert.Empty(t, site.VisitedURLs())
}

func TestProcessRenderTimeout(t *testing.T) {
	site := fake.NewSite(map[string]*fake.Page{
		"https://example.com/": {Title: "Slow", Links: []string{"/next"}},
	})
	deps, store := testDeps(t, slowBrowser{Site: site, wait: time.Second})
	p, err := NewProcessor(deps, Options{RenderTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	res := p.Process(context.Background(), models.WorkItem{URL: "https://example.com/"})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrRenderFailed)
	assert.Equal(t, []string{"https://example.com/next"}, res.Links)

	e, ok, err := store.Get(context.Background(), utils.HashURL("https://example.com/"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusRenderFailed, e.Status)
}

func TestProcessInteractionFailureStillRenders(t *testing.T) {
	site := fake.NewSite(map[string]*fake.Page{
		"https://example.com/": {
			Title:    "Feed",
			Links:    []string{"/one"},
			LoadMore: [][]string{{"/two"}},
			ClickErr: assert.AnError,
		},
	})
	deps, _ := testDeps(t, site)
	ext := extractor.New(nil)
	deps.Refresh = refresh.New(refresh.Config{
		Mode:     refresh.ModePull,
		LoadMore: browser.Target{Texts: []string{"Load more"}},
	}, ext, nil)
	p, err := NewProcessor(deps, Options{})
	require.NoError(t, err)

	res := p.Process(context.Background(), models.WorkItem{URL: "https://example.com/"})

	assert.True(t, res.Success)
	assert.Equal(t, string(refresh.ReasonFailed), res.SettleReason)
	assert.Equal(t, []string{"https://example.com/one"}, res.Links)
	assert.NotEmpty(t, res.Filename)
}

func TestProcessRedirectTarget(t *testing.T) {
	denyPrivate := robotsFunc(func(url string) bool {
		return !strings.Contains(url, "/private/")
	})

	tests := []struct {
		name        string
		target      string
		depth       int
		robots      RobotsGate
		wantStatus  string
		wantErr     error
		finalStatus string // status recorded for the target, "" when unrecorded
	}{
		{
			name:        "inside prefixes",
			target:      "https://example.com/docs/new",
			depth:       1,
			robots:      allowAll,
			wantStatus:  models.StatusOK,
			finalStatus: models.StatusOK,
		},
		{
			name:        "disallowed by robots",
			target:      "https://example.com/private/new",
			depth:       1,
			robots:      denyPrivate,
			wantStatus:  models.StatusRobotsDisallowed,
			wantErr:     models.ErrRobotsDisallowed,
			finalStatus: models.StatusRobotsDisallowed,
		},
		{
			name:       "outside prefixes",
			target:     "https://example.com/blog/new",
			depth:      1,
			robots:     allowAll,
			wantStatus: models.StatusOutOfScope,
			wantErr:    models.ErrOutOfScope,
		},
		{
			name:        "seed may leave prefixes",
			target:      "https://example.com/blog/new",
			depth:       0,
			robots:      allowAll,
			wantStatus:  models.StatusOK,
			finalStatus: models.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			site := fake.NewSite(map[string]*fake.Page{
				"https://example.com/docs/old": {Title: "Moved", Links: []string{"/docs/x"}, RedirectTo: tt.target},
			})
			deps, store := testDeps(t, site)
			deps.Robots = tt.robots
			p, err := NewProcessor(deps, Options{Prefixes: []string{"https://example.com/docs"}})
			require.NoError(t, err)

			res := p.Process(ctx, models.WorkItem{URL: "https://example.com/docs/old", Depth: tt.depth})

			assert.Equal(t, tt.wantStatus, res.Reason())
			assert.Equal(t, tt.target, res.FinalURL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
				assert.Empty(t, res.Filename)
				assert.Empty(t, res.Links)
			}

			e, ok, err := store.Get(ctx, utils.HashURL("https://example.com/docs/old"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, e.Status)

			final, ok, err := store.Get(ctx, utils.HashURL(tt.target))
			require.NoError(t, err)
			if tt.finalStatus == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.finalStatus, final.Status)
		})
	}
}
