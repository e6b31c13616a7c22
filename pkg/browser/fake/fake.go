// Package fake provides an in-memory browser.Browser over a static site
// graph, for tests that must not start Chrome.
package fake

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
)

// ErrNotFound is returned by Navigate for URLs the site does not define.
var ErrNotFound = errors.New("net::ERR_NAME_NOT_RESOLVED")

// Page describes one URL of the fake site.
type Page struct {
	Title string
	// Links are the hrefs of the initial view.
	Links []string
	// LoadMore holds the hrefs appended by each successive load-more click.
	LoadMore [][]string
	// Views holds the hrefs of each successive next-page view.
	Views [][]string
	// Cookie shows a consent banner until it is dismissed.
	Cookie bool
	// BaseHref is emitted as <base href> when set.
	BaseHref string
	// RedirectTo makes the tab land on another URL after navigation.
	RedirectTo string

	NavigateErr error
	ClickErr    error
	RenderErr   error
	// Delay is added to every navigation.
	Delay time.Duration
}

// Visit records one navigation.
type Visit struct {
	URL string
	At  time.Time
}

// Site is a browser.Browser backed by a map of pages.
type Site struct {
	mu      sync.Mutex
	pages   map[string]*Page
	visits  []Visit
	open    int
	maxOpen int
	closed  bool
}

// NewSite creates a site from url -> page.
func NewSite(pages map[string]*Page) *Site {
	if pages == nil {
		pages = make(map[string]*Page)
	}
	return &Site{pages: pages}
}

// Set adds or replaces a page.
func (s *Site) Set(url string, p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = p
}

// Visits returns navigations in order.
func (s *Site) Visits() []Visit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Visit(nil), s.visits...)
}

// VisitedURLs returns navigated URLs in order.
func (s *Site) VisitedURLs() []string {
	visits := s.Visits()
	out := make([]string, len(visits))
	for i, v := range visits {
		out[i] = v.URL
	}
	return out
}

// MaxOpenPages returns the highest number of simultaneously open tabs.
func (s *Site) MaxOpenPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOpen
}

// OpenPages returns the number of tabs not yet closed.
func (s *Site) OpenPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Site) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("browser closed")
	}
	s.open++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	return &Tab{site: s}, nil
}

func (s *Site) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Tab is one open page of a Site.
type Tab struct {
	site *Site

	url        string
	def        *Page
	loadMore   int
	view       int
	cookieSeen bool
	closed     bool
}

func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	t.site.mu.Lock()
	t.site.visits = append(t.site.visits, Visit{URL: url, At: time.Now()})
	def, ok := t.site.pages[url]
	t.site.mu.Unlock()

	if !ok {
		return fmt.Errorf("navigate %s: %w", url, ErrNotFound)
	}
	if def.Delay > 0 {
		wait := def.Delay
		if timeout > 0 && timeout < wait {
			wait = timeout
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if timeout > 0 && def.Delay > timeout {
			return fmt.Errorf("navigate %s: %w", url, context.DeadlineExceeded)
		}
	}
	if def.NavigateErr != nil {
		return def.NavigateErr
	}

	t.url = url
	if def.RedirectTo != "" {
		t.url = def.RedirectTo
	}
	t.def = def
	t.loadMore = 0
	t.view = 0
	t.cookieSeen = false
	return nil
}

type control struct {
	label    string
	selector string
	apply    func()
}

func (t *Tab) controls() []control {
	if t.def == nil {
		return nil
	}
	var out []control
	if t.def.Cookie && !t.cookieSeen {
		out = append(out, control{label: "Accept all", apply: func() { t.cookieSeen = true }})
	}
	if t.loadMore < len(t.def.LoadMore) {
		out = append(out, control{label: "Load more", apply: func() { t.loadMore++ }})
	}
	if t.view < len(t.def.Views) {
		out = append(out, control{label: "Next", selector: `a[rel="next"]`, apply: func() { t.view++ }})
	}
	return out
}

func (t *Tab) FindAndClick(ctx context.Context, target browser.Target) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if t.def != nil && t.def.ClickErr != nil {
		return false, t.def.ClickErr
	}

	controls := t.controls()
	for _, text := range target.Texts {
		for _, c := range controls {
			if browser.MatchText(c.label, text) {
				c.apply()
				return true, nil
			}
		}
	}
	for _, sel := range target.Selectors {
		for _, c := range controls {
			if c.selector != "" && c.selector == sel {
				c.apply()
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *Tab) ScrollToBottom(ctx context.Context) error {
	return ctx.Err()
}

func (t *Tab) WaitStable(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// links returns the hrefs of the current view.
func (t *Tab) links() []string {
	if t.def == nil {
		return nil
	}
	if t.view > 0 {
		return t.def.Views[t.view-1]
	}
	out := append([]string(nil), t.def.Links...)
	for i := 0; i < t.loadMore; i++ {
		out = append(out, t.def.LoadMore[i]...)
	}
	return out
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.def == nil {
		return "<html><head></head><body></body></html>", nil
	}

	var b strings.Builder
	b.WriteString("<html><head>")
	if t.def.BaseHref != "" {
		fmt.Fprintf(&b, `<base href="%s">`, html.EscapeString(t.def.BaseHref))
	}
	fmt.Fprintf(&b, "<title>%s</title></head><body>", html.EscapeString(t.def.Title))
	for _, href := range t.links() {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(href))
	}
	for _, c := range t.controls() {
		fmt.Fprintf(&b, "<button>%s</button>", html.EscapeString(c.label))
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	return t.url, ctx.Err()
}

func (t *Tab) Title(ctx context.Context) (string, error) {
	if t.def == nil {
		return "", ctx.Err()
	}
	return t.def.Title, ctx.Err()
}

func (t *Tab) RenderPDF(ctx context.Context, paper browser.Paper) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.def != nil && t.def.RenderErr != nil {
		return nil, t.def.RenderErr
	}
	return []byte(fmt.Sprintf("%%PDF-1.4\n%% %s %s view=%d\n", t.url, paper.Name, t.view)), nil
}

func (t *Tab) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.site.mu.Lock()
	t.site.open--
	t.site.mu.Unlock()
	return nil
}
