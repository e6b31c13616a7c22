package extractor

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"

	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// Extractor pulls crawlable links and a title out of a rendered page
type Extractor struct {
	prefixes []string
}

// New creates an Extractor. When prefixes is non-empty only links starting
// with one of them are returned.
func New(prefixes []string) *Extractor {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Extractor{prefixes: cleaned}
}

// Prefixes returns the allowlist in use.
func (e *Extractor) Prefixes() []string {
	return e.prefixes
}

// Links extracts normalized links from the page's current DOM.
func (e *Extractor) Links(ctx context.Context, page browser.Page) ([]string, error) {
	htmlContent, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	pageURL, err := page.URL(ctx)
	if err != nil {
		return nil, err
	}
	return e.ExtractLinks(htmlContent, pageURL)
}

// ExtractLinks returns the set of normalized, allowlisted links in
// htmlContent, in first-seen order. Relative hrefs resolve against <base href>
// when present, otherwise against pageURL.
func (e *Extractor) ExtractLinks(htmlContent, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		base = resolveBase(pageURL, href)
	}

	var links []string
	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		normalized, err := utils.NormalizeURL(href, base)
		if err != nil {
			return
		}
		if !utils.HasAnyPrefix(normalized, e.prefixes) {
			return
		}
		links = append(links, normalized)
	})

	return uniqueStrings(links), nil
}

// Title returns the page title, falling back to document metadata and then
// to the last URL path segment. It never returns an empty string for a
// valid URL.
func (e *Extractor) Title(ctx context.Context, page browser.Page) string {
	pageURL, _ := page.URL(ctx)

	if title, err := page.Title(ctx); err == nil {
		if title = utils.CleanText(title); title != "" {
			return title
		}
	}

	if htmlContent, err := page.HTML(ctx); err == nil {
		if title := MetadataTitle(htmlContent, pageURL); title != "" {
			return title
		}
	}

	return titleFromURL(pageURL)
}

// MetadataTitle extracts a title from page metadata (og:title, headings)
// using trafilatura.
func MetadataTitle(htmlContent, pageURL string) string {
	opts := trafilatura.Options{}
	if u, err := url.Parse(pageURL); err == nil {
		opts.OriginalURL = u
	}

	result, err := trafilatura.Extract(strings.NewReader(htmlContent), opts)
	if err != nil || result == nil {
		return ""
	}
	return utils.CleanText(result.Metadata.Title)
}

func titleFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	if seg := path.Base(strings.TrimSuffix(u.Path, "/")); seg != "" && seg != "/" && seg != "." {
		if unescaped, err := url.PathUnescape(seg); err == nil {
			return unescaped
		}
		return seg
	}
	return u.Hostname()
}

func resolveBase(pageURL, href string) string {
	pu, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return pageURL
	}
	return pu.ResolveReference(ref).String()
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, s := range values {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
