// Package browser defines the headless-browser capability the crawler drives
// and a chromedp implementation of it.
package browser

import (
	"context"
	"strings"
	"time"
)

// Browser owns the browser process. Pages are independent tabs.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. A Page is used by one goroutine at a time.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// FindAndClick clicks the first visible element matching target.
	// It returns false without error when nothing matches.
	FindAndClick(ctx context.Context, target Target) (bool, error)

	ScrollToBottom(ctx context.Context) error

	// WaitStable waits until the document stops changing or timeout passes.
	WaitStable(ctx context.Context, timeout time.Duration) error

	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// RenderPDF prints the current view with screen media and backgrounds.
	RenderPDF(ctx context.Context, paper Paper) ([]byte, error)

	Close() error
}

// Target describes a clickable control by visible text or CSS selector.
// Texts are tried before Selectors, each in order.
type Target struct {
	Texts             []string
	Selectors         []string
	FirstViewportOnly bool
}

// Empty reports whether the target can never match.
func (t Target) Empty() bool {
	return len(t.Texts) == 0 && len(t.Selectors) == 0
}

// MatchText reports whether a control label matches candidate. Labels are
// compared case-insensitively with collapsed whitespace; candidates longer
// than two characters may also be contained in a short label.
func MatchText(label, candidate string) bool {
	label = normalizeLabel(label)
	candidate = normalizeLabel(candidate)
	if candidate == "" || label == "" {
		return false
	}
	if label == candidate {
		return true
	}
	return len([]rune(candidate)) > 2 && len([]rune(label)) <= maxLabelRunes && strings.Contains(label, candidate)
}

// maxLabelRunes keeps containment from matching whole navigation blocks.
const maxLabelRunes = 60

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Paper is a page size in inches.
type Paper struct {
	Name   string
	Width  float64
	Height float64
}

var papers = map[string]Paper{
	"a4":     {Name: "A4", Width: 8.27, Height: 11.69},
	"letter": {Name: "Letter", Width: 8.5, Height: 11},
	"legal":  {Name: "Legal", Width: 8.5, Height: 14},
}

// PaperA4 is the default paper size.
var PaperA4 = papers["a4"]

// PaperByName looks up a paper size case-insensitively.
func PaperByName(name string) (Paper, bool) {
	p, ok := papers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
