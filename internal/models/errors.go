package models

import (
	"errors"

	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// Per-page failures. None of them aborts a run.
var (
	// ErrInvalidURL is reported for input that does not normalize.
	ErrInvalidURL = utils.ErrInvalidURL

	// ErrRobotsDisallowed is reported when robots.txt refuses the URL.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrOutOfScope is reported when a redirect leaves the configured prefixes.
	ErrOutOfScope = errors.New("redirected out of scope")

	// ErrNavigationFailed wraps page-load failures and timeouts.
	ErrNavigationFailed = errors.New("navigation failed")

	// ErrInteractionFailed wraps refresh-loop failures. The page still settles.
	ErrInteractionFailed = errors.New("interaction failed")

	// ErrRenderFailed wraps PDF rendering and document write failures.
	ErrRenderFailed = errors.New("render failed")
)

// Status strings stored in history and printed in reports.
const (
	StatusOK               = "ok"
	StatusSkipped          = "skipped"
	StatusInvalidURL       = "invalid_url"
	StatusRobotsDisallowed = "robots_disallowed"
	StatusOutOfScope       = "out_of_scope"
	StatusNavigationFailed = "navigation_failed"
	StatusRenderFailed     = "render_failed"
	StatusFailed           = "failed"
)
