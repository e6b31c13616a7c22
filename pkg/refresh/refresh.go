// Package refresh drives in-page interactions (cookie banners, "load more"
// buttons, next-page controls) until a page has nothing more to reveal.
//
// Every page goes Idle -> Interacting -> Settled. Settled is terminal. The
// loop is bounded by an interaction ceiling and a wall-clock timeout, and any
// interaction error settles the page early with the links gathered so far.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
)

// Mode selects the interaction loop.
type Mode string

const (
	ModeNone       Mode = "none"
	ModePull       Mode = "pull"
	ModePagination Mode = "pagination"
)

// ParseMode validates a configured mode. Empty means none.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeNone:
		return ModeNone, nil
	case ModePull, ModePagination:
		return m, nil
	default:
		return "", fmt.Errorf("unknown refresh mode %q", s)
	}
}

// State of a page within the controller.
type State int

const (
	StateIdle State = iota
	StateInteracting
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInteracting:
		return "interacting"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains why a page settled.
type Reason string

const (
	ReasonImmediate Reason = "immediate"
	ReasonExhausted Reason = "exhausted"
	ReasonNoControl Reason = "no_control"
	ReasonTimeout   Reason = "timeout"
	ReasonCeiling   Reason = "ceiling"
	ReasonCycle     Reason = "cycle"
	ReasonFailed    Reason = "interaction_failed"
)

// LinkSource extracts the links of a page's current view.
type LinkSource interface {
	Links(ctx context.Context, page browser.Page) ([]string, error)
}

// Config bounds and parameterizes the interaction loop.
type Config struct {
	Mode Mode
	// NoNewLimit is the number of consecutive pull iterations without new
	// links after which the page is exhausted.
	NoNewLimit      int
	MaxInteractions int
	// Timeout is the wall-clock ceiling for all interactions on a page.
	Timeout time.Duration
	// SettleWait bounds the wait for the DOM to settle after each click.
	SettleWait time.Duration

	DealCookie bool
	Cookie     browser.Target
	LoadMore   browser.Target
	NextPage   browser.Target
}

// Outcome is the settled result for one page.
type Outcome struct {
	State           State
	Links           []string
	Iterations      int
	CookieDismissed bool
	Reason          Reason
	// Err wraps models.ErrInteractionFailed when Reason is ReasonFailed.
	Err error
}

// Controller runs the interaction loop. It is stateless across pages and
// safe for concurrent use.
type Controller struct {
	cfg    Config
	links  LinkSource
	logger *slog.Logger
}

// New creates a controller.
func New(cfg Config, links LinkSource, logger *slog.Logger) *Controller {
	if cfg.Mode == "" {
		cfg.Mode = ModeNone
	}
	if cfg.NoNewLimit <= 0 {
		cfg.NoNewLimit = 3
	}
	if cfg.MaxInteractions <= 0 {
		cfg.MaxInteractions = 50
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = 5 * time.Second
	}
	cfg.Cookie.FirstViewportOnly = true
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, links: links, logger: logger}
}

// Mode returns the configured mode.
func (c *Controller) Mode() Mode {
	return c.cfg.Mode
}

// session carries the state of one Settle call.
type session struct {
	state      State
	seen       map[string]bool
	links      []string
	iterations int
	cookie     bool
}

func (s *session) add(links []string) int {
	added := 0
	for _, l := range links {
		if !s.seen[l] {
			s.seen[l] = true
			s.links = append(s.links, l)
			added++
		}
	}
	return added
}

func (s *session) settle(reason Reason, err error) Outcome {
	s.state = StateSettled
	return Outcome{
		State:           s.state,
		Links:           s.links,
		Iterations:      s.iterations,
		CookieDismissed: s.cookie,
		Reason:          reason,
		Err:             err,
	}
}

// Settle interacts with page until it settles and returns every link
// discovered along the way. The page is left on its final view.
func (c *Controller) Settle(ctx context.Context, page browser.Page) Outcome {
	s := &session{state: StateIdle, seen: make(map[string]bool)}

	ictx, cancel := ctx, context.CancelFunc(func() {})
	if c.cfg.Timeout > 0 {
		ictx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	defer cancel()

	// fail converts an interaction error into a settled outcome. Running out
	// of interaction time is a normal end, not a failure.
	fail := func(step string, err error) Outcome {
		if ctx.Err() == nil && errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return s.settle(ReasonTimeout, nil)
		}
		c.logger.Debug("interaction failed", "step", step, "error", err)
		return s.settle(ReasonFailed, fmt.Errorf("%w: %s: %v", models.ErrInteractionFailed, step, err))
	}

	s.state = StateInteracting

	if c.cfg.DealCookie && !c.cfg.Cookie.Empty() {
		clicked, err := page.FindAndClick(ictx, c.cfg.Cookie)
		if err != nil {
			return fail("cookie", err)
		}
		if clicked {
			s.cookie = true
			if err := page.WaitStable(ictx, c.cfg.SettleWait); err != nil {
				return fail("cookie", err)
			}
		}
	}

	if c.cfg.Mode == ModeNone {
		// lazy-loaded content only appears once scrolled into view
		if err := page.ScrollToBottom(ictx); err != nil {
			c.logger.Debug("scroll failed", "error", err)
		}
	}

	initial, err := c.links.Links(ictx, page)
	if err != nil {
		return fail("extract", err)
	}
	s.add(initial)

	switch c.cfg.Mode {
	case ModePull:
		return c.pull(ictx, page, s, fail)
	case ModePagination:
		return c.paginate(ictx, page, s, initial, fail)
	default:
		return s.settle(ReasonImmediate, nil)
	}
}

func (c *Controller) click(ctx context.Context, page browser.Page, target browser.Target) (bool, error) {
	if err := page.ScrollToBottom(ctx); err != nil {
		return false, err
	}
	clicked, err := page.FindAndClick(ctx, target)
	if err != nil || !clicked {
		return clicked, err
	}
	return true, page.WaitStable(ctx, c.cfg.SettleWait)
}

func (c *Controller) pull(ctx context.Context, page browser.Page, s *session, fail func(string, error) Outcome) Outcome {
	noNew := 0
	for {
		if s.iterations >= c.cfg.MaxInteractions {
			return s.settle(ReasonCeiling, nil)
		}
		if ctx.Err() != nil {
			return fail("pull", ctx.Err())
		}

		clicked, err := c.click(ctx, page, c.cfg.LoadMore)
		if err != nil {
			return fail("load more", err)
		}
		if !clicked {
			return s.settle(ReasonNoControl, nil)
		}
		s.iterations++

		links, err := c.links.Links(ctx, page)
		if err != nil {
			return fail("extract", err)
		}

		added := s.add(links)
		if added > 0 {
			noNew = 0
		} else {
			noNew++
		}
		c.logger.Debug("load more", "iteration", s.iterations, "new_links", added, "no_new_streak", noNew)

		if noNew >= c.cfg.NoNewLimit {
			return s.settle(ReasonExhausted, nil)
		}
	}
}

func (c *Controller) paginate(ctx context.Context, page browser.Page, s *session, initial []string, fail func(string, error) Outcome) Outcome {
	views := map[string]bool{fingerprint(initial): true}
	for {
		if s.iterations >= c.cfg.MaxInteractions {
			return s.settle(ReasonCeiling, nil)
		}
		if ctx.Err() != nil {
			return fail("pagination", ctx.Err())
		}

		clicked, err := c.click(ctx, page, c.cfg.NextPage)
		if err != nil {
			return fail("next page", err)
		}
		if !clicked {
			return s.settle(ReasonNoControl, nil)
		}
		s.iterations++

		// each view is judged on its own links, not merged with the last
		view, err := c.links.Links(ctx, page)
		if err != nil {
			return fail("extract", err)
		}
		added := s.add(view)
		c.logger.Debug("next page", "iteration", s.iterations, "view_links", len(view), "new_links", added)

		fp := fingerprint(view)
		if views[fp] {
			return s.settle(ReasonCycle, nil)
		}
		views[fp] = true
	}
}

func fingerprint(links []string) string {
	sorted := slices.Clone(links)
	slices.Sort(sorted)
	return strings.Join(sorted, "\n")
}
