package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/history"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// Deps are the services a Processor drives.
type Deps struct {
	Browser   browser.Browser
	History   History
	Robots    RobotsGate
	Throttle  Throttle
	Refresh   Settler
	Titles    TitleSource
	Documents DocumentSink
	Logger    *slog.Logger
}

// Processor runs the fixed per-page pipeline:
// normalize, dedup, robots, throttle, navigate, interact, extract, render, record.
type Processor struct {
	deps Deps
	opts Options
}

// NewProcessor validates deps and returns a Processor.
func NewProcessor(deps Deps, opts Options) (*Processor, error) {
	switch {
	case deps.Browser == nil:
		return nil, errors.New("processor: browser is required")
	case deps.History == nil:
		return nil, errors.New("processor: history is required")
	case deps.Robots == nil:
		return nil, errors.New("processor: robots gate is required")
	case deps.Throttle == nil:
		return nil, errors.New("processor: throttle is required")
	case deps.Refresh == nil:
		return nil, errors.New("processor: refresh controller is required")
	case deps.Titles == nil:
		return nil, errors.New("processor: title source is required")
	case deps.Documents == nil:
		return nil, errors.New("processor: document sink is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{deps: deps, opts: opts.withDefaults()}, nil
}

// Process handles one WorkItem. Failures are reported in the result; the
// outcome is recorded in history unless the run itself was canceled.
func (p *Processor) Process(ctx context.Context, item models.WorkItem) (res models.PageResult) {
	start := time.Now()
	res = models.PageResult{URL: item.URL, Depth: item.Depth}
	defer func() { res.Duration = time.Since(start) }()

	normalized, err := utils.NormalizeURL(item.URL, "")
	if err != nil {
		res.Err = err
		p.deps.Logger.Debug("dropping invalid url", "url", item.URL, "error", err)
		return res
	}
	res.URL = normalized
	hash := utils.HashURL(normalized)
	logger := p.deps.Logger.With("url", normalized, "depth", item.Depth)

	if p.deps.History.Contains(hash) {
		res.Success = true
		res.Skipped = true
		logger.Debug("already visited")
		return res
	}

	if !p.deps.Robots.Allowed(ctx, normalized) {
		res.Err = models.ErrRobotsDisallowed
		logger.Info("skipped by robots.txt")
		p.record(ctx, logger, history.Entry{Hash: hash, URL: normalized, Status: models.StatusRobotsDisallowed})
		return res
	}

	if err := p.deps.Throttle.Acquire(ctx, utils.Domain(normalized)); err != nil {
		res.Err = fmt.Errorf("%w: throttle: %v", models.ErrNavigationFailed, err)
		return res
	}

	page, err := p.deps.Browser.NewPage(ctx)
	if err != nil {
		res.Err = fmt.Errorf("%w: open tab: %v", models.ErrNavigationFailed, err)
		logger.Warn("failed to open tab", "error", err)
		p.record(ctx, logger, history.Entry{Hash: hash, URL: normalized, Status: models.StatusNavigationFailed})
		return res
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("failed to close tab", "error", err)
		}
	}()

	if err := page.Navigate(ctx, normalized, p.opts.PageTimeout); err != nil {
		res.Err = fmt.Errorf("%w: %v", models.ErrNavigationFailed, err)
		logger.Warn("navigation failed", "error", err)
		p.record(ctx, logger, history.Entry{Hash: hash, URL: normalized, Status: models.StatusNavigationFailed})
		return res
	}

	if location, err := page.URL(ctx); err == nil {
		if final, err := utils.NormalizeURL(location, ""); err == nil {
			res.FinalURL = final
		}
	}
	if res.FinalURL != "" && res.FinalURL != normalized {
		if err := p.checkRedirect(ctx, item, res.FinalURL); err != nil {
			res.Err = err
			status := models.StatusOutOfScope
			if errors.Is(err, models.ErrRobotsDisallowed) {
				status = models.StatusRobotsDisallowed
				p.record(ctx, logger, history.Entry{Hash: utils.HashURL(res.FinalURL), URL: res.FinalURL, Status: status})
			}
			logger.Info("redirect target refused", "final_url", res.FinalURL, "error", err)
			p.record(ctx, logger, history.Entry{Hash: hash, URL: normalized, Status: status})
			return res
		}
	}

	outcome := p.deps.Refresh.Settle(ctx, page)
	res.Links = outcome.Links
	res.Interactions = outcome.Iterations
	res.SettleReason = string(outcome.Reason)
	if outcome.Err != nil {
		logger.Warn("interaction stopped early", "error", outcome.Err, "links", len(outcome.Links))
	}

	res.Title = p.deps.Titles.Title(ctx, page)

	filename, err := p.render(ctx, page, res.Title)
	status := models.StatusOK
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
		status = models.StatusRenderFailed
		logger.Warn("render failed", "error", err)
	} else {
		res.Success = true
		res.Filename = filename
		logger.Info("saved page",
			"file", filename,
			"links", len(res.Links),
			"interactions", res.Interactions,
			"settle_reason", res.SettleReason,
		)
	}

	p.record(ctx, logger, history.Entry{Hash: hash, URL: normalized, Filename: filename, Status: status})
	if res.FinalURL != "" && res.FinalURL != normalized {
		p.record(ctx, logger, history.Entry{
			Hash:     utils.HashURL(res.FinalURL),
			URL:      res.FinalURL,
			Filename: filename,
			Status:   status,
		})
	}
	return res
}

// checkRedirect applies the robots and prefix rules to the URL a page
// redirected to, so a redirect cannot bypass them.
func (p *Processor) checkRedirect(ctx context.Context, item models.WorkItem, final string) error {
	if !p.deps.Robots.Allowed(ctx, final) {
		return fmt.Errorf("%w: redirected to %s", models.ErrRobotsDisallowed, final)
	}
	if item.Depth > 0 && !utils.HasAnyPrefix(final, p.opts.Prefixes) {
		return fmt.Errorf("%w: %s", models.ErrOutOfScope, final)
	}
	return nil
}

func (p *Processor) render(ctx context.Context, page browser.Page, title string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.opts.RenderTimeout)
	defer cancel()

	data, err := page.RenderPDF(rctx, p.opts.Paper)
	if err != nil {
		return "", err
	}
	return p.deps.Documents.Save(title, data)
}

// record adds an entry to history. A canceled run leaves the URL unrecorded
// so it is retried next time.
func (p *Processor) record(ctx context.Context, logger *slog.Logger, e history.Entry) {
	if ctx.Err() != nil {
		return
	}
	e.SavedAt = time.Now().UTC()
	if err := p.deps.History.Add(ctx, e); err != nil {
		logger.Error("failed to record history", "error", err)
	}
}
