package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the headless Chrome process.
type ChromeOptions struct {
	Headless  bool
	UserAgent string
	// ExecPath overrides Chrome discovery when set.
	ExecPath string
	Logger   *slog.Logger
}

// Chrome drives one Chrome process through chromedp. Each page is a tab.
type Chrome struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *slog.Logger
}

// NewChrome starts the browser. The process lives until Close.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser must outlive any single request context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp", "message", fmt.Sprintf(format, args...))
		}),
	)

	// First Run starts the process; it must not carry a timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	logger.Debug("chrome started", "headless", opts.Headless)
	return &Chrome{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// NewPage opens a new tab.
func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)

	// Creating the target must not be bound to a timeout or the tab closes
	// with it, so the caller's context is only watched here.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		tabCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return &chromePage{ctx: tabCtx, cancel: tabCancel, logger: c.logger}, nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// run executes actions on the tab, bounded by ctx and timeout.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return p.run(ctx, timeout,
		chromedp.Navigate(url),
		waitForDocumentReady(),
	)
}

func (p *chromePage) FindAndClick(ctx context.Context, target Target) (bool, error) {
	if target.Empty() {
		return false, nil
	}
	script, err := findAndClickScript(target)
	if err != nil {
		return false, err
	}

	var clicked bool
	if err := p.run(ctx, 0, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("click: %w", err)
	}
	return clicked, nil
}

func (p *chromePage) ScrollToBottom(ctx context.Context) error {
	return p.run(ctx, 0, chromedp.Evaluate(scrollToBottomJS, nil))
}

// WaitStable polls until the document is complete and its element count is
// unchanged across consecutive polls. Running out of time is not an error.
func (p *chromePage) WaitStable(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	err := p.run(ctx, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return pollStable(ctx, 250*time.Millisecond, func(ctx context.Context) (string, error) {
			var state string
			err := chromedp.Evaluate(domStateJS, &state).Do(ctx)
			return state, err
		})
	}))
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil
	}
	return err
}

// pollStable returns once eval reports the same complete state on three
// consecutive polls. Evaluation errors count as unstable: a click that
// navigates destroys the execution context until the next document loads.
// Only ctx ends the wait early.
func pollStable(ctx context.Context, interval time.Duration, eval func(context.Context) (string, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	stableFor := 0
	for {
		state, err := eval(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			last, stableFor = "", 0
		case strings.HasPrefix(state, "complete:") && state == last:
			stableFor++
			if stableFor >= 2 {
				return nil
			}
		default:
			stableFor = 0
			last = state
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("dom snapshot: %w", err)
	}
	return html, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, 0, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromePage) RenderPDF(ctx context.Context, paper Paper) ([]byte, error) {
	if paper.Width <= 0 || paper.Height <= 0 {
		paper = PaperA4
	}

	var buf []byte
	err := p.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetEmulatedMedia().WithMedia("screen").Do(ctx); err != nil {
			return fmt.Errorf("emulate media: %w", err)
		}
		data, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(paper.Width).
			WithPaperHeight(paper.Height).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("print to pdf: %w", err)
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func waitForDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
