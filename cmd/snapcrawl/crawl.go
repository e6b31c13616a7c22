package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/amosWeiskopf/snapcrawl/internal/config"
	"github.com/amosWeiskopf/snapcrawl/internal/log"
	"github.com/amosWeiskopf/snapcrawl/pkg/analyzer"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/crawler"
	"github.com/amosWeiskopf/snapcrawl/pkg/document"
	"github.com/amosWeiskopf/snapcrawl/pkg/extractor"
	"github.com/amosWeiskopf/snapcrawl/pkg/history"
	"github.com/amosWeiskopf/snapcrawl/pkg/refresh"
	"github.com/amosWeiskopf/snapcrawl/pkg/reporter"
	"github.com/amosWeiskopf/snapcrawl/pkg/robots"
	"github.com/amosWeiskopf/snapcrawl/pkg/throttle"
)

// newBrowser starts the browser for one job. Tests replace it.
var newBrowser = func(ctx context.Context, opts browser.ChromeOptions) (browser.Browser, error) {
	return browser.NewChrome(ctx, opts)
}

// logOutput receives log records. Tests replace it.
var logOutput io.Writer = os.Stderr

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [URL]",
		Short: "Crawl a website and save every page as a PDF",
		Long: `Crawl starts at the seed URL and visits links breadth-first up to max_depth,
saving each page as a PDF in output_dir. Pages already in the history are
skipped. Several -c files run one after another; a failing job does not stop
the rest.`,
		Example: `  snapcrawl crawl -c docs.yaml
  snapcrawl crawl -c docs.yaml -c blog.yaml --report run.md
  snapcrawl crawl https://example.com --max-depth 2 --prefixes https://example.com/docs`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCrawl,
	}

	f := cmd.Flags()
	f.StringArrayP("config", "c", nil, "Configuration file (repeatable)")
	f.String("report", "", "Write a run report (.md or .json)")

	f.String("start-url", "", "Seed URL")
	f.StringP("output-dir", "o", "", "Directory for saved PDFs")
	f.String("history-path", "", "History file (.json, or .db for SQLite)")
	f.IntP("concurrency", "n", 0, "Number of pages processed at once")
	f.IntP("max-depth", "d", 0, "Maximum link depth from the seed")
	f.Int("max-pages", 0, "Stop enqueueing after this many pages (0 = unlimited)")
	f.Int("timeout", 0, "Page load timeout in milliseconds")
	f.Int("render-timeout", 0, "PDF render timeout in milliseconds")
	f.Float64("delay", 0, "Seconds between requests to the same domain")
	f.StringSlice("prefixes", nil, "Only follow links starting with one of these prefixes")
	f.String("refresh-mode", "", "In-page interaction: none, pull or pagination")
	f.Int("no-new-limit", 0, "Pull mode stops after this many rounds without new links")
	f.Bool("obey-robot", true, "Respect robots.txt")
	f.Bool("deal-cookie", true, "Dismiss cookie banners")
	f.Bool("headless", true, "Run Chrome headless")
	f.String("chrome-path", "", "Chrome executable (default: auto-detect)")
	f.String("user-agent", "", "User agent for the browser and robots.txt")
	f.String("paper", "", "PDF paper size: A4, Letter or Legal")
	f.String("log-format", "", "Log format: text or json")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	configs, _ := cmd.Flags().GetStringArray("config")
	reportPath, _ := cmd.Flags().GetString("report")
	if reportPath != "" {
		if _, err := reporter.FormatFromPath(reportPath); err != nil {
			return err
		}
	}
	if len(configs) == 0 {
		configs = []string{""}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed int
	for i, path := range configs {
		if ctx.Err() != nil {
			break
		}
		job := jobOptions{
			configPath: path,
			flags:      cmd.Flags(),
			args:       args,
			reportPath: reportPathFor(reportPath, i, len(configs)),
			out:        cmd.OutOrStdout(),
		}
		if err := runJob(ctx, job); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s: %v\n", jobName(path), err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d crawl job(s) failed", failed, len(configs))
	}
	return nil
}

type jobOptions struct {
	configPath string
	flags      *pflag.FlagSet
	args       []string
	reportPath string
	out        io.Writer
}

func jobName(path string) string {
	if path == "" {
		return "crawl"
	}
	return path
}

// reportPathFor numbers the report of every job after the first.
func reportPathFor(path string, index, total int) string {
	if path == "" || total <= 1 || index == 0 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), index+1, ext)
}

func runJob(ctx context.Context, job jobOptions) (err error) {
	cfg, err := config.Load(job.configPath, job.flags)
	if err != nil {
		return err
	}
	if len(job.args) == 1 {
		cfg.StartURL = job.args[0]
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.New(logOutput, cfg.Verbose, cfg.LogFormat)

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close history: %w", cerr)
		}
	}()

	docs, err := document.NewWriter(cfg.OutputDir, ".pdf")
	if err != nil {
		return err
	}

	refreshCfg, err := cfg.RefreshConfig()
	if err != nil {
		return err
	}
	links := extractor.New(cfg.Prefixes)

	b, err := newBrowser(ctx, browser.ChromeOptions{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
		ExecPath:  cfg.ChromePath,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Debug("failed to close browser", "error", cerr)
		}
	}()

	gate := robots.NewGate(robots.Options{
		Enabled:   cfg.ObeyRobot,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RobotsTimeoutDuration(),
		Logger:    logger,
	})

	opts := cfg.CrawlerOptions()
	proc, err := crawler.NewProcessor(crawler.Deps{
		Browser:   b,
		History:   store,
		Robots:    gate,
		Throttle:  throttle.New(cfg.DelayDuration()),
		Refresh:   refresh.New(refreshCfg, links, logger),
		Titles:    links,
		Documents: docs,
		Logger:    logger,
	}, opts)
	if err != nil {
		return err
	}

	c, err := crawler.New(proc, store, opts, logger)
	if err != nil {
		return err
	}
	result, err := c.Run(ctx, cfg.StartURL)
	if err != nil {
		return err
	}

	summary := analyzer.New().Analyze(result)
	printSummary(job.out, summary.Seed, summary.Saved, summary.Failed, summary.SkippedByHistory, docs.Dir())

	if job.reportPath != "" {
		if err := reporter.New().WriteFile(job.reportPath, summary); err != nil {
			return err
		}
		logger.Info("report written", "path", job.reportPath)
	}

	if result.Canceled {
		return errors.New("crawl interrupted")
	}
	return nil
}

func printSummary(w io.Writer, seed string, saved, failed, skipped int, dir string) {
	fmt.Fprintf(w, "Crawled %s: %d saved, %d failed, %d skipped (already in history). PDFs in %s\n",
		seed, saved, failed, skipped, dir)
}
