package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/refresh"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "./output", cfg.OutputDir)
	assert.Equal(t, DefaultHistoryPath(), cfg.HistoryPath)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 1, cfg.MaxDepth)
	assert.Equal(t, 30000, cfg.Timeout)
	assert.InDelta(t, 1.0, cfg.Delay, 1e-9)
	assert.Empty(t, cfg.Prefixes)
	assert.Equal(t, "none", cfg.RefreshMode)
	assert.True(t, cfg.ObeyRobot)
	assert.Equal(t, 3, cfg.NoNewLimit)
	assert.True(t, cfg.DealCookie)
	assert.True(t, cfg.Headless)
	assert.Equal(t, DefaultNextPageSelectors, cfg.NextPageSelectors)
	assert.Equal(t, DefaultCookieTexts, cfg.CookieTexts)

	assert.ErrorIs(t, cfg.Validate(), ErrMissingStartURL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
start_url: https://example.com
output_dir: ./pdfs
history_path: ./history.json
concurrency: 2
max_depth: 3
timeout: 15000
delay: 0.5
prefixes:
  - https://example.com/docs
  - https://example.com/blog
refresh_mode: pagination
obey_robot: false
no_new_limit: 5
deal_cookie: false
verbose: true
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://example.com", cfg.StartURL)
	assert.Equal(t, "./pdfs", cfg.OutputDir)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 15*time.Second, cfg.PageTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.DelayDuration())
	assert.Equal(t, []string{"https://example.com/docs", "https://example.com/blog"}, cfg.Prefixes)
	assert.Equal(t, "pagination", cfg.RefreshMode)
	assert.False(t, cfg.ObeyRobot)
	assert.Equal(t, 5, cfg.NoNewLimit)
	assert.False(t, cfg.DealCookie)
	assert.True(t, cfg.Verbose)
	// unspecified keys keep their defaults
	assert.Equal(t, 50, cfg.MaxInteractions)
	assert.Equal(t, "A4", cfg.Paper)
}

func TestLoadSinglePrefix(t *testing.T) {
	path := writeConfig(t, "start_url: https://example.com\nprefixes: https://example.com/docs\n")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/docs"}, cfg.Prefixes)
}

func TestLoadRejectsBadPrefixes(t *testing.T) {
	path := writeConfig(t, "prefixes:\n  - https://example.com\n  - 42\n")
	_, err := Load(path, nil)
	assert.ErrorContains(t, err, "prefixes")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadEnvAndFlags(t *testing.T) {
	path := writeConfig(t, "start_url: https://example.com\nmax_depth: 2\nconcurrency: 8\n")
	t.Setenv("SNAPCRAWL_MAX_DEPTH", "4")
	t.Setenv("SNAPCRAWL_REFRESH_MODE", "pull")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("concurrency", 1, "")
	flags.Int("max-depth", 0, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--concurrency=3"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Concurrency, "a changed flag wins")
	assert.Equal(t, 4, cfg.MaxDepth, "env beats file, unchanged flags do not override")
	assert.Equal(t, "pull", cfg.RefreshMode)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.StartURL = "https://example.com"
		return &c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing start url", func(c *Config) { c.StartURL = " " }, ErrMissingStartURL},
		{"relative start url", func(c *Config) { c.StartURL = "/docs" }, ErrInvalidStartURL},
		{"output dir", func(c *Config) { c.OutputDir = "" }, ErrMissingOutputDir},
		{"history path", func(c *Config) { c.HistoryPath = "" }, ErrMissingHistoryPath},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }, ErrInvalidConcurrency},
		{"max depth", func(c *Config) { c.MaxDepth = -1 }, ErrInvalidMaxDepth},
		{"timeout", func(c *Config) { c.Timeout = 0 }, ErrInvalidTimeout},
		{"delay", func(c *Config) { c.Delay = -0.1 }, ErrInvalidDelay},
		{"refresh mode", func(c *Config) { c.RefreshMode = "infinite" }, ErrInvalidRefreshMode},
		{"no new limit", func(c *Config) { c.NoNewLimit = 0 }, ErrInvalidNoNewLimit},
		{"max interactions", func(c *Config) { c.MaxInteractions = 0 }, ErrInvalidMaxInteractions},
		{"max pages", func(c *Config) { c.MaxPages = -1 }, ErrInvalidMaxPages},
		{"paper", func(c *Config) { c.Paper = "A0" }, ErrInvalidPaper},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), tt.want)
		})
	}

	c := valid()
	c.Concurrency = 0
	c.Delay = -1
	err := c.Validate()
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
	assert.ErrorIs(t, err, ErrInvalidDelay)
}

func TestConversions(t *testing.T) {
	c := Default()
	c.StartURL = "https://example.com"
	c.RefreshMode = "pull"
	c.RenderTimeout = 5000
	c.Paper = "letter"
	c.MaxPages = 10
	c.Prefixes = []string{"https://example.com/docs"}

	opts := c.CrawlerOptions()
	assert.Equal(t, 4, opts.Concurrency)
	assert.Equal(t, 10, opts.MaxPages)
	assert.Equal(t, 30*time.Second, opts.PageTimeout)
	assert.Equal(t, 5*time.Second, opts.RenderTimeout)
	assert.Equal(t, "Letter", opts.Paper.Name)
	assert.Equal(t, []string{"https://example.com/docs"}, opts.Prefixes)

	rc, err := c.RefreshConfig()
	require.NoError(t, err)
	assert.Equal(t, refresh.ModePull, rc.Mode)
	assert.Equal(t, time.Minute, rc.Timeout)
	assert.Equal(t, browser.Target{Texts: DefaultNextPageTexts, Selectors: DefaultNextPageSelectors}, rc.NextPage)
	assert.True(t, rc.DealCookie)

	c.RefreshMode = "bogus"
	_, err = c.RefreshConfig()
	assert.ErrorIs(t, err, ErrInvalidRefreshMode)
}
