package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/amosWeiskopf/snapcrawl/internal/log"
	"github.com/amosWeiskopf/snapcrawl/pkg/browser"
	"github.com/amosWeiskopf/snapcrawl/pkg/crawler"
	"github.com/amosWeiskopf/snapcrawl/pkg/refresh"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// AppName names the XDG data directory and the environment prefix.
const AppName = "snapcrawl"

// EnvPrefix is prepended to every key when read from the environment,
// e.g. SNAPCRAWL_MAX_DEPTH.
const EnvPrefix = "SNAPCRAWL"

// Config holds one crawl job. Durations are integer milliseconds and delay is
// float seconds, matching the YAML files users already have.
type Config struct {
	StartURL    string   `mapstructure:"start_url" yaml:"start_url"`
	OutputDir   string   `mapstructure:"output_dir" yaml:"output_dir"`
	HistoryPath string   `mapstructure:"history_path" yaml:"history_path"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
	MaxDepth    int      `mapstructure:"max_depth" yaml:"max_depth"`
	Timeout     int      `mapstructure:"timeout" yaml:"timeout"`
	Delay       float64  `mapstructure:"delay" yaml:"delay"`
	Prefixes    []string `mapstructure:"prefixes" yaml:"prefixes"`
	RefreshMode string   `mapstructure:"refresh_mode" yaml:"refresh_mode"`
	ObeyRobot   bool     `mapstructure:"obey_robot" yaml:"obey_robot"`
	NoNewLimit  int      `mapstructure:"no_new_limit" yaml:"no_new_limit"`
	DealCookie  bool     `mapstructure:"deal_cookie" yaml:"deal_cookie"`
	Verbose     bool     `mapstructure:"verbose" yaml:"verbose"`

	RenderTimeout      int    `mapstructure:"render_timeout" yaml:"render_timeout"`
	InteractionTimeout int    `mapstructure:"interaction_timeout" yaml:"interaction_timeout"`
	MaxInteractions    int    `mapstructure:"max_interactions" yaml:"max_interactions"`
	MaxPages           int    `mapstructure:"max_pages" yaml:"max_pages"`
	UserAgent          string `mapstructure:"user_agent" yaml:"user_agent"`
	Headless           bool   `mapstructure:"headless" yaml:"headless"`
	ChromePath         string `mapstructure:"chrome_path" yaml:"chrome_path,omitempty"`
	RobotsTimeout      int    `mapstructure:"robots_timeout" yaml:"robots_timeout"`
	Paper              string `mapstructure:"paper" yaml:"paper"`
	LogFormat          string `mapstructure:"log_format" yaml:"log_format"`

	CookieTexts       []string `mapstructure:"cookie_texts" yaml:"cookie_texts"`
	LoadMoreTexts     []string `mapstructure:"load_more_texts" yaml:"load_more_texts"`
	NextPageTexts     []string `mapstructure:"next_page_texts" yaml:"next_page_texts"`
	LoadMoreSelectors []string `mapstructure:"load_more_selectors" yaml:"load_more_selectors"`
	NextPageSelectors []string `mapstructure:"next_page_selectors" yaml:"next_page_selectors"`
}

// Button labels tried when dismissing consent banners and revealing content.
var (
	DefaultCookieTexts = []string{
		"accept all", "accept cookies", "accept", "agree and continue", "i agree", "agree",
		"allow", "got it", "ok", "continue", "yes", "close", "only",
		"接受", "同意并继续", "同意", "知道了", "允许", "关闭",
	}
	DefaultLoadMoreTexts = []string{
		"load more articles", "load more", "show more", "view more", "加载更多", "更多",
	}
	DefaultNextPageTexts = []string{
		"next >", "next", "›", ">", "下一页", "下一頁", "后页", "下一章", "下一",
	}
	DefaultNextPageSelectors = []string{`a[rel="next"]`}
)

// DefaultHistoryPath is history.json under the XDG data directory.
func DefaultHistoryPath() string {
	return filepath.Join(xdg.DataHome, AppName, "history.json")
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		OutputDir:          "./output",
		HistoryPath:        DefaultHistoryPath(),
		Concurrency:        4,
		MaxDepth:           1,
		Timeout:            30000,
		Delay:              1.0,
		Prefixes:           []string{},
		RefreshMode:        string(refresh.ModeNone),
		ObeyRobot:          true,
		NoNewLimit:         3,
		DealCookie:         true,
		InteractionTimeout: 60000,
		MaxInteractions:    50,
		UserAgent:          "SnapCrawl/1.0",
		Headless:           true,
		RobotsTimeout:      10000,
		Paper:              "A4",
		LogFormat:          log.FormatText,
		CookieTexts:        DefaultCookieTexts,
		LoadMoreTexts:      DefaultLoadMoreTexts,
		NextPageTexts:      DefaultNextPageTexts,
		LoadMoreSelectors:  []string{},
		NextPageSelectors:  DefaultNextPageSelectors,
	}
}

// listKeys accept either a YAML list or a single string.
var listKeys = []string{
	"prefixes",
	"cookie_texts",
	"load_more_texts",
	"next_page_texts",
	"load_more_selectors",
	"next_page_selectors",
}

// Load reads configPath (optional), SNAPCRAWL_* environment variables and the
// changed flags of flags (optional), in increasing priority. Every call uses
// its own viper instance, so several files can be loaded in one process.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	for _, key := range listKeys {
		values, err := stringList(v.Get(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		setList(&cfg, key, values)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("start_url", d.StartURL)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("history_path", d.HistoryPath)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("delay", d.Delay)
	v.SetDefault("prefixes", d.Prefixes)
	v.SetDefault("refresh_mode", d.RefreshMode)
	v.SetDefault("obey_robot", d.ObeyRobot)
	v.SetDefault("no_new_limit", d.NoNewLimit)
	v.SetDefault("deal_cookie", d.DealCookie)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("render_timeout", d.RenderTimeout)
	v.SetDefault("interaction_timeout", d.InteractionTimeout)
	v.SetDefault("max_interactions", d.MaxInteractions)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("chrome_path", d.ChromePath)
	v.SetDefault("robots_timeout", d.RobotsTimeout)
	v.SetDefault("paper", d.Paper)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("cookie_texts", d.CookieTexts)
	v.SetDefault("load_more_texts", d.LoadMoreTexts)
	v.SetDefault("next_page_texts", d.NextPageTexts)
	v.SetDefault("load_more_selectors", d.LoadMoreSelectors)
	v.SetDefault("next_page_selectors", d.NextPageSelectors)
}

// bindFlags binds every flag whose name, with dashes as underscores, is a
// config key. Unchanged flags never override the file.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err != nil || !known[key] {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// stringList converts a YAML scalar or sequence to a list. An empty string is
// an empty list.
func stringList(raw any) ([]string, error) {
	switch val := raw.(type) {
	case nil:
		return []string{}, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return []string{}, nil
		}
		return []string{strings.TrimSpace(val)}, nil
	case []string:
		return cleanList(val), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string, got %T", item)
			}
			out = append(out, s)
		}
		return cleanList(out), nil
	default:
		return nil, fmt.Errorf("expected a string or a list of strings, got %T", raw)
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setList(cfg *Config, key string, values []string) {
	switch key {
	case "prefixes":
		cfg.Prefixes = values
	case "cookie_texts":
		cfg.CookieTexts = values
	case "load_more_texts":
		cfg.LoadMoreTexts = values
	case "next_page_texts":
		cfg.NextPageTexts = values
	case "load_more_selectors":
		cfg.LoadMoreSelectors = values
	case "next_page_selectors":
		cfg.NextPageSelectors = values
	}
}

// Validate reports every problem with the configuration, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StartURL) == "" {
		errs = append(errs, ErrMissingStartURL)
	} else if _, err := utils.NormalizeURL(c.StartURL, ""); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidStartURL, c.StartURL))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, ErrMissingOutputDir)
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		errs = append(errs, ErrMissingHistoryPath)
	}
	if c.Concurrency <= 0 {
		errs = append(errs, ErrInvalidConcurrency)
	}
	if c.MaxDepth < 0 {
		errs = append(errs, ErrInvalidMaxDepth)
	}
	if c.Timeout <= 0 || c.RenderTimeout < 0 || c.RobotsTimeout < 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	if c.InteractionTimeout < 0 {
		errs = append(errs, ErrInvalidInteractionLimit)
	}
	if c.Delay < 0 {
		errs = append(errs, ErrInvalidDelay)
	}
	if _, err := refresh.ParseMode(c.RefreshMode); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidRefreshMode, c.RefreshMode))
	}
	if c.NoNewLimit <= 0 {
		errs = append(errs, ErrInvalidNoNewLimit)
	}
	if c.MaxInteractions <= 0 {
		errs = append(errs, ErrInvalidMaxInteractions)
	}
	if c.MaxPages < 0 {
		errs = append(errs, ErrInvalidMaxPages)
	}
	if _, ok := browser.PaperByName(c.Paper); !ok {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPaper, c.Paper))
	}
	if _, err := log.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errors.Join(errs...)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// PageTimeout is the navigation timeout.
func (c *Config) PageTimeout() time.Duration { return millis(c.Timeout) }

// DelayDuration is the per-domain gap between requests.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// RobotsTimeoutDuration bounds one robots.txt fetch.
func (c *Config) RobotsTimeoutDuration() time.Duration { return millis(c.RobotsTimeout) }

// CrawlerOptions maps the config onto the scheduler and processor options.
func (c *Config) CrawlerOptions() crawler.Options {
	paper, _ := browser.PaperByName(c.Paper)
	return crawler.Options{
		Concurrency:      c.Concurrency,
		MaxDepth:         c.MaxDepth,
		MaxPages:         c.MaxPages,
		PageTimeout:      c.PageTimeout(),
		RenderTimeout:    millis(c.RenderTimeout),
		Paper:            paper,
		Prefixes:         c.Prefixes,
		ProgressInterval: 30 * time.Second,
	}
}

// RefreshConfig maps the config onto the interaction loop.
func (c *Config) RefreshConfig() (refresh.Config, error) {
	mode, err := refresh.ParseMode(c.RefreshMode)
	if err != nil {
		return refresh.Config{}, fmt.Errorf("%w: %q", ErrInvalidRefreshMode, c.RefreshMode)
	}
	return refresh.Config{
		Mode:            mode,
		NoNewLimit:      c.NoNewLimit,
		MaxInteractions: c.MaxInteractions,
		Timeout:         millis(c.InteractionTimeout),
		DealCookie:      c.DealCookie,
		Cookie:          browser.Target{Texts: c.CookieTexts},
		LoadMore:        browser.Target{Texts: c.LoadMoreTexts, Selectors: c.LoadMoreSelectors},
		NextPage:        browser.Target{Texts: c.NextPageTexts, Selectors: c.NextPageSelectors},
	}, nil
}
