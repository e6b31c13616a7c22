package config

import "errors"

var (
	ErrMissingStartURL         = errors.New("start_url is required")
	ErrInvalidStartURL         = errors.New("start_url must be an absolute http(s) URL")
	ErrMissingOutputDir        = errors.New("output_dir is required")
	ErrMissingHistoryPath      = errors.New("history_path is required")
	ErrInvalidConcurrency      = errors.New("concurrency must be positive")
	ErrInvalidMaxDepth         = errors.New("max_depth must not be negative")
	ErrInvalidTimeout          = errors.New("timeout must be positive")
	ErrInvalidDelay            = errors.New("delay must not be negative")
	ErrInvalidRefreshMode      = errors.New("refresh_mode must be none, pull or pagination")
	ErrInvalidNoNewLimit       = errors.New("no_new_limit must be positive")
	ErrInvalidMaxInteractions  = errors.New("max_interactions must be positive")
	ErrInvalidMaxPages         = errors.New("max_pages must not be negative")
	ErrInvalidPaper            = errors.New("paper must be A4, Letter or Legal")
	ErrInvalidLogFormat        = errors.New("log_format must be text or json")
	ErrInvalidInteractionLimit = errors.New("interaction_timeout must not be negative")
)
