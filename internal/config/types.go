package config

import "time"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Sources  SourcesConfig  `json:"sources"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty here and supplied via TELEGRAM_TOKEN instead.
	Token string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer (SQLite).
//
// Example:
//
//	storage:
//	  path: ./lookout.db
//	  busy_timeout: 5s
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SourcesConfig holds one block per watched platform.
//
// All durations are Go duration strings (e.g. "45s", "5m"). Each platform
// has an enforced minimum poll interval so a typo can't hammer the
// upstream API; intervals below the floor are rejected at load/reload.
type SourcesConfig struct {
	Twitch  SourceConfig `json:"twitch"`
	YouTube SourceConfig `json:"youtube"`
	X       SourceConfig `json:"x"`
}

type SourceConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between poll ticks. Empty means the platform default.
	Interval string `json:"interval,omitempty"`
	// RequestTimeout bounds each upstream HTTP call. Empty means 15s.
	RequestTimeout string `json:"request_timeout,omitempty"`
	// BaseURL overrides the platform API base (used by tests and the
	// historically unstable post-platform gateway).
	BaseURL string `json:"base_url,omitempty"`
}

// NotifyConfig controls outbound message pacing.
type NotifyConfig struct {
	// RatePerSec caps chat sends/edits across all platforms. 0 means default (3).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// Interval floors and defaults per platform.
const (
	TwitchMinInterval  = 30 * time.Second
	YouTubeMinInterval = 60 * time.Second
	XMinInterval       = 60 * time.Second

	TwitchDefaultInterval  = 60 * time.Second
	YouTubeDefaultInterval = 5 * time.Minute
	XDefaultInterval       = 10 * time.Minute
)
