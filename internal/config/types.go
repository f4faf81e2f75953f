package config

// Config is the full on-disk configuration. JSON and YAML are both accepted;
// YAML is converted to JSON before decoding so both formats go through the
// same strict decoder.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
// Job definitions are not part of this file: jobs live in the store and are
// managed through the scheduler's control surface.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier is optional; nil means failure alerts are disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
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

// StoreConfig controls the persistence layer.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./jobtick.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the polling loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// CheckInterval is the poll period. Default "60s".
	CheckInterval string `json:"check_interval,omitempty"`

	// DrainTimeout bounds graceful shutdown. Default "30s".
	DrainTimeout string `json:"drain_timeout,omitempty"`

	// DefaultTimeout applies to jobs created without one. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// Timezone for cron evaluation (IANA name); empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls Telegram failure alerts.
type NotifierConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`

	// RatePerSec caps outbound messages. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// DedupWindow suppresses repeat alerts for the same job within the
	// window. Default "1m"; "0s" disables dedup.
	DedupWindow string `json:"dedup_window,omitempty"`
}
