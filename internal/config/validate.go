package config

import (
	"errors"
	"strings"
	"time"
)

// Validate checks every field that can be wrong in a way decoding won't
// catch: duration strings, timezone names, and section cross-requirements.
func (c *Config) Validate() error {
	durations := []struct {
		path string
		raw  string
	}{
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"scheduler.check_interval", c.Scheduler.CheckInterval},
		{"scheduler.drain_timeout", c.Scheduler.DrainTimeout},
		{"scheduler.default_timeout", c.Scheduler.DefaultTimeout},
	}
	if c.Notifier != nil {
		durations = append(durations, struct {
			path string
			raw  string
		}{"notifier.dedup_window", c.Notifier.DedupWindow})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.New("scheduler.timezone: unknown timezone " + tz)
		}
	}

	if n := c.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return errors.New("notifier.token: required when notifier is enabled")
		}
		if n.ChatID == 0 {
			return errors.New("notifier.chat_id: required when notifier is enabled")
		}
	}
	return nil
}
