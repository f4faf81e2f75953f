package job

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both 5-field and 6-field (with seconds) cron specs plus
// descriptors like "@hourly". All schedule validation and next-fire math in
// this repo goes through it so creation-time and evaluation-time parsing agree.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a cron expression with the repo-wide parser.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Schedule is a job's trigger definition: exactly one of a cron expression or
// a fixed interval. A schedule with both or neither is invalid.
type Schedule struct {
	Cron     string
	Interval time.Duration
}

func (s Schedule) IsCron() bool     { return strings.TrimSpace(s.Cron) != "" }
func (s Schedule) IsInterval() bool { return s.Interval > 0 }

// Validate rejects both/neither schedules and unparseable cron expressions.
// An invalid cron expression is a configuration error reported here, at
// creation time, never at evaluation time.
func (s Schedule) Validate() error {
	hasCron := s.IsCron()
	hasInterval := s.Interval != 0
	switch {
	case hasCron && hasInterval:
		return fmt.Errorf("schedule must set cron or interval, not both")
	case !hasCron && !hasInterval:
		return fmt.Errorf("schedule must set cron or interval")
	}
	if hasInterval && s.Interval < 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if hasCron {
		if _, err := ParseCron(strings.TrimSpace(s.Cron)); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
		}
	}
	return nil
}

func (s Schedule) String() string {
	if s.IsCron() {
		return "cron:" + strings.TrimSpace(s.Cron)
	}
	if s.Interval > 0 {
		return "every:" + s.Interval.String()
	}
	return "invalid"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into a Schedule value.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "55 * * * *", "@hourly"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	// Prefixes (explicit)
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		sched := Schedule{Cron: expr}
		return sched, sched.Validate()
	}
	for _, pfx := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, pfx) {
			d, err := parseInterval(strings.TrimSpace(s[len(pfx):]))
			if err != nil {
				return Schedule{}, err
			}
			return Schedule{Interval: d}, nil
		}
	}

	// Heuristics:
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		sched := Schedule{Cron: s}
		return sched, sched.Validate()
	}

	// - HH:MM => interval duration
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Interval: d}, nil
	}

	// - Go duration => interval duration
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Schedule{Interval: d}, nil
	}

	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	// safe parse: hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
