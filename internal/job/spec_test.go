package job

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		cron     bool
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", cron: true},
		{name: "prefixed cron", raw: "cron:0 0 * * *", cron: true},
		{name: "descriptor", raw: "@hourly", cron: true},
		{name: "duration", raw: "10m", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:2h", duration: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.IsCron() != tt.cron {
				t.Fatalf("IsCron = %v, want %v", got.IsCron(), tt.cron)
			}
			if !tt.cron && got.Interval != tt.duration {
				t.Fatalf("Interval = %v, want %v", got.Interval, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "every:", "00:00", "13:99"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{name: "cron ok", s: Schedule{Cron: "0 */2 * * *"}},
		{name: "interval ok", s: Schedule{Interval: 2 * time.Hour}},
		{name: "neither", s: Schedule{}, wantErr: true},
		{name: "both", s: Schedule{Cron: "* * * * *", Interval: time.Minute}, wantErr: true},
		{name: "bad cron", s: Schedule{Cron: "further nonsense here"}, wantErr: true},
		{name: "negative interval", s: Schedule{Interval: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobValidate(t *testing.T) {
	t.Parallel()
	good := Job{
		Name:     "fetch",
		Type:     "shell",
		Schedule: Schedule{Interval: time.Hour},
		Status:   StatusActive,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := good
	bad.Type = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for missing type")
	}

	bad = good
	bad.Status = "weird"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for bad status")
	}

	bad = good
	bad.RetryCount = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative retry_count")
	}
}
