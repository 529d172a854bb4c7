package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"cadence/internal/task/executor"
)

// ParsedSpec is a parsed job schedule.
//
// Supported forms:
//   - "rate:<interval>"      fixed-rate (catch-up after slow runs)
//   - "interval:<interval>"  fixed-interval (also "every:<interval>")
//   - "@every 1m30s"         fixed-rate, robfig/cron descriptor (exact duration)
//   - "55m", "2h30m"         fixed-interval Go duration
//   - "00:50", "02:30"       fixed-interval HH:MM (hours and minutes)
//
// <interval> is a Go duration, HH:MM or an "@every" descriptor.
// Other cron expressions are rejected: they have no fixed cadence.
type ParsedSpec struct {
	Policy executor.Policy
	Every  time.Duration
	Source string // "duration" | "hhmm" | "descriptor"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs, so
// error messages for rejected expressions stay precise.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a job schedule string.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	for _, p := range []struct {
		prefix string
		policy executor.Policy
	}{
		{"rate:", executor.FixedRate},
		{"interval:", executor.FixedInterval},
		{"every:", executor.FixedInterval},
	} {
		if strings.HasPrefix(low, p.prefix) {
			d, src, err := parseInterval(s[len(p.prefix):])
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Policy: p.policy, Every: d, Source: src}, nil
		}
	}

	// Descriptors and cron expressions.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		d, err := parseDescriptor(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Policy: executor.FixedRate, Every: d, Source: "descriptor"}, nil
	}

	d, src, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf(
			"invalid schedule %q (use 'rate:10s', 'interval:5m', '@every 1m', HH:MM like '02:30', or duration like '55m')",
			raw,
		)
	}
	return ParsedSpec{Policy: executor.FixedInterval, Every: d, Source: src}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if strings.HasPrefix(v, "@") {
		d, err := parseDescriptor(v)
		return d, "descriptor", err
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseDescriptor(v string) (time.Duration, error) {
	sched, err := cronParser.Parse(v)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", v, err)
	}
	switch sched.(type) {
	case cron.ConstantDelaySchedule, *cron.ConstantDelaySchedule:
	default:
		return 0, fmt.Errorf("cron expression %q has no fixed cadence (use 'rate:<interval>', 'interval:<interval>' or '@every <duration>')", v)
	}
	// cron rounds @every down to whole seconds (minimum 1s); keep the
	// configured duration instead.
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(v, "@every")))
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", v, err)
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
