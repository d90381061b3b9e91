package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronTrigger evaluates the standard five-field cron subset
// (minute hour day-of-month month day-of-week) spec.md §4.8 requires.
//
// No cron-expression library appears anywhere in the examples pack (see
// DESIGN.md); the five-field subset this engine needs is small enough
// to hand-roll against time.Time fields, in the spirit of the teacher's
// own time.Duration-driven internal timers.
type CronTrigger struct {
	minute, hour, dom, month, dow fieldSet
}

// fieldSet is the set of values a cron field matches, keyed by the raw
// integer value (0-59 for minute, 0-6 for day-of-week, etc).
type fieldSet map[int]bool

// ParseCron parses a five-field cron expression ("m h dom mon dow").
func ParseCron(expr string) (*CronTrigger, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression %q must have exactly 5 fields, got %d", expr, len(fields))
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("scheduler: minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("scheduler: hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("scheduler: day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("scheduler: month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("scheduler: day-of-week field: %w", err)
	}

	return &CronTrigger{minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

// parseField parses one comma-separated cron field (wildcards, ranges,
// steps, or a literal list) bounded to [min, max].
func parseField(field string, min, max int) (fieldSet, error) {
	set := fieldSet{}
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parsePart(part string, min, max int, set fieldSet) error {
	step := 1
	rangePart := part
	if i := strings.IndexByte(part, '/'); i >= 0 {
		rangePart = part[:i]
		s, err := strconv.Atoi(part[i+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = s
	}

	lo, hi := min, max
	if rangePart != "*" {
		if i := strings.IndexByte(rangePart, '-'); i >= 0 {
			a, err1 := strconv.Atoi(rangePart[:i])
			b, err2 := strconv.Atoi(rangePart[i+1:])
			if err1 != nil || err2 != nil {
				return fmt.Errorf("invalid range %q", rangePart)
			}
			lo, hi = a, b
		} else {
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return fmt.Errorf("invalid value %q", rangePart)
			}
			lo, hi = v, v
		}
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value out of range [%d,%d] in %q", min, max, part)
	}
	for v := lo; v <= hi; v += step {
		set[v] = true
	}
	return nil
}

// Next returns the duration until the next minute boundary matching the
// expression, searching up to two years ahead before giving up.
func (c *CronTrigger) Next(now time.Time) time.Duration {
	t := now.Truncate(time.Minute).Add(time.Minute)
	limit := now.AddDate(2, 0, 0)
	for t.Before(limit) {
		if c.matches(t) {
			return t.Sub(now)
		}
		t = t.Add(time.Minute)
	}
	return limit.Sub(now)
}

func (c *CronTrigger) matches(t time.Time) bool {
	if !c.minute[t.Minute()] || !c.hour[t.Hour()] || !c.month[int(t.Month())] {
		return false
	}
	// Per standard cron semantics, if both day-of-month and day-of-week
	// are restricted (not "*"), a match on either is sufficient.
	domRestricted := len(c.dom) < 31
	dowRestricted := len(c.dow) < 7
	domMatch := c.dom[t.Day()]
	dowMatch := c.dow[int(t.Weekday())]

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}

var _ Trigger = (*CronTrigger)(nil)
