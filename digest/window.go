package digest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// MaxRollingDays bounds the "<N>d" form.
const MaxRollingDays = 36500

// ErrInvalidRange is matched by every range parsing failure.
var ErrInvalidRange = errors.New("invalid range")

// InvalidRangeError reports a range descriptor that could not be parsed.
type InvalidRangeError struct {
	Descriptor string
	Reason     string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %q: %s", e.Descriptor, e.Reason)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// RangeLabel is the display name of a descriptor; an empty descriptor means "today".
func RangeLabel(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "today"
	}
	return desc
}

// ResolveWindow turns a range descriptor into a concrete window relative to now.
//
// Supported forms, in precedence order:
//   - "" or "today": UTC midnight .. now
//   - "yesterday": previous UTC day
//   - "<N>d": rolling N days ending now (not calendar aligned)
//   - "YYYY-MM-DD..YYYY-MM-DD": both days inclusive
//   - "YYYY-MM-DD": that whole UTC day
//
// A range whose end date precedes its start date is returned as-is; it simply matches nothing.
func ResolveWindow(desc string, now time.Time) (TimeWindow, error) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	desc = strings.TrimSpace(desc)

	switch {
	case desc == "" || desc == "today":
		return windowOf(midnight, now), nil
	case desc == "yesterday":
		return windowOf(midnight.Add(-day), midnight), nil
	}

	if n, ok := parseRollingDays(desc); ok {
		if n > MaxRollingDays {
			return TimeWindow{}, &InvalidRangeError{Descriptor: desc, Reason: fmt.Sprintf("at most %dd", MaxRollingDays)}
		}
		return windowOf(now.AddDate(0, 0, -n), now), nil
	}

	if a, b, ok := strings.Cut(desc, ".."); ok {
		start, err := parseISODate(a)
		if err != nil {
			return TimeWindow{}, &InvalidRangeError{Descriptor: desc, Reason: "bad start date: " + err.Error()}
		}
		end, err := parseISODate(b)
		if err != nil {
			return TimeWindow{}, &InvalidRangeError{Descriptor: desc, Reason: "bad end date: " + err.Error()}
		}
		return windowOf(start, end.Add(day)), nil
	}

	d, err := parseISODate(desc)
	if err != nil {
		return TimeWindow{}, &InvalidRangeError{Descriptor: desc, Reason: "expected today, yesterday, <N>d, YYYY-MM-DD or YYYY-MM-DD..YYYY-MM-DD"}
	}
	return windowOf(d, d.Add(day)), nil
}

func parseRollingDays(desc string) (int, bool) {
	digits, ok := strings.CutSuffix(desc, "d")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt, true
	}
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseISODate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
}

func windowOf(start, end time.Time) TimeWindow {
	return TimeWindow{StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}
}
