package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const everyPrefix = "@every "

// ValidateSchedule accepts cron expressions (including gronx macros such as
// @hourly) and fixed intervals written as "@every <duration>".
func ValidateSchedule(expr string) error {
	expr = strings.TrimSpace(expr)
	if d, ok, err := parseEvery(expr); ok {
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive: %s", expr)
		}
		return nil
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// NextRun returns the first run of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if d, ok, err := parseEvery(expr); ok {
		if err != nil {
			return time.Time{}, err
		}
		if d <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive: %s", expr)
		}
		return from.Add(d), nil
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick for %q: %w", expr, err)
	}
	return next, nil
}

func parseEvery(expr string) (time.Duration, bool, error) {
	if !strings.HasPrefix(expr, everyPrefix) {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, everyPrefix)))
	if err != nil {
		return 0, true, fmt.Errorf("invalid interval %q: %w", expr, err)
	}
	return d, true, nil
}

// FormatSchedule returns a human-readable description of a schedule.
func FormatSchedule(expr string) string {
	d, ok, err := parseEvery(strings.TrimSpace(expr))
	if !ok || err != nil || d <= 0 {
		return expr
	}
	switch {
	case d%time.Hour == 0:
		if h := int(d.Hours()); h != 1 {
			return fmt.Sprintf("Every %d hours", h)
		}
		return "Every hour"
	case d%time.Minute == 0:
		if m := int(d.Minutes()); m != 1 {
			return fmt.Sprintf("Every %d minutes", m)
		}
		return "Every minute"
	default:
		return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
	}
}
