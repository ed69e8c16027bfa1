package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidCron is returned for cron expressions that do not parse.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidTimezone is returned for unknown IANA zone names.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrInvalidSchedule is returned when required schedule fields are
	// missing or out of range.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrScheduleDisabled is returned when a schedule was disabled between
	// being found due and being dispatched.
	ErrScheduleDisabled = errors.New("schedule disabled")
)

// DefaultTimezone is used when a schedule does not name one.
const DefaultTimezone = "UTC"

// Both five-field and six-field (leading seconds) expressions are
// accepted, as are descriptors such as @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates expr.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidCron, expr, err)
	}

	return sched, nil
}

// LoadLocation resolves tz, defaulting to UTC.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		tz = DefaultTimezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidTimezone, tz, err)
	}

	return loc, nil
}

// NextFireTimes returns the next n fire times strictly after from.
func NextFireTimes(expr, tz string, from time.Time, n int) ([]time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	t := from.In(loc)

	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}

		out = append(out, t)
	}

	return out, nil
}
