package solar

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var clockPattern = regexp.MustCompile(`^([0-9]{1,2}):([0-9]{1,2})(?::([0-9]{1,2}))?$`)

// ClockOn parses "HH:MM" or "HH:MM:SS" as that time on now's date.
func ClockOn(now time.Time, spec string) (time.Time, error) {
	m := clockPattern.FindStringSubmatch(spec)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid time specification %q", spec)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s := 0
	if m[3] != "" {
		s, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mi > 59 || s > 59 {
		return time.Time{}, fmt.Errorf("invalid time specification %q", spec)
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, h, mi, s, 0, now.Location()), nil
}

// IsBefore reports whether now is before the clock time spec today.
func IsBefore(now time.Time, spec string) (bool, error) {
	t, err := ClockOn(now, spec)
	if err != nil {
		return false, err
	}
	return now.Before(t), nil
}

// IsAfter reports whether now is past the clock time spec today.
func IsAfter(now time.Time, spec string) (bool, error) {
	t, err := ClockOn(now, spec)
	if err != nil {
		return false, err
	}
	return now.After(t), nil
}

// IsBetween reports whether now lies strictly between start and end today.
// A start after end is an error; ranges across midnight need two calls.
func IsBetween(now time.Time, start, end string) (bool, error) {
	a, err := ClockOn(now, start)
	if err != nil {
		return false, err
	}
	b, err := ClockOn(now, end)
	if err != nil {
		return false, err
	}
	if a.After(b) {
		return false, fmt.Errorf("end time %s before start time %s", end, start)
	}
	return a.Before(now) && b.After(now), nil
}
