package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. A bare number is read as
// seconds. Empty means 0. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var (
		d   time.Duration
		err error
	)
	if secs, nerr := strconv.ParseFloat(s, 64); nerr == nil {
		d = time.Duration(secs * float64(time.Second))
	} else {
		d, err = time.ParseDuration(s)
	}
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}

// ExpirySpec turns a rule's expires field into a timer spec. A duration or
// bare number of seconds becomes "in N seconds", rounded up; zero means no
// expiry. Any other text is kept as a timer spec ("at 22:00", "sunset") and
// checked when the rule is installed.
func ExpirySpec(path, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	d, err := ParseDurationField(path, s)
	if err != nil {
		if strings.HasPrefix(s, "-") {
			return "", err
		}
		return s, nil
	}
	if d == 0 {
		return "", nil
	}
	secs := int64(math.Ceil(d.Seconds()))
	return fmt.Sprintf("in %d seconds", max(secs, 1)), nil
}
