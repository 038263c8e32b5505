package timespec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mqttlogic/internal/solar"
)

// SolarClock supplies sunrise and sunset for the day of the given instant.
// *solar.Calculator implements it.
type SolarClock interface {
	Sunrise(h solar.Horizon, day time.Time) (time.Time, error)
	Sunset(h solar.Horizon, day time.Time) (time.Time, error)
}

var solarToken = regexp.MustCompile(`(?i)(official |nautical |nautic |astro |astronomical |civil )?(sunset|sunrise)(\s?([+-])\s?([0-9]+)\s?(s|m|h)\w*)?`)

// HasSolarToken reports whether text refers to sunrise or sunset.
func HasSolarToken(text string) bool { return solarToken.MatchString(text) }

// substituteSolar replaces every solar token with the clock time it names on
// now's date, truncated to the minute and shifted by the optional offset.
// clocks holds the substituted clock strings.
func substituteSolar(text string, now time.Time, clock SolarClock) (out string, clocks []string, err error) {
	if clock == nil {
		if HasSolarToken(text) {
			return "", nil, fmt.Errorf("%q needs sunrise/sunset times but no solar clock is configured", text)
		}
		return text, nil, nil
	}

	var firstErr error
	out = solarToken.ReplaceAllStringFunc(text, func(tok string) string {
		m := solarToken.FindStringSubmatch(tok)
		h := solar.Official
		switch strings.ToLower(strings.TrimSpace(m[1])) {
		case "civil":
			h = solar.Civil
		case "nautical", "nautic":
			h = solar.Nautical
		case "astro", "astronomical":
			h = solar.Astronomical
		}

		var at time.Time
		var err error
		if strings.EqualFold(m[2], "sunrise") {
			at, err = clock.Sunrise(h, now)
		} else {
			at, err = clock.Sunset(h, now)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s %s: %w", h, strings.ToLower(m[2]), err)
			}
			return tok
		}
		at = at.Truncate(time.Minute)

		if m[3] != "" {
			n, _ := strconv.Atoi(m[5])
			d := time.Duration(n)
			switch strings.ToLower(m[6]) {
			case "h":
				d *= time.Hour
			case "m":
				d *= time.Minute
			default:
				d *= time.Second
			}
			if m[4] == "-" {
				d = -d
			}
			at = at.Add(d)
		}
		c := at.Format("15:04:05")
		clocks = append(clocks, c)
		return c
	})
	if firstErr != nil {
		return "", nil, firstErr
	}
	return out, clocks, nil
}
