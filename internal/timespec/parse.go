// Package timespec parses natural-language timer specifications such as
// "every day at 18:00", "in 5 minutes" or "30 minutes before civil sunset".
package timespec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrAmbiguousSpecification means the text did not resolve to exactly one
// group of dates.
var ErrAmbiguousSpecification = errors.New("ambiguous time specification")

// Parsed is one resolution of a specification against a given now.
type Parsed struct {
	Dates       []time.Time
	Recurring   bool
	RecursUntil time.Time // zero when unbounded
	HasSolar    bool
	// SolarDates[i] is set when Dates[i] was built from a sunrise or sunset
	// time. A solar "until" bound alone marks no date.
	SolarDates []bool
	// Resolved is the text after solar substitution.
	Resolved string
}

// Parse resolves text relative to now. clock may be nil when text has no
// solar tokens.
func Parse(text string, now time.Time, clock SolarClock) (Parsed, error) {
	resolved, clocks, err := substituteSolar(text, now, clock)
	if err != nil {
		return Parsed{HasSolar: HasSolarToken(text)}, err
	}
	p := Parsed{HasSolar: len(clocks) > 0, Resolved: resolved}

	s := normalize(resolved)
	if s == "" {
		return p, fmt.Errorf("%w: empty", ErrAmbiguousSpecification)
	}
	if rest, ok := strings.CutPrefix(s, "every "); ok {
		p.Recurring = true
		s = rest
	} else if s == "every" {
		return p, fmt.Errorf("%w: %q", ErrAmbiguousSpecification, text)
	}

	if head, tail, ok := strings.Cut(s, " until "); ok {
		until, err := parseDate(tail, now)
		if err != nil {
			return p, fmt.Errorf("%w: until %q: %v", ErrAmbiguousSpecification, tail, err)
		}
		p.RecursUntil = until
		s = head
	}

	for _, part := range strings.Split(s, " and ") {
		part = strings.TrimSpace(part)
		d, err := parseDate(part, now)
		if err != nil {
			return p, fmt.Errorf("%w: %q: %v", ErrAmbiguousSpecification, text, err)
		}
		p.Dates = append(p.Dates, d)
		p.SolarDates = append(p.SolarDates, containsAny(part, clocks))
	}
	return p, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Format renders p the way the PARSETIME command prints it.
func (p Parsed) Format() string {
	var b strings.Builder
	b.WriteString("[")
	for i, d := range p.Dates {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Format(DisplayLayout))
	}
	b.WriteString("]\t")
	if !p.Recurring {
		b.WriteString("ONCE")
		return b.String()
	}
	b.WriteString("REC")
	if !p.RecursUntil.IsZero() {
		b.WriteString(" UNTIL ")
		b.WriteString(p.RecursUntil.Format(DisplayLayout))
	}
	return b.String()
}

// DisplayLayout is used wherever a resolved date is shown to a person.
const DisplayLayout = "2006-01-02 15:04:05 MST"

var spaces = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!")
	return spaces.ReplaceAllString(s, " ")
}

const (
	numExpr   = `(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)`
	unitExpr  = `(s|secs?|seconds?|m|mins?|minutes?|h|hrs?|hours?|d|days?|w|weeks?|months?|years?)`
	clockExpr = `(\d{1,2}:\d{2}(?::\d{2})?(?:\s?[ap]m)?|\d{1,2}\s?[ap]m|noon|midnight)`
	dayExpr   = `(today|tonight|tomorrow|day|monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|wed|thu|fri|sat|sun)`
)

var (
	reISO        = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:[ t](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	reOffsetFrom = regexp.MustCompile(`^` + numExpr + `\s?` + unitExpr + ` (before|after) (?:` + dayExpr + ` )?(?:at )?` + clockExpr + `$`)
	reIn         = regexp.MustCompile(`^in ` + numExpr + `\s?` + unitExpr + `$`)
	reFromNow    = regexp.MustCompile(`^` + numExpr + `\s?` + unitExpr + ` from now$`)
	reRelative   = regexp.MustCompile(`^(?:` + numExpr + `\s?)?` + unitExpr + `$`)
	reDayClock   = regexp.MustCompile(`^(?:` + dayExpr + ` )?(?:at )?` + clockExpr + `(?: ` + dayExpr + `)?$`)
	reDay        = regexp.MustCompile(`^` + dayExpr + `$`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

func parseNumber(s string) (int, error) {
	if s == "" {
		return 1, nil
	}
	if n, ok := numberWords[s]; ok {
		return n, nil
	}
	return strconv.Atoi(s)
}

// addUnit moves t by n units. Months and years follow calendar arithmetic.
func addUnit(t time.Time, n int, unit string) time.Time {
	switch {
	case unit == "s" || strings.HasPrefix(unit, "sec"):
		return t.Add(time.Duration(n) * time.Second)
	case unit == "m" || strings.HasPrefix(unit, "min"):
		return t.Add(time.Duration(n) * time.Minute)
	case strings.HasPrefix(unit, "h"):
		return t.Add(time.Duration(n) * time.Hour)
	case unit == "d" || strings.HasPrefix(unit, "day"):
		return t.AddDate(0, 0, n)
	case unit == "w" || strings.HasPrefix(unit, "week"):
		return t.AddDate(0, 0, 7*n)
	case strings.HasPrefix(unit, "month"):
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(n, 0, 0)
	}
}

func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("no date")
	}
	if m := reISO.FindStringSubmatch(s); m != nil {
		return parseISO(m, now.Location())
	}
	if m := reOffsetFrom.FindStringSubmatch(s); m != nil {
		n, err := parseNumber(m[1])
		if err != nil {
			return time.Time{}, err
		}
		base, err := dayAndClock(m[4], m[5], now)
		if err != nil {
			return time.Time{}, err
		}
		if m[3] == "before" {
			n = -n
		}
		return addUnit(base, n, m[2]), nil
	}
	if m := reIn.FindStringSubmatch(s); m != nil {
		return relative(m[1], m[2], now)
	}
	if m := reFromNow.FindStringSubmatch(s); m != nil {
		return relative(m[1], m[2], now)
	}
	if m := reRelative.FindStringSubmatch(s); m != nil {
		return relative(m[1], m[2], now)
	}
	if m := reDayClock.FindStringSubmatch(s); m != nil {
		if m[1] != "" && m[3] != "" {
			return time.Time{}, fmt.Errorf("two day words in %q", s)
		}
		return dayAndClock(m[1]+m[3], m[2], now)
	}
	if m := reDay.FindStringSubmatch(s); m != nil {
		return bareDay(m[1], now), nil
	}
	return parseFreeForm(s, now)
}

func relative(num, unit string, now time.Time) (time.Time, error) {
	n, err := parseNumber(num)
	if err != nil {
		return time.Time{}, err
	}
	return addUnit(now, n, unit), nil
}

func parseISO(m []string, loc *time.Location) (time.Time, error) {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
	h, mi, sec := atoi(m[4]), atoi(m[5]), atoi(m[6])
	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("date out of range: %s", m[0])
	}
	t := time.Date(y, time.Month(mo), d, h, mi, sec, 0, loc)
	if t.Day() != d {
		return time.Time{}, fmt.Errorf("no such day: %s", m[0])
	}
	return t, nil
}

// parseClock returns hour, minute, second and whether the value means the
// midnight that ends the day.
func parseClock(s string) (h, m, sec int, endOfDay bool, err error) {
	switch s {
	case "noon":
		return 12, 0, 0, false, nil
	case "midnight":
		return 0, 0, 0, true, nil
	}
	suffix := ""
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		suffix = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}
	parts := strings.Split(s, ":")
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false, err
		}
		vals[i] = v
	}
	h, m, sec = vals[0], vals[1], vals[2]
	switch suffix {
	case "am", "pm":
		if h < 1 || h > 12 {
			return 0, 0, 0, false, fmt.Errorf("hour %d out of range for %s", h, suffix)
		}
		h %= 12
		if suffix == "pm" {
			h += 12
		}
	}
	if h > 23 || m > 59 || sec > 59 {
		return 0, 0, 0, false, fmt.Errorf("clock time out of range: %s", s)
	}
	return h, m, sec, false, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// dayAndClock combines a day word with a clock time. Without a day word the
// result is on now's date even when that is already past. A weekday
// resolves to its next occurrence after now.
func dayAndClock(day, clock string, now time.Time) (time.Time, error) {
	h, m, sec, endOfDay, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := now.Date()
	at := func(offset int) time.Time {
		t := time.Date(y, mo, d+offset, h, m, sec, 0, now.Location())
		if endOfDay {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}

	switch day {
	case "", "today", "tonight", "day":
		return at(0), nil
	case "tomorrow":
		return at(1), nil
	}
	wd, ok := weekdays[day]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown day %q", day)
	}
	offset := (int(wd) - int(now.Weekday()) + 7) % 7
	t := at(offset)
	if !t.After(now) {
		t = at(offset + 7)
	}
	return t, nil
}

func bareDay(day string, now time.Time) time.Time {
	switch day {
	case "today", "day":
		return now
	case "tonight":
		y, mo, d := now.Date()
		return time.Date(y, mo, d, 20, 0, 0, 0, now.Location())
	case "tomorrow":
		return now.AddDate(0, 0, 1)
	}
	wd := weekdays[day]
	offset := (int(wd) - int(now.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return now.AddDate(0, 0, offset)
}

var freeForm = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

var filler = regexp.MustCompile(`^(?:at|on|the|of|,|\s)*$`)

// parseFreeForm hands s to the general-purpose parser. Exactly one match is
// required; text around it that holds a second date is ambiguous.
func parseFreeForm(s string, now time.Time) (time.Time, error) {
	r, err := freeForm.Parse(s, now)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("no date in %q", s)
	}
	end := r.Index + len(r.Text)
	if end > len(s) {
		end = len(s)
	}
	rest := strings.TrimSpace(s[:r.Index] + " " + s[end:])
	if rest != "" && !filler.MatchString(rest) {
		if again, err := freeForm.Parse(rest, now); err == nil && again != nil {
			return time.Time{}, fmt.Errorf("two dates in %q", s)
		}
	}
	return r.Time, nil
}
