package scheduler

import (
	"time"

	"mqttlogic/internal/timespec"
	"mqttlogic/pkg/logx"
)

// solarRescheduleFloor keeps a solar time that drifted a few minutes between
// days from being taken as still ahead right after it fired.
const solarRescheduleFloor = 12 * time.Hour

// advanceNatural arms t at its next usable date. Dates at or before the
// floor move forward one day; the floor is now, or now+12h for a date taken
// from sunrise or sunset once the timer has fired. Dates still not after
// now, or not after the last fire, are dropped. A recurring spec is
// re-parsed once the list runs out. Call with s.mu held.
func (s *Service) advanceNatural(t *timer, now time.Time) {
	reparsed := false
	for {
		for t.nl.cursor < len(t.nl.dates) {
			i := t.nl.cursor
			d := t.nl.dates[i]
			t.nl.cursor++
			floor := now
			if t.armed && t.nl.solarAt(i) {
				floor = now.Add(solarRescheduleFloor)
			}
			if !d.After(floor) {
				d = d.AddDate(0, 0, 1)
			}
			if !d.After(now) || (!t.lastFire.IsZero() && !d.After(t.lastFire)) {
				continue
			}
			if !t.nl.until.IsZero() && d.After(t.nl.until) {
				s.log.Debug("timer reached its end", logx.String("timer", t.name), logx.Time("until", t.nl.until))
				s.removeLocked(t)
				return
			}
			s.armLocked(t, d)
			return
		}

		if !t.nl.recurring || (!t.nl.until.IsZero() && !now.Before(t.nl.until)) {
			s.log.Debug("timer finished", logx.String("timer", t.name), logx.String("spec", t.spec))
			s.removeLocked(t)
			return
		}
		if reparsed {
			s.log.Warn("timer spec yields no future date; dropping",
				logx.String("timer", t.name), logx.String("spec", t.spec))
			s.removeLocked(t)
			return
		}

		p, err := timespec.Parse(t.spec, now, s.solar)
		if err != nil {
			s.log.Warn("timer re-parse failed; dropping",
				logx.String("timer", t.name), logx.String("spec", t.spec), logx.Any("err", err))
			s.removeLocked(t)
			return
		}
		reparsed = true
		t.nl = newNatural(p)
	}
}
