package scheduler

import (
	"time"

	"mqttlogic/pkg/logx"
)

// advanceCron arms t at the first schedule time strictly after now.
// Call with s.mu held.
func (s *Service) advanceCron(t *timer, now time.Time) {
	next := t.sched.Next(now)
	if next.IsZero() {
		s.log.Warn("cron timer has no further fire time", logx.String("timer", t.name), logx.String("spec", t.spec))
		s.removeLocked(t)
		return
	}
	s.armLocked(t, next)
}
