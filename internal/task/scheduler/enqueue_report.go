package scheduler

import (
	"errors"
	"time"

	"mqttlogic/internal/task/engine"
	"mqttlogic/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	s.enqErrors.Add(1)
	// Shutdown races are expected.
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("timer fire dropped during shutdown", logx.String("timer", name), logx.Any("err", err))
		return
	}

	now := s.clock.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	// Queue full is important but can be bursty.
	s.log.Warn("timer failed to enqueue callback", logx.String("timer", name), logx.Any("err", err))
}
