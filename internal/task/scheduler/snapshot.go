package scheduler

func (s *Service) Snapshot() Snapshot {
	timers := s.List()

	s.mu.Lock()
	tz := s.loc.String()
	groups := len(s.groups)
	s.mu.Unlock()

	return Snapshot{
		Timezone:      tz,
		Groups:        groups,
		Timers:        timers,
		Fires:         s.fires.Load(),
		EnqueueErrors: s.enqErrors.Load(),
	}
}
