package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	id := s.entryID
	loc := s.loc
	spread := s.startupSpread
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = loc.String()
	}

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Running:        c != nil,
		Timezone:       tz,
		Tick:           cfg.Tick,
		HandlerTimeout: cfg.HandlerTimeout,
		StartupSpread:  spread,
	}
	if c != nil && id != 0 {
		e := c.Entry(id)
		snap.Next = e.Next
		snap.Prev = e.Prev
	}

	s.hmu.RLock()
	for h := range s.handlers {
		snap.Handlers = append(snap.Handlers, h)
	}
	s.hmu.RUnlock()
	sort.Strings(snap.Handlers)

	s.histMu.Lock()
	snap.LastTick = s.lastTick
	snap.History = append([]Fired(nil), s.history...)
	s.histMu.Unlock()
	return snap
}
