package storage

import (
	"context"
	"sync"
	"time"
)

// jobList is the in-memory core shared by the memory and file drivers.
// Callers hold the owning store's lock.
type jobList []Job

func (l jobList) clone() []Job {
	out := make([]Job, len(l))
	copy(out, l)
	return out
}

func (l jobList) next(hook string, args Args) (Job, bool) {
	var (
		best  Job
		found bool
	)
	for _, j := range l {
		if !j.Matches(hook, args) {
			continue
		}
		if !found || j.NextRun.Before(best.NextRun) {
			best = j
			found = true
		}
	}
	return best, found
}

func (l jobList) schedule(job Job) jobList {
	for i := range l {
		if l[i].Is(job.NextRun, job.Hook, job.Args) {
			l[i] = job
			return l
		}
	}
	return append(l, job)
}

func (l jobList) cancel(hook string, args Args) (jobList, int) {
	n := 0
	removed := 0
	for _, j := range l {
		if j.Matches(hook, args) {
			removed++
			continue
		}
		l[n] = j
		n++
	}
	return l[:n], removed
}

func (l jobList) unschedule(at time.Time, hook string, args Args) (jobList, bool) {
	for i, j := range l {
		if j.Is(at, hook, args) {
			return append(l[:i], l[i+1:]...), true
		}
	}
	return l, false
}

type memoryStore struct {
	mu     sync.Mutex
	jobs   jobList
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) List(ctx context.Context) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.jobs.clone(), nil
}

func (s *memoryStore) Next(ctx context.Context, hook string, args Args) (Job, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, false, ErrClosed
	}
	j, ok := s.jobs.next(hook, args)
	return j, ok, nil
}

func (s *memoryStore) Schedule(ctx context.Context, job Job) error {
	_ = ctx
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.jobs = s.jobs.schedule(job.normalize())
	return nil
}

func (s *memoryStore) Cancel(ctx context.Context, hook string, args Args) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	s.jobs, n = s.jobs.cancel(hook, args)
	return n, nil
}

func (s *memoryStore) Unschedule(ctx context.Context, at time.Time, hook string, args Args) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	var ok bool
	s.jobs, ok = s.jobs.unschedule(at, hook, args)
	return ok, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
