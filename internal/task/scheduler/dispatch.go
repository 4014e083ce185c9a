package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"crontrolhours/internal/eventbus"
	"crontrolhours/internal/storage"
	logx "crontrolhours/pkg/logx"
)

// Handle registers fn for hook, replacing any previous handler. A nil fn removes it.
func (s *Service) Handle(hook string, fn Handler) {
	hook = strings.TrimSpace(hook)
	if hook == "" {
		return
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if fn == nil {
		delete(s.handlers, hook)
		return
	}
	s.handlers[hook] = fn
}

func (s *Service) handler(hook string) (Handler, bool) {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	fn, ok := s.handlers[hook]
	return fn, ok
}

// RunDue fires every job whose next run is not after now, oldest first. Each job is
// advanced in the store before its handler runs so a crash never fires it twice.
func (s *Service) RunDue(ctx context.Context) (TickSummary, error) {
	now := s.now()
	sum := TickSummary{At: now}
	defer s.recordTick(&sum)

	jobs, err := s.store.List(ctx)
	if err != nil {
		s.metrics.StoreError("list")
		return sum, fmt.Errorf("list jobs: %w", err)
	}
	s.metrics.SetJobsScheduled(len(jobs))

	due := make([]storage.Job, 0, len(jobs))
	for _, j := range jobs {
		if !j.NextRun.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(a, b int) bool { return due[a].NextRun.Before(due[b].NextRun) })

	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		sum.Due++
		next, err := s.advance(ctx, job, now)
		if err != nil {
			sum.Failed++
			s.log.Warn("advance failed; job left for next tick",
				logx.String("hook", job.Hook),
				logx.Strs("args", job.Args),
				logx.Time("next_run", job.NextRun),
				logx.Err(err),
			)
			continue
		}
		f := s.fire(ctx, job, now, next)
		sum.Fired++
		if f.Err != "" {
			sum.Failed++
		}
	}
	if sum.Due > 0 {
		s.log.Debug("tick", logx.Int("due", sum.Due), logx.Int("fired", sum.Fired), logx.Int("failed", sum.Failed))
	}
	return sum, nil
}

// advance moves a recurring job to its next run or removes a single event, and
// returns the new next run (zero for single events).
func (s *Service) advance(ctx context.Context, job storage.Job, now time.Time) (time.Time, error) {
	interval := job.Interval
	if job.Recurring() && interval <= 0 {
		if d, ok := s.recurrences.Interval(job.Recurrence); ok {
			interval = d
		} else {
			s.log.Warn("unknown recurrence; treating as single event",
				logx.String("hook", job.Hook), logx.String("recurrence", job.Recurrence))
		}
	}

	// Next occurrence first: a failure in between leaves a duplicate, never a lost job.
	var next time.Time
	if job.Recurring() && interval > 0 {
		nj := job
		nj.Interval = interval
		nj.NextRun = NextRun(job.NextRun, interval, now)
		if err := s.store.Schedule(ctx, nj); err != nil {
			s.metrics.StoreError("schedule")
			return time.Time{}, err
		}
		next = nj.NextRun
	}
	if _, err := s.store.Unschedule(ctx, job.NextRun, job.Hook, job.Args); err != nil {
		s.metrics.StoreError("unschedule")
		return time.Time{}, err
	}
	return next, nil
}

// NextRun is the first run strictly after now that stays in phase with prev. Missed
// runs are skipped, not replayed.
func NextRun(prev time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return time.Time{}
	}
	if prev.After(now) {
		return prev.Add(interval)
	}
	elapsed := now.Sub(prev)
	return now.Add(interval - elapsed%interval)
}

func (s *Service) fire(ctx context.Context, job storage.Job, now, next time.Time) Fired {
	f := Fired{
		Hook:        job.Hook,
		Args:        job.Args,
		ScheduledAt: job.NextRun,
		FiredAt:     now,
		Next:        next,
	}
	fn, ok := s.handler(job.Hook)
	if !ok {
		s.log.Debug("no handler; fired as no-op", logx.String("hook", job.Hook))
		s.metrics.JobFired("unhandled")
		s.finishFire(f)
		return f
	}
	f.Handled = true

	s.mu.Lock()
	timeout := s.cfg.HandlerTimeout
	s.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	err := runHandler(hctx, fn, job)
	cancel()
	f.Took = time.Since(start)

	if err != nil {
		f.Err = err.Error()
		s.metrics.JobFired("error")
		s.reportHandlerError(job.Hook, err)
	} else {
		s.metrics.JobFired("ok")
	}
	s.finishFire(f)
	return f
}

var errHandlerPanic = errors.New("handler panicked")

func runHandler(ctx context.Context, fn Handler, job storage.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errHandlerPanic, r, debug.Stack())
		}
	}()
	return fn(ctx, job)
}

func (s *Service) finishFire(f Fired) {
	s.histMu.Lock()
	s.history = append(s.history, f)
	if n := s.historySize(); len(s.history) > n {
		s.history = append([]Fired(nil), s.history[len(s.history)-n:]...)
	}
	s.histMu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFired, Time: f.FiredAt, Data: f})
	}
}

func (s *Service) historySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.HistorySize
}

func (s *Service) recordTick(sum *TickSummary) {
	s.histMu.Lock()
	s.lastTick = *sum
	s.histMu.Unlock()
}
