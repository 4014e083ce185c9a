// Package reschedule moves scheduled jobs into the allowed daily window.
//
// A sweep reads one snapshot of the job store, classifies every tracked recurring job
// against the window and replaces the jobs that would fire outside it. Two maintenance
// jobs keep the rescheduler running: the daily sweep and, while frequent jobs are
// restricted, the carryover at the end of each window.
package reschedule

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"crontrolhours/internal/eventbus"
	"crontrolhours/internal/metrics"
	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"
	"crontrolhours/internal/window"
	logx "crontrolhours/pkg/logx"

	"github.com/google/uuid"
)

const (
	// HookSweep runs Sweep(ctx, false) daily at 23:59.
	HookSweep = "crontrol_hours"
	// HookCarryover runs Carryover at the end of the window while restricting.
	HookCarryover = "crontrol_hours_reschedule_restricted"

	dailyRecurrence = "daily"
)

// sweepClock is when the daily sweep fires, safely before midnight.
var sweepClock = window.Clock{Hour: 23, Minute: 59}

func IsMaintenanceHook(hook string) bool {
	return hook == HookSweep || hook == HookCarryover
}

// Rand is the random source used for jitter.
type Rand interface {
	Int63n(n int64) int64
}

type lockedRand struct {
	mu sync.Mutex
	r  Rand
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// Transition is the effect of SyncCarryover on the carryover job.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionScheduled
	TransitionRemoved
)

func (t Transition) String() string {
	switch t {
	case TransitionScheduled:
		return "scheduled"
	case TransitionRemoved:
		return "removed"
	default:
		return "none"
	}
}

type Option func(*Rescheduler)

func WithLogger(log logx.Logger) Option { return func(r *Rescheduler) { r.log = log } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Rescheduler) {
		if now != nil {
			r.now = now
		}
	}
}

func WithRand(src Rand) Option {
	return func(r *Rescheduler) {
		if src != nil {
			r.rand = &lockedRand{r: src}
		}
	}
}

// WithLocation sets the timezone the window clocks are read in. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(r *Rescheduler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(r *Rescheduler) { r.metrics = m } }

func WithBus(b eventbus.Bus) Option { return func(r *Rescheduler) { r.bus = b } }

// WithRecurrences sets the schedule list used for the "daily" rewrite.
func WithRecurrences(rec storage.Recurrences) Option {
	return func(r *Rescheduler) {
		if rec != nil {
			r.recurrences = rec
		}
	}
}

type Rescheduler struct {
	store    storage.Store
	settings Settings

	log         logx.Logger
	now         func() time.Time
	rand        Rand
	loc         *time.Location
	metrics     *metrics.Metrics
	bus         eventbus.Bus
	recurrences storage.Recurrences
}

func New(store storage.Store, s Settings, opts ...Option) *Rescheduler {
	r := &Rescheduler{
		store:       store,
		settings:    s,
		log:         logx.Nop(),
		now:         time.Now,
		loc:         time.Local,
		recurrences: storage.DefaultRecurrences(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.rand == nil {
		// local RNG to avoid global contention
		r.rand = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "reschedule"))
	return r
}

func (r *Rescheduler) Location() *time.Location { return r.loc }

// Policy loads the current policy.
func (r *Rescheduler) Policy() (Policy, error) {
	return LoadPolicy(r.settings, r.loc, r.now())
}

func (r *Rescheduler) newReport(kind string, dryRun bool) Report {
	return Report{
		RunID:     uuid.NewString(),
		Kind:      kind,
		DryRun:    dryRun,
		StartedAt: r.now(),
	}
}

func (r *Rescheduler) finish(rep *Report) {
	rep.FinishedAt = r.now()
	took := rep.FinishedAt.Sub(rep.StartedAt)
	r.metrics.ObserveRun(rep.Kind, rep.DryRun, rep.Error, took, rep.FinishedAt)
	r.log.Info(rep.Kind+" finished",
		logx.String("run_id", rep.RunID),
		logx.Bool("dry_run", rep.DryRun),
		logx.Int("actions", len(rep.Actions)),
		logx.Int("success", rep.Success),
		logx.Int("error", rep.Error),
		logx.Duration("took", took),
	)
	if r.bus != nil {
		typ := eventbus.SweepFinished
		if rep.Kind == KindCarryover {
			typ = eventbus.CarryoverFinished
		}
		r.bus.Publish(eventbus.Event{Type: typ, Time: rep.FinishedAt, Data: *rep})
	}
}

// Sweep moves every tracked recurring job whose next run falls before the window
// into it. Store failures are recorded per job; the sweep always completes.
//
// Cancelling ctx stops the sweep between jobs. A job already being replaced is
// always written back.
func (r *Rescheduler) Sweep(ctx context.Context, dryRun bool) Report {
	rep := r.newReport(KindSweep, dryRun)
	defer r.finish(&rep)

	rep.add("Checking scheduled jobs")
	jobs, err := r.store.List(ctx)
	if err != nil {
		r.metrics.StoreError("list")
		rep.fail("Failed to read scheduled jobs: %v", err)
		return rep
	}
	if len(jobs) == 0 {
		rep.add("No scheduled jobs were found")
	} else if err := r.sweepJobs(ctx, &rep, jobs, dryRun); err != nil {
		rep.fail("Cannot check jobs, the settings are invalid: %v", err)
		return rep
	}
	if !dryRun {
		if _, err := r.SyncCarryover(context.WithoutCancel(ctx)); err != nil {
			rep.fail("Failed to update the carryover job: %v", err)
		}
	}
	rep.add("Completed!")
	return rep
}

func (r *Rescheduler) sweepJobs(ctx context.Context, rep *Report, jobs []storage.Job, dryRun bool) error {
	configured, err := r.Policy()
	if err != nil {
		return err
	}
	pol := configured.Effective()

	rep.add("Is this a dry run? %s", yesNo(dryRun))
	rep.add("Forcing jobs scheduled to run multiple times a day to only run between the specified hours? %s", yesNo(pol.RestrictFrequent))
	if configured.RestrictFrequent && configured.ForceDaily {
		rep.add("Forcing jobs scheduled to run multiple times a day to only run once per day? No (restricting frequent jobs is overriding this setting)")
	} else {
		rep.add("Forcing jobs scheduled to run multiple times a day to only run once per day? %s", yesNo(pol.ForceDaily))
	}
	if len(pol.Tracked) == 0 {
		rep.add("No recurrences are tracked, every job will be left alone")
	}
	rep.add("Found %d jobs to check", len(jobs))

	cal := pol.Calendar(r.loc)
	mctx := context.WithoutCancel(ctx)
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			rep.fail("Stopped before checking the remaining %d jobs: %v", len(jobs)-i, err)
			break
		}
		r.sweepJob(mctx, rep, cal, pol, i+1, job, dryRun)
	}
	return nil
}

func (r *Rescheduler) sweepJob(ctx context.Context, rep *Report, cal window.Calculator, pol Policy, n int, job storage.Job, dryRun bool) {
	log := r.log.With(logx.String("hook", job.Hook), logx.Time("next_run", job.NextRun))
	if pol.Excludes(job.Hook) {
		log.Debug("skip excluded hook")
		return
	}
	if !job.Recurring() || !pol.Tracks(job.Recurrence) {
		log.Debug("skip untracked job", logx.String("recurrence", job.Recurrence))
		return
	}
	if job.Interval <= 0 {
		log.Debug("skip job without a known interval", logx.String("recurrence", job.Recurrence))
		return
	}
	rep.add("Checking job %d: %s", n, job.Hook)

	next := job.NextRun.In(cal.Location())
	start := cal.StartOf(next)
	// End of the previous day's window: the gap [end, start) is outside the hours.
	end := cal.EndOf(start).AddDate(0, 0, -1)
	early := start.After(next) && !end.After(next)
	if !early {
		if start.After(next) {
			opened := cal.StartOf(next.Add(-pol.Duration))
			rep.add("Event takes place during your hours (window opened %s), nothing to do here!", opened.Format(dateLayout))
		} else {
			rep.add("Event takes place during your hours, nothing to do here!")
		}
		return
	}

	var kase Case
	switch {
	case job.Interval < window.Day && (pol.ForceDaily || pol.RestrictFrequent):
		kase = CaseUnderDay
	case job.Interval >= window.Day:
		kase = CaseDayOrMore
	default:
		log.Debug("skip frequent job, neither forcing daily nor restricting")
		return
	}

	recurrence, interval := job.Recurrence, job.Interval
	if kase == CaseUnderDay && pol.ForceDaily {
		recurrence, interval = dailyRecurrence, r.dailyInterval()
	}
	var newRun time.Time
	if kase == CaseUnderDay && pol.RestrictFrequent {
		newRun = start
	} else {
		newRun = next.Add(start.Sub(next) + r.jitter(pol.Duration))
	}

	var outcome string
	switch {
	case kase == CaseDayOrMore:
		outcome = "- interval remains unaffected"
	case pol.RestrictFrequent:
		outcome = "and will stop running around " + end.Format(clockLayout) + " (and resume this schedule every day)"
	default:
		outcome = "- interval will be updated to daily"
	}
	rep.add("The %s job with the %s interval starts at %s which is before %s and after %s and will be rescheduled for %s %s",
		job.Hook, job.Recurrence, next.Format(clockLayout), start.Format(clockLayout), end.Format(clockLayout),
		newRun.Format(dateLayout), outcome)

	act := Action{
		Hook:          job.Hook,
		Args:          job.Args,
		Case:          kase,
		OldRecurrence: job.Recurrence,
		NewRecurrence: recurrence,
		OldRun:        job.NextRun,
		NewRun:        newRun,
	}
	if !dryRun {
		replacement := storage.Job{Hook: job.Hook, NextRun: newRun, Recurrence: recurrence, Interval: interval, Args: job.Args}
		r.replace(ctx, rep, &act, replacement)
		if act.Committed {
			r.metrics.JobRescheduled(string(kase))
		}
	}
	log.Debug("job classified early",
		logx.String("case", string(kase)),
		logx.String("recurrence", recurrence),
		logx.Time("new_run", newRun),
		logx.Bool("dry_run", dryRun),
	)
	rep.Actions = append(rep.Actions, act)
}

// replace cancels every occurrence of the job's hook and args, then schedules job.
// Both steps are counted independently and never abort the run. ctx must not be
// cancellable, or a cancel between the two steps drops the job.
func (r *Rescheduler) replace(ctx context.Context, rep *Report, act *Action, job storage.Job) {
	suffix := argsSuffix(job.Args)
	n, err := r.store.Cancel(ctx, job.Hook, job.Args)
	act.Cancelled = n
	if err != nil {
		r.metrics.StoreError("cancel")
		act.CancelErr = err.Error()
		rep.fail("Failed to unschedule one or more %s jobs for %s%s: %v", act.OldRecurrence, job.Hook, suffix, err)
		r.log.Warn("cancel failed", logx.String("hook", job.Hook), logx.Err(err))
	} else {
		rep.Success++
		rep.add("Successfully unscheduled %d %s job(s) for %s%s", n, act.OldRecurrence, job.Hook, suffix)
	}

	if err := r.store.Schedule(ctx, job); err != nil {
		r.metrics.StoreError("schedule")
		act.ScheduleErr = err.Error()
		rep.fail("Failed to reschedule %s job %s for %s%s: %v", job.Recurrence, job.Hook, job.NextRun.In(r.loc).Format(dateLayout), suffix, err)
		r.log.Warn("schedule failed", logx.String("hook", job.Hook), logx.Err(err))
		return
	}
	rep.Success++
	act.Committed = act.CancelErr == ""
	rep.add("Successfully rescheduled %s job %s for %s%s", job.Recurrence, job.Hook, job.NextRun.In(r.loc).Format(dateLayout), suffix)
}

func (r *Rescheduler) jitter(d time.Duration) time.Duration {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0
	}
	return time.Duration(r.rand.Int63n(secs)) * time.Second
}

func (r *Rescheduler) dailyInterval() time.Duration {
	if d, ok := r.recurrences.Interval(dailyRecurrence); ok {
		return d
	}
	return window.Day
}

// Carryover pushes every tracked, non-excluded job that runs several times a day to
// the next window start after now. It only acts while frequent jobs are restricted.
// Cancelling ctx stops it between jobs.
func (r *Rescheduler) Carryover(ctx context.Context) Report {
	rep := r.newReport(KindCarryover, false)
	defer r.finish(&rep)

	pol, err := r.Policy()
	if err != nil {
		rep.fail("Cannot carry jobs over, the settings are invalid: %v", err)
		return rep
	}
	if !pol.RestrictFrequent {
		rep.add("Frequent jobs are not restricted, nothing to carry over")
		return rep
	}
	jobs, err := r.store.List(ctx)
	if err != nil {
		r.metrics.StoreError("list")
		rep.fail("Failed to read scheduled jobs: %v", err)
		return rep
	}

	cal := pol.Calendar(r.loc)
	newRun := cal.NextStart(r.now())
	rep.add("Carrying frequent jobs over to %s", newRun.Format(dateLayout))
	mctx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			rep.fail("Stopped before carrying over the remaining jobs: %v", err)
			break
		}
		if pol.Excludes(job.Hook) || !job.Recurring() || !pol.Tracks(job.Recurrence) {
			continue
		}
		if job.Interval <= 0 || job.Interval >= window.Day {
			continue
		}
		act := Action{
			Hook:          job.Hook,
			Args:          job.Args,
			Case:          CaseCarryover,
			OldRecurrence: job.Recurrence,
			NewRecurrence: job.Recurrence,
			OldRun:        job.NextRun,
			NewRun:        newRun,
		}
		r.replace(mctx, &rep, &act, storage.Job{
			Hook:       job.Hook,
			NextRun:    newRun,
			Recurrence: job.Recurrence,
			Interval:   job.Interval,
			Args:       job.Args,
		})
		if act.Committed {
			r.metrics.JobRescheduled(string(CaseCarryover))
		}
		rep.Actions = append(rep.Actions, act)
	}
	if len(rep.Actions) == 0 {
		rep.add("No frequent jobs to carry over")
	}
	rep.add("Completed!")
	return rep
}

// SyncCarryover schedules the carryover job while restricting and removes it otherwise.
// It is idempotent.
func (r *Rescheduler) SyncCarryover(ctx context.Context) (Transition, error) {
	restrict := settings.ParseBool(r.settings.Get(settings.RestrictFrequent))
	cur, scheduled, err := r.store.Next(ctx, HookCarryover, nil)
	if err != nil {
		return TransitionNone, err
	}
	switch {
	case restrict && !scheduled:
		pol, err := r.Policy()
		if err != nil {
			return TransitionNone, err
		}
		cal := pol.Calendar(r.loc)
		end := cal.EndOf(cal.StartOf(r.now()))
		job := storage.Job{Hook: HookCarryover, NextRun: end, Recurrence: dailyRecurrence, Interval: r.dailyInterval()}
		if err := r.store.Schedule(ctx, job); err != nil {
			return TransitionNone, err
		}
		r.log.Debug("carryover job scheduled", logx.Time("next_run", end))
		return TransitionScheduled, nil
	case !restrict && scheduled:
		if _, err := r.store.Unschedule(ctx, cur.NextRun, HookCarryover, nil); err != nil {
			return TransitionNone, err
		}
		r.log.Debug("carryover job removed", logx.Time("next_run", cur.NextRun))
		return TransitionRemoved, nil
	default:
		return TransitionNone, nil
	}
}

// RefreshDuration recomputes the cached window length. An environment override of the
// duration is left alone.
func (r *Rescheduler) RefreshDuration() (time.Duration, error) {
	pol, err := r.Policy()
	if err != nil {
		return 0, err
	}
	d := pol.Calendar(r.loc).Duration(r.now())
	err = r.settings.Set(settings.Duration, strconv.FormatInt(int64(d/time.Second), 10))
	if errors.Is(err, settings.ErrOverridden) {
		err = nil
	}
	return d, err
}

// Activate installs the maintenance jobs: the daily sweep at 23:59 today and, while
// restricting, the carryover job.
func (r *Rescheduler) Activate(ctx context.Context) error {
	if err := r.clearMaintenance(ctx); err != nil {
		return err
	}
	at := sweepClock.On(r.now(), r.loc)
	job := storage.Job{Hook: HookSweep, NextRun: at, Recurrence: dailyRecurrence, Interval: r.dailyInterval()}
	if err := r.store.Schedule(ctx, job); err != nil {
		return err
	}
	if _, err := r.RefreshDuration(); err != nil {
		r.log.Warn("duration refresh failed", logx.Err(err))
	}
	t, err := r.SyncCarryover(ctx)
	if err != nil {
		return err
	}
	r.log.Info("maintenance jobs installed", logx.Time("sweep_at", at), logx.String("carryover", t.String()))
	return nil
}

// Deactivate removes both maintenance jobs.
func (r *Rescheduler) Deactivate(ctx context.Context) error {
	if err := r.clearMaintenance(ctx); err != nil {
		return err
	}
	r.log.Info("maintenance jobs removed")
	return nil
}

func (r *Rescheduler) clearMaintenance(ctx context.Context) error {
	for _, hook := range []string{HookSweep, HookCarryover} {
		if _, err := r.store.Cancel(ctx, hook, nil); err != nil {
			return err
		}
	}
	return nil
}
