package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/runtime/supervisor"
	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"
	"crontrolhours/internal/task/scheduler"
	logx "crontrolhours/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler builds the router for the current config.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer, s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(withAuth(cur.Token))

		r.Get("/api/status", s.handleStatus)
		r.Get("/api/jobs", s.handleJobs)
		r.Get("/api/settings", s.handleSettings)
		r.Get("/api/settings/{name}", s.handleSetting)
		r.Put("/api/settings/{name}", s.handleSetSetting)
		r.With(s.throttle).Post("/api/sweep", s.handleSweep)
		r.With(s.throttle).Post("/api/carryover", s.handleCarryover)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

		if cur.Pprof {
			r.HandleFunc(pprofPrefix+"*", hpprof.Index)
			r.HandleFunc(pprofPrefix+"cmdline", hpprof.Cmdline)
			r.HandleFunc(pprofPrefix+"profile", hpprof.Profile)
			r.HandleFunc(pprofPrefix+"symbol", hpprof.Symbol)
			r.HandleFunc(pprofPrefix+"trace", hpprof.Trace)
		}
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (s *Service) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Status is the GET /api/status payload.
type Status struct {
	Time          time.Time            `json:"time"`
	Dispatcher    *scheduler.Snapshot  `json:"dispatcher,omitempty"`
	Supervisor    *supervisor.Snapshot `json:"supervisor,omitempty"`
	LastSweep     *reschedule.Report   `json:"last_sweep,omitempty"`
	LastCarryover *reschedule.Report   `json:"last_carryover,omitempty"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{Time: time.Now()}
	if s.deps.Dispatcher != nil {
		snap := s.deps.Dispatcher()
		st.Dispatcher = &snap
	}
	if s.deps.Supervisor != nil {
		snap := s.deps.Supervisor()
		st.Supervisor = &snap
	}
	st.LastSweep, st.LastCarryover = s.lastReports()
	writeJSON(w, http.StatusOK, st)
}

// JobView is the JSON form of a stored job.
type JobView struct {
	Hook            string    `json:"hook"`
	NextRun         time.Time `json:"next_run"`
	Recurrence      string    `json:"recurrence,omitempty"`
	IntervalSeconds int64     `json:"interval_seconds,omitempty"`
	Args            []string  `json:"args,omitempty"`
}

func viewJob(j storage.Job) JobView {
	return JobView{
		Hook:            j.Hook,
		NextRun:         j.NextRun,
		Recurrence:      j.Recurrence,
		IntervalSeconds: int64(j.Interval / time.Second),
		Args:            j.Args,
	}
}

func (s *Service) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	hook := strings.TrimSpace(r.URL.Query().Get("hook"))
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		if hook != "" && j.Hook != hook {
			continue
		}
		out = append(out, viewJob(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.All())
}

func (s *Service) findSetting(name string) (settings.Entry, bool) {
	for _, e := range s.deps.Settings.All() {
		if e.Name == name {
			return e, true
		}
	}
	return settings.Entry{}, false
}

func (s *Service) handleSetting(w http.ResponseWriter, r *http.Request) {
	e, ok := s.findSetting(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, settings.ErrUnknownKey)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type setRequest struct {
	Value *string `json:"value"`
}

func (s *Service) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req setRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"value": "..."}`))
		return
	}
	if err := s.deps.Settings.Set(name, *req.Value); err != nil {
		switch {
		case errors.Is(err, settings.ErrUnknownKey):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, settings.ErrOverridden):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, settings.ErrInvalidValue):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.log.Info("setting updated", logx.String("name", name))
	e, _ := s.findSetting(name)
	writeJSON(w, http.StatusOK, e)
}

func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("dry_run")
	dryRun, ok := settings.LookupBool(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("dry_run: unrecognised value %q", raw))
		return
	}
	rep := s.deps.Rescheduler.Sweep(r.Context(), dryRun)
	s.recordReport(rep)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Service) handleCarryover(w http.ResponseWriter, r *http.Request) {
	rep := s.deps.Rescheduler.Carryover(r.Context())
	s.recordReport(rep)
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
