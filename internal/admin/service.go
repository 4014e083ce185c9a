package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"crontrolhours/internal/eventbus"
	"crontrolhours/internal/metrics"
	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/runtime/supervisor"
	logx "crontrolhours/pkg/logx"

	"golang.org/x/time/rate"
)

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	deps    Deps
	metrics *metrics.Metrics
	bus     eventbus.Bus
	limiter *rate.Limiter

	ln       net.Listener
	srv      *http.Server
	sup      *supervisor.Supervisor
	stopDone chan struct{}

	repMu         sync.Mutex
	lastSweep     *reschedule.Report
	lastCarryover *reschedule.Report
}

func New(cfg Config, deps Deps, m *metrics.Metrics, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps, burst := limits(cfg)
	return &Service{
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		bus:     bus,
		log:     log.With(logx.String("comp", "admin")),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func limits(cfg Config) (float64, int) {
	rps, burst := cfg.RatePerSec, cfg.Burst
	if rps <= 0 {
		rps = defaultRate
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return rps, burst
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Supervisor returns the server's supervisor (nil if not started).
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

// Addr returns the bound listener address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts/stops/restarts the server if needed.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	rps, burst := limits(cfg)
	s.limiter.SetLimit(rate.Limit(rps))
	s.limiter.SetBurst(burst)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if needsRestart(prev, cfg) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	for {
		s.mu.Lock()
		// If stopping, wait for it to finish before restarting.
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				// loop
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}

		s.sup = supervisor.New(ctx,
			supervisor.WithLogger(s.log),
			// The admin API is optional; never hard-kill the app.
			supervisor.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		if s.bus != nil {
			sup.Go0("reports", s.watchReports)
		}
		// Run the HTTP server under a restart loop so it self-heals.
		sup.GoRestart("http.serve", s.serveOnce,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	ln := s.ln
	sup := s.sup
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)

		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln = nil
		s.srv = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("admin stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop internal loops.
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	if !cur.Enabled {
		return context.Canceled
	}
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}

	// Safety: prevent accidental public exposure without auth.
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("admin refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", addr),
		)
		return errors.New("admin refused to start: insecure bind")
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("admin running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("admin listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	// Expose server handles for Stop().
	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	// Ensure the server is stopped when the supervisor context is cancelled.
	go func() {
		<-ctx.Done()
		// Keep this bounded; the outer Stop(ctx) does the real graceful shutdown.
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	listenAddr := ln.Addr().String()
	s.log.Info("admin started",
		logx.String("addr", listenAddr),
		logx.Bool("token_set", cur.Token != ""),
		logx.Bool("pprof", cur.Pprof),
		logx.String("hint", fmt.Sprintf("http://%s/api/status", listenAddr)),
	)

	err = srv.Serve(ln)

	// Clear handles if we still own them.
	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

// watchReports keeps the latest sweep and carryover reports, including runs fired
// by the dispatcher.
func (s *Service) watchReports(ctx context.Context) {
	ch, unsub := s.bus.Subscribe(16, eventbus.SweepFinished, eventbus.CarryoverFinished)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if rep, ok := e.Data.(reschedule.Report); ok {
				s.recordReport(rep)
			}
		}
	}
}

func (s *Service) recordReport(rep reschedule.Report) {
	s.repMu.Lock()
	defer s.repMu.Unlock()
	r := rep
	if rep.Kind == reschedule.KindCarryover {
		s.lastCarryover = &r
		return
	}
	s.lastSweep = &r
}

func (s *Service) lastReports() (sweep, carryover *reschedule.Report) {
	s.repMu.Lock()
	defer s.repMu.Unlock()
	return s.lastSweep, s.lastCarryover
}
