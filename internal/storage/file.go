package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "crontrolhours/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.jobs.json (snapshot, rewritten via tmp + rename on every mutation)
//
// Mutations are applied to a copy and only committed in memory once the snapshot
// has been written, so a failed write leaves both views unchanged.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	jobs   jobList
	closed bool
}

type fileSnapshot struct {
	Version int         `json:"version"`
	Jobs    []jobRecord `json:"jobs"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	snapPath := filepath.Join(dir, base) + ".jobs.json"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	jobs, err := loadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", snapPath, err)
	}
	log.Debug("job snapshot loaded", logx.String("path", snapPath), logx.Int("jobs", len(jobs)))

	return &fileStore{log: log, path: snapPath, jobs: jobs}, nil
}

func loadSnapshot(path string) (jobList, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	jobs := make(jobList, 0, len(snap.Jobs))
	for _, r := range snap.Jobs {
		jobs = append(jobs, r.job())
	}
	return jobs, nil
}

func (s *fileStore) writeLocked(jobs jobList) error {
	snap := fileSnapshot{Version: 1, Jobs: make([]jobRecord, 0, len(jobs))}
	for _, j := range jobs {
		snap.Jobs = append(snap.Jobs, toRecord(j))
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate runs fn on a copy of the job list and commits it after a successful write.
func (s *fileStore) mutate(fn func(jobList) (jobList, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next, changed := fn(jobList(s.jobs.clone()))
	if !changed {
		return nil
	}
	if err := s.writeLocked(next); err != nil {
		s.log.Warn("job snapshot write failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	s.jobs = next
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.jobs.clone(), nil
}

func (s *fileStore) Next(ctx context.Context, hook string, args Args) (Job, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, false, ErrClosed
	}
	j, ok := s.jobs.next(hook, args)
	return j, ok, nil
}

func (s *fileStore) Schedule(ctx context.Context, job Job) error {
	_ = ctx
	if err := job.validate(); err != nil {
		return err
	}
	job = job.normalize()
	return s.mutate(func(l jobList) (jobList, bool) {
		return l.schedule(job), true
	})
}

func (s *fileStore) Cancel(ctx context.Context, hook string, args Args) (int, error) {
	_ = ctx
	removed := 0
	err := s.mutate(func(l jobList) (jobList, bool) {
		var out jobList
		out, removed = l.cancel(hook, args)
		return out, removed > 0
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *fileStore) Unschedule(ctx context.Context, at time.Time, hook string, args Args) (bool, error) {
	_ = ctx
	var ok bool
	err := s.mutate(func(l jobList) (jobList, bool) {
		var out jobList
		out, ok = l.unschedule(at, hook, args)
		return out, ok
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
