package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "crontrolhours/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	closed atomic.Bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close is idempotent; later calls return ErrClosed.
func (s *sqliteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `hook, args, next_run, recurrence, interval_s`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		hook, argsKey, rec string
		next, interval     int64
	)
	if err := r.Scan(&hook, &argsKey, &next, &rec, &interval); err != nil {
		return Job{}, err
	}
	args, err := parseArgsKey(argsKey)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: bad args %q: %w", hook, argsKey, err)
	}
	return Job{
		Hook:       hook,
		NextRun:    time.Unix(next, 0),
		Recurrence: rec,
		Interval:   time.Duration(interval) * time.Second,
		Args:       args,
	}, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Job, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Next(ctx context.Context, hook string, args Args) (Job, bool, error) {
	if s.closed.Load() {
		return Job{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE hook = ? AND args = ? ORDER BY next_run, id LIMIT 1`,
		hook, args.Key(),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *sqliteStore) Schedule(ctx context.Context, job Job) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := job.validate(); err != nil {
		return err
	}
	job = job.normalize()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?)
		 ON CONFLICT(next_run, hook, args) DO UPDATE SET
		   recurrence = excluded.recurrence,
		   interval_s = excluded.interval_s`,
		job.Hook, job.Args.Key(), job.NextRun.Unix(), job.Recurrence, int64(job.Interval/time.Second),
	)
	return err
}

func (s *sqliteStore) Cancel(ctx context.Context, hook string, args Args) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE hook = ? AND args = ?`, hook, args.Key())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqliteStore) Unschedule(ctx context.Context, at time.Time, hook string, args Args) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE next_run = ? AND hook = ? AND args = ?`,
		at.Unix(), hook, args.Key(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
