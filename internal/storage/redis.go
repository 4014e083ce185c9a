package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	logx "crontrolhours/pkg/logx"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps jobs in three keys under a prefix:
//   - <prefix>:jobs  hash of occurrence id -> JSON record
//   - <prefix>:order sorted set of occurrence ids scored by insertion sequence
//   - <prefix>:seq   insertion counter
type redisStore struct {
	c      *redis.Client
	log    logx.Logger
	closed atomic.Bool

	jobsKey  string
	orderKey string
	seqKey   string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	rc := cfg.Redis
	if strings.TrimSpace(rc.Addr) == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	prefix := strings.TrimSpace(rc.Prefix)
	if prefix == "" {
		prefix = "crontrol"
	}
	c := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}
	log.Debug("redis job store connected", logx.String("addr", rc.Addr), logx.String("prefix", prefix))
	return &redisStore{
		c:        c,
		log:      log,
		jobsKey:  prefix + ":jobs",
		orderKey: prefix + ":order",
		seqKey:   prefix + ":seq",
	}, nil
}

func occurrenceID(at time.Time, hook string, args Args) string {
	return strconv.FormatInt(at.Unix(), 10) + ":" + hook + ":" + args.Key()
}

type redisEntry struct {
	id  string
	job Job
}

func (s *redisStore) entries(ctx context.Context) ([]redisEntry, error) {
	ids, err := s.c.ZRange(ctx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.c.HMGet(ctx, s.jobsKey, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]redisEntry, 0, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Order entry without a record; left over from an interrupted write.
			continue
		}
		var r jobRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.log.Warn("skip malformed job record", logx.String("id", ids[i]), logx.Err(err))
			continue
		}
		out = append(out, redisEntry{id: ids[i], job: r.job()})
	}
	return out, nil
}

func (s *redisStore) List(ctx context.Context) ([]Job, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	es, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(es))
	for _, e := range es {
		out = append(out, e.job)
	}
	return out, nil
}

func (s *redisStore) Next(ctx context.Context, hook string, args Args) (Job, bool, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return Job{}, false, err
	}
	j, ok := jobList(jobs).next(hook, args)
	return j, ok, nil
}

func (s *redisStore) Schedule(ctx context.Context, job Job) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := job.validate(); err != nil {
		return err
	}
	job = job.normalize()
	b, err := json.Marshal(toRecord(job))
	if err != nil {
		return err
	}
	seq, err := s.c.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return err
	}
	id := occurrenceID(job.NextRun, job.Hook, job.Args)
	_, err = s.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.jobsKey, id, string(b))
		// NX keeps the original position when an occurrence is replaced.
		p.ZAddNX(ctx, s.orderKey, redis.Z{Score: float64(seq), Member: id})
		return nil
	})
	return err
}

func (s *redisStore) remove(ctx context.Context, ids []string) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := s.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.jobsKey, ids...)
		p.ZRem(ctx, s.orderKey, members...)
		return nil
	})
	return err
}

func (s *redisStore) Cancel(ctx context.Context, hook string, args Args) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	es, err := s.entries(ctx)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, e := range es {
		if e.job.Matches(hook, args) {
			ids = append(ids, e.id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.remove(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *redisStore) Unschedule(ctx context.Context, at time.Time, hook string, args Args) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	id := occurrenceID(at, hook, args)
	ok, err := s.c.HExists(ctx, s.jobsKey, id).Result()
	if err != nil || !ok {
		return false, err
	}
	if err := s.remove(ctx, []string{id}); err != nil {
		return false, err
	}
	return true, nil
}

// Close is idempotent; later calls return ErrClosed.
func (s *redisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.c.Close()
}
