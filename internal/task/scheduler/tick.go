package scheduler

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// tickParser accepts 5-field crontab lines, an optional leading seconds field and
// descriptors ("@hourly", "@every 30s").
var tickParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Tick is a parsed dispatcher tick: either a cron expression or a fixed interval.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "@hourly", "@every 1m" (or forced with a "cron:" prefix)
//   - interval: "90s", "2m", or "HH:MM" such as "00:05" (optionally "every:" prefixed)
type Tick struct {
	Cron  string
	Every time.Duration
}

func (t Tick) IsInterval() bool { return t.Every > 0 }

func (t Tick) String() string {
	if t.IsInterval() {
		return "every " + t.Every.String()
	}
	return t.Cron
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseTick parses and validates a tick string.
func ParseTick(raw string) (Tick, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Tick{}, fmt.Errorf("tick required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCronTick(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		d, err := parseEvery(strings.TrimSpace(s[len("every:"):]))
		return Tick{Every: d}, err
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCronTick(s)
	}
	d, err := parseEvery(s)
	if err != nil {
		return Tick{}, fmt.Errorf("invalid tick %q (use cron like '* * * * *', '@every 1m', HH:MM like '00:05' or a duration like '90s')", raw)
	}
	return Tick{Every: d}, nil
}

func parseCronTick(expr string) (Tick, error) {
	if expr == "" {
		return Tick{}, fmt.Errorf("cron expression required")
	}
	if _, err := tickParser.Parse(expr); err != nil {
		return Tick{}, fmt.Errorf("invalid cron tick %q: %w", expr, err)
	}
	return Tick{Cron: expr}, nil
}

func parseEvery(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least 1s")
	}
	return d, nil
}

// maxStartupSpread bounds the random delay of the first interval tick. Several daemons
// sharing one redis store then do not all sweep the queue at the same instant.
const maxStartupSpread = 30 * time.Second

// spreadSchedule delays only the first run; later runs follow base.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule returns the cron schedule for an interval tick and the startup
// spread it applied.
func intervalSchedule(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return base, 0
	}
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(instanceSeed())))
	spread := time.Duration(rng.Int63n(int64(limit)))
	return &spreadSchedule{base: base, first: now.Add(every + spread)}, spread
}

// instanceSeed differs between processes on one host and between hosts.
func instanceSeed() uint64 {
	host, _ := os.Hostname()
	h := fnv.New64a()
	_, _ = h.Write([]byte(host + "/" + strconv.Itoa(os.Getpid())))
	return h.Sum64()
}
