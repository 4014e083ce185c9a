package storage

import (
	"sort"
	"strings"
	"time"
)

// Recurrences maps recurrence names to their interval, like the host's schedule list.
type Recurrences map[string]time.Duration

// DefaultRecurrences returns the built-in schedules.
func DefaultRecurrences() Recurrences {
	return Recurrences{
		"hourly":     time.Hour,
		"twicedaily": 12 * time.Hour,
		"daily":      24 * time.Hour,
		"weekly":     7 * 24 * time.Hour,
		"monthly":    30 * 24 * time.Hour,
	}
}

// With returns a copy of r extended (or overridden) by extra. Non-positive entries are ignored.
func (r Recurrences) With(extra map[string]time.Duration) Recurrences {
	out := make(Recurrences, len(r)+len(extra))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range extra {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || v <= 0 {
			continue
		}
		out[k] = v
	}
	return out
}

// Interval returns the interval of name; unknown names report false.
func (r Recurrences) Interval(name string) (time.Duration, bool) {
	d, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Names returns the recurrence names ordered by interval, then name.
func (r Recurrences) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if r[out[i]] != r[out[j]] {
			return r[out[i]] < r[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
