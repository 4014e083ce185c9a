package reschedule

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"crontrolhours/internal/settings"
	"crontrolhours/internal/window"
)

// Settings is the read/write view of the settings store the rescheduler needs.
type Settings interface {
	Get(name string) string
	Set(name, value string) error
}

// Policy is the resolved rescheduling configuration for one run.
type Policy struct {
	Start            window.Clock
	End              window.Clock
	Tracked          []string
	Excluded         []string
	ForceDaily       bool
	RestrictFrequent bool
	// Duration is the window length used for jitter.
	Duration time.Duration
}

// LoadPolicy reads the policy from s. Malformed clocks are an error; everything else
// falls back to a safe value.
func LoadPolicy(s Settings, loc *time.Location, now time.Time) (Policy, error) {
	start, err := window.ParseClock(s.Get(settings.StartTime))
	if err != nil {
		return Policy{}, fmt.Errorf("start time: %w", err)
	}
	end, err := window.ParseClock(s.Get(settings.EndTime))
	if err != nil {
		return Policy{}, fmt.Errorf("end time: %w", err)
	}
	p := Policy{
		Start:            start,
		End:              end,
		Tracked:          settings.SplitList(s.Get(settings.TrackedIntervals)),
		Excluded:         settings.SplitList(s.Get(settings.ExcludedHooks)),
		ForceDaily:       settings.ParseBool(s.Get(settings.ForceDaily)),
		RestrictFrequent: settings.ParseBool(s.Get(settings.RestrictFrequent)),
	}
	p.Duration = cachedDuration(s.Get(settings.Duration), p.Calendar(loc), now)
	return p, nil
}

// cachedDuration prefers the cached seconds and computes the window length when
// nothing is cached. A value that is not a number yields no jitter.
func cachedDuration(raw string, cal window.Calculator, now time.Time) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return cal.Duration(now)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// Effective applies the mutual exclusion of the two flags: restricting wins.
func (p Policy) Effective() Policy {
	if p.RestrictFrequent && p.ForceDaily {
		p.ForceDaily = false
	}
	return p
}

func (p Policy) Calendar(loc *time.Location) window.Calculator {
	return window.New(p.Start, p.End, loc)
}

func (p Policy) Tracks(recurrence string) bool {
	return recurrence != "" && slices.Contains(p.Tracked, recurrence)
}

// Excludes reports whether hook is never touched. Maintenance hooks always are.
func (p Policy) Excludes(hook string) bool {
	return IsMaintenanceHook(hook) || slices.Contains(p.Excluded, hook)
}
