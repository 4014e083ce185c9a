package settings

import (
	"errors"
	"strconv"
	"strings"

	"crontrolhours/internal/window"
)

const (
	StartTime        = "start_time"
	EndTime          = "end_time"
	Duration         = "duration"
	TrackedIntervals = "tracked_intervals"
	ExcludedHooks    = "excluded_hooks"
	ForceDaily       = "force_daily"
	RestrictFrequent = "restrict_frequent"
)

type definition struct {
	Name        string
	Default     string
	Description string
	normalizeFn func(string) string
	validate    func(string) error
}

func (d definition) normalize(v string) string {
	v = strings.TrimSpace(v)
	if d.normalizeFn != nil {
		return d.normalizeFn(v)
	}
	return v
}

var definitions = []definition{
	{
		Name:        StartTime,
		Default:     "20:00",
		Description: "Earliest time of day recurring jobs may run (HH:MM).",
		validate:    validateClock,
	},
	{
		Name:        EndTime,
		Default:     "04:00",
		Description: "Latest time of day recurring jobs may run (HH:MM); before start_time means the next day.",
		validate:    validateClock,
	},
	{
		Name:        Duration,
		Default:     "",
		Description: "Cached window length in seconds, recomputed when the window changes.",
		validate:    validateSeconds,
	},
	{
		Name:        TrackedIntervals,
		Default:     "daily,weekly,monthly",
		Description: "Comma separated recurrences that are moved into the window.",
		normalizeFn: func(v string) string { return strings.Join(SplitList(v), ",") },
	},
	{
		Name:        ExcludedHooks,
		Default:     "",
		Description: "Comma separated hooks that are never rescheduled.",
		normalizeFn: func(v string) string { return strings.Join(SplitList(v), ",") },
	},
	{
		Name:        ForceDaily,
		Default:     "0",
		Description: "Collapse jobs that run several times a day to once per day.",
		normalizeFn: normalizeBool,
	},
	{
		Name:        RestrictFrequent,
		Default:     "0",
		Description: "Keep jobs that run several times a day inside the window; overrides force_daily.",
		normalizeFn: normalizeBool,
	},
}

func lookupDefinition(name string) (definition, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return definition{}, false
}

func validateClock(v string) error {
	_, err := window.ParseClock(v)
	return err
}

func validateSeconds(v string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	if n < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

// ParseBool reports whether v is one of "1", "true", "on", "yes" (any case).
func ParseBool(v string) bool {
	b, _ := LookupBool(v)
	return b
}

// LookupBool is ParseBool for input that must be a known spelling. Blank, "0",
// "false", "off" and "no" are false; anything else is not ok.
func LookupBool(v string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true, true
	case "", "0", "false", "off", "no":
		return false, true
	default:
		return false, false
	}
}

func normalizeBool(v string) string {
	if ParseBool(v) {
		return "1"
	}
	return "0"
}

// SplitList splits a comma separated list, dropping blanks and duplicates.
func SplitList(v string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
