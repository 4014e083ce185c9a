package reschedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	KindSweep     = "sweep"
	KindCarryover = "carryover"
)

// Case is the classification of a job that was moved.
type Case string

const (
	CaseUnderDay  Case = "under_day"
	CaseDayOrMore Case = "day_or_more"
	CaseCarryover Case = "carryover"
)

// Action is one job the run decided to move. On a dry run Committed stays false and
// no store call was made.
type Action struct {
	Hook          string    `json:"hook"`
	Args          []string  `json:"args,omitempty"`
	Case          Case      `json:"case"`
	OldRecurrence string    `json:"old_recurrence"`
	NewRecurrence string    `json:"new_recurrence"`
	OldRun        time.Time `json:"old_run"`
	NewRun        time.Time `json:"new_run"`
	Cancelled     int       `json:"cancelled"`
	CancelErr     string    `json:"cancel_error,omitempty"`
	ScheduleErr   string    `json:"schedule_error,omitempty"`
	Committed     bool      `json:"committed"`
}

// Report is the outcome of one sweep or carryover run. It is never persisted.
type Report struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	DryRun     bool      `json:"dry_run"`
	Messages   []string  `json:"messages"`
	Success    int       `json:"success"`
	Error      int       `json:"error"`
	Actions    []Action  `json:"actions,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Report) add(format string, args ...any) {
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

func (r *Report) fail(format string, args ...any) {
	r.Error++
	r.add(format, args...)
}

// OK reports whether the run had no failures.
func (r Report) OK() bool { return r.Error == 0 }

// Render formats the messages as a numbered list followed by the counters.
func (r Report) Render() string {
	var b strings.Builder
	width := len(strconv.Itoa(len(r.Messages)))
	for i, m := range r.Messages {
		fmt.Fprintf(&b, "%*d. %s\n", width, i+1, m)
	}
	fmt.Fprintf(&b, "success=%d error=%d", r.Success, r.Error)
	if r.DryRun {
		b.WriteString(" (dry run)")
	}
	b.WriteByte('\n')
	return b.String()
}

const (
	clockLayout = "3:04pm MST"
	dateLayout  = "1/2/2006 3:04pm MST"
)

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// argsSuffix renders job args the way the report lines append them.
func argsSuffix(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return " [" + strings.Join(args, ", ") + "]"
}
