package broadcast

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// dailyTrigger answers "did the daily schedule fire between two ticks".
type dailyTrigger struct {
	sched cron.Schedule
	loc   *time.Location
}

func parseTrigger(spec, tz string) (*dailyTrigger, error) {
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("broadcast timezone %q: %w", tz, err)
		}
		loc = l
	}
	sched, err := cron.ParseStandard(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("broadcast daily spec %q: %w", spec, err)
	}
	return &dailyTrigger{sched: sched, loc: loc}, nil
}

// Fired reports whether a scheduled instant falls in (prev, now].
// Instants that passed while the process was down are not replayed.
func (t *dailyTrigger) Fired(prev, now time.Time) bool {
	if !now.After(prev) {
		return false
	}
	next := t.sched.Next(prev.In(t.loc))
	return !next.After(now)
}

func (t *dailyTrigger) Next(after time.Time) time.Time {
	return t.sched.Next(after.In(t.loc))
}
