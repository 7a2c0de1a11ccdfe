package storage

import "time"

// statsTally accumulates Statistics the same way for every driver that
// computes them in Go.
type statsTally struct {
	dayStart  time.Time
	weekStart time.Time
	s         Statistics
}

func newStatsTally(now time.Time) *statsTally {
	day, week := statWindow(now)
	return &statsTally{dayStart: day, weekStart: week}
}

// statWindow returns local midnight of now and the same midnight seven days earlier.
func statWindow(now time.Time) (day, week time.Time) {
	y, m, d := now.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return day, day.AddDate(0, 0, -7)
}

func (t *statsTally) user(u User) {
	t.s.TotalUsers++
	if !u.LastActivity.Before(t.dayStart) {
		t.s.ActiveToday++
	}
	if !u.RegisteredAt.Before(t.weekStart) {
		t.s.NewThisWeek++
	}
}

func (t *statsTally) turn(tn Turn) {
	t.s.TotalMessages++
	switch tn.Input.Kind {
	case KindText:
		t.s.TextMessages++
	case KindImage, KindImages:
		t.s.ImageMessages++
	case KindAudio:
		t.s.AudioMessages++
	}
	if !tn.At.Before(t.dayStart) {
		t.s.MessagesToday++
	}
	if !tn.At.Before(t.weekStart) {
		t.s.MessagesThisWeek++
	}
}
