// Package announce decides and delivers the hourly meet announcements.
package announce

import (
	"fmt"
	"time"

	"tg_gatekeeper_bot/internal/domain"
)

// Kind is the announcement a cycle should make for the next upcoming event.
type Kind int

const (
	None Kind = iota
	Started
	Tomorrow
	NextWeek
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Tomorrow:
		return "tomorrow"
	case NextWeek:
		return "next-week"
	default:
		return "none"
	}
}

// reminderHour is the local hour at which tomorrow/next-week reminders fire.
const reminderHour = 10

// Select maps the current time and the sorted upcoming events to at most one
// announcement. Only the earliest event is considered; the current time is
// rounded to the nearest hour (add 30 minutes, floor) to absorb scheduler
// jitter. Check order resolves ties: Started > Tomorrow > NextWeek.
func Select(now time.Time, upcoming []domain.Event) Kind {
	if len(upcoming) == 0 {
		return None
	}

	next := upcoming[0]
	now = now.In(next.Begin.Location())
	rounded := floorHour(now.Add(30 * time.Minute))

	switch {
	case rounded.Equal(floorHour(next.Begin)):
		return Started
	case rounded.Hour() == reminderHour && sameDate(now.AddDate(0, 0, 1), next.Begin):
		return Tomorrow
	case rounded.Hour() == reminderHour && sameDate(now.AddDate(0, 0, 7), next.Begin):
		return NextWeek
	default:
		return None
	}
}

// Message renders the announcement text for a non-None kind.
func Message(kind Kind, event domain.Event) string {
	month := event.Begin.Month().String()

	switch kind {
	case Started:
		return fmt.Sprintf("The %s meet has started!", month)
	case Tomorrow:
		return fmt.Sprintf("Reminder! The %s meet is tomorrow!", month)
	case NextWeek:
		return fmt.Sprintf("Reminder! The %s meet is next week!", month)
	default:
		return ""
	}
}

// floorHour truncates to the top of the hour in t's own zone. Wall-clock
// flooring matters: Truncate would operate on absolute time and misalign
// zones with non-whole-hour offsets.
func floorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}
