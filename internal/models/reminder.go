package models

import (
	"time"

	"reminderd/internal/recurrence"
)

// Priority levels carried through to the delivery payload. They have no
// effect on scheduling order.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// DefaultTime is the fire time assumed when a reminder has a date but no time.
const DefaultTime = "09:00"

// Reminder is the scheduling unit. Date and Time are local wall-clock values
// ("YYYY-MM-DD" and "HH:MM", 24h); combined they form the reminder's fire
// instant. Recurrence is nil for one-shot reminders and always normalized
// when persisted.
type Reminder struct {
	ID                        string           `json:"id"`
	UserID                    string           `json:"userId"`
	Task                      string           `json:"task"`
	Date                      string           `json:"date"`
	Time                      string           `json:"time"`
	Completed                 bool             `json:"completed"`
	Priority                  string           `json:"priority"`
	Recurrence                *recurrence.Rule `json:"recurrence,omitempty"`
	NotificationMessage       string           `json:"notificationMessage,omitempty"`
	NotificationSent          bool             `json:"notificationSent"`
	NotificationSentAt        *time.Time       `json:"notificationSentAt,omitempty"`
	NotificationLastAttemptAt *time.Time       `json:"notificationLastAttemptAt,omitempty"`
	CreatedAt                 time.Time        `json:"createdAt"`
	UpdatedAt                 time.Time        `json:"updatedAt"`
}

// IsRecurring returns true if this reminder repeats.
func (r *Reminder) IsRecurring() bool {
	return r.Recurrence != nil
}

// FireInstant combines Date and Time into a concrete local instant. The
// boolean is false when the date is missing or unparseable. A missing time
// defaults to 09:00.
func (r *Reminder) FireInstant(loc *time.Location) (time.Time, bool) {
	if r.Date == "" {
		return time.Time{}, false
	}
	clock := r.Time
	if clock == "" {
		clock = DefaultTime
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", r.Date+" "+clock, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetFireInstant writes an instant back into the Date/Time fields.
func (r *Reminder) SetFireInstant(t time.Time) {
	r.Date = t.Format("2006-01-02")
	r.Time = t.Format("15:04")
}
