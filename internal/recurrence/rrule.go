package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// weekday maps our Sunday-based day numbers onto RFC 5545 weekdays.
var weekday = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

var allWeekdays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}

// RRule renders a normalized rule as an RFC 5545 recurrence anchored at
// dtstart, for export to calendar consumers. The weekdays frequency has no
// direct RRULE equivalent and is expressed as WEEKLY;BYDAY=MO..FR.
func (r *Rule) RRule(dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{Dtstart: dtstart}

	switch r.Frequency {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekdays:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = allWeekdays
	case Weekly:
		opt.Freq = rrule.WEEKLY
		for _, day := range r.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, weekday[day])
		}
	default:
		return nil, fmt.Errorf("cannot export frequency %q as RRULE", r.Frequency)
	}

	return rrule.NewRRule(opt)
}

// RRuleString returns the RRULE text for a normalized rule, or "" when the
// rule cannot be expressed.
func (r *Rule) RRuleString(dtstart time.Time) string {
	rule, err := r.RRule(dtstart)
	if err != nil {
		return ""
	}
	return rule.String()
}
