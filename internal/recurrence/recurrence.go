package recurrence

import "time"

// Frequency identifies how a reminder repeats.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekdays Frequency = "weekdays"
	Weekly   Frequency = "weekly"
)

// Rule describes a repeating schedule. A nil *Rule means the reminder is
// one-shot. Rules coming out of Normalize are canonical: DaysOfWeek is only
// set for weekly rules and is then non-empty, deduplicated, within [0,6]
// (0 = Sunday) and strictly ascending. NextOccurrence relies on that and must
// never be handed a rule that did not pass through Normalize.
type Rule struct {
	Frequency  Frequency `json:"frequency"`
	DaysOfWeek []int     `json:"daysOfWeek,omitempty"`
}

// Normalize canonicalizes a raw rule. Daily and weekdays rules lose any stray
// day set; weekly rules get their days deduplicated, range-checked and sorted.
// A weekly rule left with no valid days collapses to nil: "repeat on no days"
// is the same as not repeating, not an error. Unknown frequencies also map to
// nil. Idempotent: Normalize(Normalize(r)) == Normalize(r).
func Normalize(r *Rule) *Rule {
	if r == nil {
		return nil
	}

	switch r.Frequency {
	case Daily:
		return &Rule{Frequency: Daily}
	case Weekdays:
		return &Rule{Frequency: Weekdays}
	case Weekly:
		seen := make(map[int]bool)
		var days []int
		for _, day := range r.DaysOfWeek {
			if day < 0 || day > 6 || seen[day] {
				continue
			}
			seen[day] = true
			days = append(days, day)
		}
		if len(days) == 0 {
			return nil
		}
		sortDays(days)
		return &Rule{Frequency: Weekly, DaysOfWeek: days}
	default:
		return nil
	}
}

// NextOccurrence returns the occurrence following current under the given
// rule. The boolean is false when the rule is nil (one-shot reminders are
// terminal) or the frequency is unknown. Occurrence times are minute-granular;
// seconds are discarded before computing. Only the date component advances,
// the time of day is always preserved from current.
func NextOccurrence(current time.Time, r *Rule) (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}

	base := current.Truncate(time.Minute)

	switch r.Frequency {
	case Daily:
		return base.AddDate(0, 0, 1), true
	case Weekdays:
		next := base
		for {
			next = next.AddDate(0, 0, 1)
			if wd := next.Weekday(); wd != time.Saturday && wd != time.Sunday {
				return next, true
			}
		}
	case Weekly:
		for offset := 1; offset <= 7; offset++ {
			candidate := base.AddDate(0, 0, offset)
			if containsDay(r.DaysOfWeek, int(candidate.Weekday())) {
				return candidate, true
			}
		}
		// Unreachable for normalized rules: a non-empty day set always
		// matches within a full week. Terminal fallback, never an error.
		return base.AddDate(0, 0, 7), true
	default:
		return time.Time{}, false
	}
}

// UpcomingOccurrences enumerates occurrences starting at start, bounded by
// both horizonDays and maxCount. start itself is the first element. The slice
// is eagerly materialized; same inputs produce the same output.
func UpcomingOccurrences(start time.Time, r *Rule, horizonDays, maxCount int) []time.Time {
	if r == nil || maxCount <= 0 {
		return nil
	}

	horizon := start.AddDate(0, 0, horizonDays)

	occurrences := []time.Time{start}
	current := start
	for len(occurrences) < maxCount {
		next, ok := NextOccurrence(current, r)
		if !ok || next.After(horizon) {
			break
		}
		occurrences = append(occurrences, next)
		current = next
	}
	return occurrences
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// sortDays is an insertion sort; day sets have at most seven elements.
func sortDays(days []int) {
	for i := 1; i < len(days); i++ {
		for j := i; j > 0 && days[j] < days[j-1]; j-- {
			days[j], days[j-1] = days[j-1], days[j]
		}
	}
}
