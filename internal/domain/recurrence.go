package domain

import (
	"errors"
	"sort"
	"time"
)

type SlotRecurrence string

const (
	SlotRecurrenceNone    SlotRecurrence = "none"
	SlotRecurrenceDaily   SlotRecurrence = "daily"
	SlotRecurrenceWeekly  SlotRecurrence = "weekly"
	SlotRecurrenceMonthly SlotRecurrence = "monthly"
)

// SlotRecurrenceRule describes how a parent timeslot repeats. ByWeekday
// uses ISO numbering (1=Monday .. 7=Sunday) and applies to weekly rules;
// ByMonthDay applies to monthly rules. A zero ByMonthDay means "same day
// of month as the parent".
type SlotRecurrenceRule struct {
	Frequency  SlotRecurrence
	ByWeekday  []int16
	ByMonthDay int
}

// GenerateSlotDates returns the dates (UTC midnights) on which recurring
// child instances of a parent slot should be created. Generation starts
// the day after the parent's date and runs through the horizon date
// inclusive. The parent's own date is never returned.
func GenerateSlotDates(parentDate time.Time, rule SlotRecurrenceRule, horizon time.Time) ([]time.Time, error) {
	if rule.Frequency == SlotRecurrenceNone {
		return nil, nil
	}

	start := dateUTC(parentDate)
	end := dateUTC(horizon)
	if !end.After(start) {
		return nil, errors.New("horizon must be after the parent date")
	}

	weekdays, err := normalizeWeekdays(rule.ByWeekday)
	if err != nil {
		return nil, err
	}

	monthDay := rule.ByMonthDay
	if monthDay == 0 {
		monthDay = start.Day()
	}
	if monthDay < 1 || monthDay > 31 {
		return nil, errors.New("invalid day of month")
	}

	var out []time.Time
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		switch rule.Frequency {
		case SlotRecurrenceDaily:
			out = append(out, d)
		case SlotRecurrenceWeekly:
			if len(weekdays) == 0 {
				if d.Weekday() == start.Weekday() {
					out = append(out, d)
				}
				continue
			}
			if containsWeekday(weekdays, isoWeekday(d)) {
				out = append(out, d)
			}
		case SlotRecurrenceMonthly:
			if d.Day() == monthDay {
				out = append(out, d)
			}
		default:
			return nil, errors.New("unsupported recurrence frequency")
		}
	}
	return out, nil
}

func normalizeWeekdays(weekdays []int16) ([]int16, error) {
	if len(weekdays) == 0 {
		return nil, nil
	}
	seen := make(map[int16]struct{}, len(weekdays))
	out := make([]int16, 0, len(weekdays))
	for _, wd := range weekdays {
		if wd < 1 || wd > 7 {
			return nil, errors.New("invalid weekday")
		}
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func containsWeekday(weekdays []int16, wd int16) bool {
	for _, w := range weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

func isoWeekday(t time.Time) int16 {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int16(t.Weekday())
}

func dateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
