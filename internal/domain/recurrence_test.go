package domain

import (
	"testing"
	"time"
)

func TestGenerateSlotDates_None(t *testing.T) {
	parent := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dates, err := GenerateSlotDates(parent, SlotRecurrenceRule{Frequency: SlotRecurrenceNone}, parent.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("GenerateSlotDates error: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("dates = %d, want 0", len(dates))
	}
}

func TestGenerateSlotDates_Validation(t *testing.T) {
	parent := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rule    SlotRecurrenceRule
		horizon time.Time
		wantErr string
	}{
		{
			name:    "horizon before parent",
			rule:    SlotRecurrenceRule{Frequency: SlotRecurrenceDaily},
			horizon: parent.AddDate(0, 0, -1),
			wantErr: "horizon must be after the parent date",
		},
		{
			name:    "invalid weekday",
			rule:    SlotRecurrenceRule{Frequency: SlotRecurrenceWeekly, ByWeekday: []int16{8}},
			horizon: parent.AddDate(0, 0, 7),
			wantErr: "invalid weekday",
		},
		{
			name:    "invalid day of month",
			rule:    SlotRecurrenceRule{Frequency: SlotRecurrenceMonthly, ByMonthDay: 32},
			horizon: parent.AddDate(0, 2, 0),
			wantErr: "invalid day of month",
		},
		{
			name:    "unsupported frequency",
			rule:    SlotRecurrenceRule{Frequency: "yearly"},
			horizon: parent.AddDate(0, 0, 7),
			wantErr: "unsupported recurrence frequency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateSlotDates(parent, tt.rule, tt.horizon)
			if err == nil {
				t.Fatalf("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGenerateSlotDates_DailyStartsDayAfterParent(t *testing.T) {
	parent := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	dates, err := GenerateSlotDates(parent, SlotRecurrenceRule{Frequency: SlotRecurrenceDaily}, parent.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("GenerateSlotDates error: %v", err)
	}
	if len(dates) != 5 {
		t.Fatalf("dates = %d, want 5", len(dates))
	}
	if !dates[0].Equal(parent.AddDate(0, 0, 1)) {
		t.Fatalf("first date = %v, want %v", dates[0], parent.AddDate(0, 0, 1))
	}
	for _, d := range dates {
		if d.Equal(parent) {
			t.Fatalf("parent date must not be generated")
		}
	}
}

func TestGenerateSlotDates_WeeklyTwoWeekdaysOver14Days(t *testing.T) {
	parent := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	rule := SlotRecurrenceRule{Frequency: SlotRecurrenceWeekly, ByWeekday: []int16{2, 4}}
	dates, err := GenerateSlotDates(parent, rule, parent.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("GenerateSlotDates error: %v", err)
	}
	if len(dates) > 4 {
		t.Fatalf("dates = %d, want at most 4", len(dates))
	}
	for _, d := range dates {
		wd := isoWeekday(d)
		if wd != 2 && wd != 4 {
			t.Fatalf("unexpected weekday %d for %v", wd, d)
		}
	}
}

func TestGenerateSlotDates_WeeklyDefaultsToParentWeekday(t *testing.T) {
	parent := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) // Wednesday
	dates, err := GenerateSlotDates(parent, SlotRecurrenceRule{Frequency: SlotRecurrenceWeekly}, parent.AddDate(0, 0, 21))
	if err != nil {
		t.Fatalf("GenerateSlotDates error: %v", err)
	}
	if len(dates) != 3 {
		t.Fatalf("dates = %d, want 3", len(dates))
	}
	for _, d := range dates {
		if d.Weekday() != time.Wednesday {
			t.Fatalf("weekday = %v, want Wednesday", d.Weekday())
		}
	}
}

func TestGenerateSlotDates_MonthlySameDayOfMonth(t *testing.T) {
	parent := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	dates, err := GenerateSlotDates(parent, SlotRecurrenceRule{Frequency: SlotRecurrenceMonthly}, parent.AddDate(0, 3, 0))
	if err != nil {
		t.Fatalf("GenerateSlotDates error: %v", err)
	}
	if len(dates) != 3 {
		t.Fatalf("dates = %d, want 3", len(dates))
	}
	for _, d := range dates {
		if d.Day() != 15 {
			t.Fatalf("day = %d, want 15", d.Day())
		}
	}
}

func TestOverlaps_Symmetry(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name                 string
		aOff, aLen, bOff, bLen int // minutes
		want                 bool
	}{
		{"identical", 0, 60, 0, 60, true},
		{"partial", 0, 60, 30, 60, true},
		{"contained", 0, 120, 30, 30, true},
		{"touching edges", 0, 60, 60, 60, false},
		{"disjoint", 0, 30, 90, 30, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			aStart := base.Add(time.Duration(tt.aOff) * time.Minute)
			aEnd := aStart.Add(time.Duration(tt.aLen) * time.Minute)
			bStart := base.Add(time.Duration(tt.bOff) * time.Minute)
			bEnd := bStart.Add(time.Duration(tt.bLen) * time.Minute)

			ab := Overlaps(aStart, aEnd, bStart, bEnd)
			ba := Overlaps(bStart, bEnd, aStart, aEnd)
			if ab != ba {
				t.Fatalf("overlap not symmetric: ab=%v ba=%v", ab, ba)
			}
			if ab != tt.want {
				t.Fatalf("Overlaps = %v, want %v", ab, tt.want)
			}
		})
	}
}

func TestOverlapMinutes(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	got := OverlapMinutes(base, base.Add(60*time.Minute), base.Add(45*time.Minute), base.Add(90*time.Minute))
	if got != 15 {
		t.Fatalf("OverlapMinutes = %d, want 15", got)
	}
	if OverlapMinutes(base, base.Add(30*time.Minute), base.Add(30*time.Minute), base.Add(60*time.Minute)) != 0 {
		t.Fatalf("touching intervals must not overlap")
	}
}

func TestSeverityForOverlap(t *testing.T) {
	if got := SeverityForOverlap(5); got != ConflictSeverityLow {
		t.Fatalf("severity(5) = %v, want low", got)
	}
	if got := SeverityForOverlap(15); got != ConflictSeverityMedium {
		t.Fatalf("severity(15) = %v, want medium", got)
	}
	if got := SeverityForOverlap(16); got != ConflictSeverityHigh {
		t.Fatalf("severity(16) = %v, want high", got)
	}
}
