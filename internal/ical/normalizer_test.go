package ical

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"schedsync/internal/domain"
	"schedsync/internal/timezone"
)

func newNormalizer() *Normalizer {
	return NewNormalizer(timezone.NewService())
}

func TestRoundTrip_TimedEvent(t *testing.T) {
	n := newNormalizer()

	orig := domain.CanonicalEvent{
		UID:          "evt-1@schedsync",
		Title:        "Design review",
		Description:  "Agenda: part one; part two, and\na second line with a back\\slash",
		StartTime:    time.Date(2026, 4, 20, 14, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2026, 4, 20, 15, 0, 0, 0, time.UTC),
		Timezone:     "UTC",
		Location:     "Room 4; floor 2",
		Organizer:    "host@example.com",
		Attendees:    []string{"a@example.com", "b@example.com"},
		Status:       domain.EventStatusConfirmed,
		LastModified: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}

	raw, err := n.Encode(orig)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	got, err := n.Decode(bytes.NewReader(raw), "caldav", "cal-1", `"etag-1"`)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}

	ev := got[0]
	if ev.UID != orig.UID {
		t.Fatalf("uid = %q, want %q", ev.UID, orig.UID)
	}
	if ev.Title != orig.Title {
		t.Fatalf("title = %q, want %q", ev.Title, orig.Title)
	}
	if !ev.StartTime.Equal(orig.StartTime) || !ev.EndTime.Equal(orig.EndTime) {
		t.Fatalf("interval = [%v, %v], want [%v, %v]", ev.StartTime, ev.EndTime, orig.StartTime, orig.EndTime)
	}
	if ev.AllDay {
		t.Fatalf("timed event decoded as all-day")
	}
	if ev.Description != orig.Description {
		t.Fatalf("description = %q, want %q", ev.Description, orig.Description)
	}
	if ev.Location != orig.Location {
		t.Fatalf("location = %q, want %q", ev.Location, orig.Location)
	}
	if ev.Organizer != orig.Organizer {
		t.Fatalf("organizer = %q, want %q", ev.Organizer, orig.Organizer)
	}
	if len(ev.Attendees) != 2 || ev.Attendees[0] != "a@example.com" || ev.Attendees[1] != "b@example.com" {
		t.Fatalf("attendees = %v", ev.Attendees)
	}
	if ev.Provider != "caldav" || ev.CalendarID != "cal-1" || ev.ETag != `"etag-1"` {
		t.Fatalf("transport fields = %q/%q/%q", ev.Provider, ev.CalendarID, ev.ETag)
	}
}

func TestRoundTrip_AllDayEvent(t *testing.T) {
	n := newNormalizer()

	orig := domain.CanonicalEvent{
		UID:       "evt-allday@schedsync",
		Title:     "Conference",
		Timezone:  "America/New_York",
		AllDay:    true,
		StartTime: time.Date(2026, 6, 10, 4, 0, 0, 0, time.UTC), // local midnight EDT
		EndTime:   time.Date(2026, 6, 12, 4, 0, 0, 0, time.UTC),
		Status:    domain.EventStatusConfirmed,
	}

	raw, err := n.Encode(orig)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if !strings.Contains(string(raw), "VALUE=DATE") {
		t.Fatalf("all-day event must be encoded as VALUE=DATE, got:\n%s", raw)
	}

	got, err := n.Decode(bytes.NewReader(raw), "caldav", "cal-1", "")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}

	ev := got[0]
	if !ev.AllDay {
		t.Fatalf("all-day flag lost in round trip")
	}
	if ev.UID != orig.UID || ev.Title != orig.Title {
		t.Fatalf("identity fields changed: %q %q", ev.UID, ev.Title)
	}
}

func TestDecode_AllDayWithoutExplicitEnd(t *testing.T) {
	n := newNormalizer()

	ics := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:single-day@test\r\n" +
		"DTSTAMP:20260401T090000Z\r\n" +
		"SUMMARY:Holiday\r\n" +
		"DTSTART;VALUE=DATE:20260704\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	got, err := n.Decode(strings.NewReader(ics), "caldav", "cal-1", "")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	ev := got[0]
	if !ev.AllDay {
		t.Fatalf("expected all-day")
	}
	if got := ev.EndTime.Sub(ev.StartTime); got != 24*time.Hour {
		t.Fatalf("span = %v, want 24h", got)
	}
}

func TestDecode_RejectsMissingUID(t *testing.T) {
	n := newNormalizer()

	ics := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"DTSTAMP:20260401T090000Z\r\n" +
		"DTSTART:20260420T140000Z\r\n" +
		"DTEND:20260420T150000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	if _, err := n.Decode(strings.NewReader(ics), "caldav", "cal-1", ""); err == nil {
		t.Fatalf("expected error for missing UID")
	}
}

func TestToCalendar_RejectsInvertedInterval(t *testing.T) {
	n := newNormalizer()
	_, err := n.ToCalendar(domain.CanonicalEvent{
		UID:       "bad@test",
		StartTime: time.Date(2026, 4, 20, 15, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 4, 20, 14, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatalf("expected error for start >= end")
	}
}

func TestRoundTrip_RecurrenceAndStatus(t *testing.T) {
	n := newNormalizer()

	orig := domain.CanonicalEvent{
		UID:        "rec@test",
		Title:      "Standup",
		StartTime:  time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 4, 20, 9, 15, 0, 0, time.UTC),
		Timezone:   "UTC",
		Recurrence: "FREQ=WEEKLY;BYDAY=MO,WE,FR",
		Status:     domain.EventStatusTentative,
	}

	raw, err := n.Encode(orig)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	got, err := n.Decode(bytes.NewReader(raw), "caldav", "cal-1", "")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got[0].Recurrence != orig.Recurrence {
		t.Fatalf("recurrence = %q, want %q", got[0].Recurrence, orig.Recurrence)
	}
	if got[0].Status != domain.EventStatusTentative {
		t.Fatalf("status = %q, want tentative", got[0].Status)
	}
}
