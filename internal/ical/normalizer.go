// Package ical maps between the wire iCalendar format and the
// canonical event model. Text escaping (backslash, semicolon, comma,
// newline) is handled by the go-ical codec on encode and decode.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"schedsync/internal/domain"
	"schedsync/internal/timezone"
)

const prodID = "-//schedsync//EN"

const dateLayout = "20060102"

type Normalizer struct {
	tz *timezone.Service
}

func NewNormalizer(tz *timezone.Service) *Normalizer {
	return &Normalizer{tz: tz}
}

// FromCalendar converts every VEVENT in a parsed calendar into a
// CanonicalEvent. provider, calendarID and etag come from the transport
// layer that fetched the entity.
func (n *Normalizer) FromCalendar(cal *ical.Calendar, provider, calendarID, etag string) ([]domain.CanonicalEvent, error) {
	var out []domain.CanonicalEvent
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		ev, err := n.fromComponent(child, provider, calendarID, etag)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Decode parses an iCalendar stream and normalizes its events.
func (n *Normalizer) Decode(r io.Reader, provider, calendarID, etag string) ([]domain.CanonicalEvent, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode icalendar: %w", err)
	}
	return n.FromCalendar(cal, provider, calendarID, etag)
}

func (n *Normalizer) fromComponent(comp *ical.Component, provider, calendarID, etag string) (domain.CanonicalEvent, error) {
	uid, err := comp.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return domain.CanonicalEvent{}, errors.New("event is missing a UID")
	}

	ev := domain.CanonicalEvent{
		UID:        uid,
		Provider:   provider,
		CalendarID: calendarID,
		ETag:       etag,
		Timezone:   "UTC",
		Status:     domain.EventStatusConfirmed,
	}

	ev.Title, _ = comp.Props.Text(ical.PropSummary)
	ev.Description, _ = comp.Props.Text(ical.PropDescription)
	ev.Location, _ = comp.Props.Text(ical.PropLocation)

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return domain.CanonicalEvent{}, errors.New("event is missing DTSTART: " + uid)
	}
	if tzid := startProp.Params.Get(ical.ParamTimezoneID); tzid != "" {
		ev.Timezone = tzid
	}

	if startProp.ValueType() == ical.ValueDate {
		if err := n.fillAllDay(comp, &ev, startProp); err != nil {
			return domain.CanonicalEvent{}, err
		}
	} else {
		start, err := startProp.DateTime(time.UTC)
		if err != nil {
			return domain.CanonicalEvent{}, fmt.Errorf("parse DTSTART for %s: %w", uid, err)
		}
		ev.StartTime = start.UTC()

		endProp := comp.Props.Get(ical.PropDateTimeEnd)
		if endProp == nil {
			return domain.CanonicalEvent{}, errors.New("event is missing DTEND: " + uid)
		}
		end, err := endProp.DateTime(time.UTC)
		if err != nil {
			return domain.CanonicalEvent{}, fmt.Errorf("parse DTEND for %s: %w", uid, err)
		}
		ev.EndTime = end.UTC()
	}

	if !ev.StartTime.Before(ev.EndTime) {
		return domain.CanonicalEvent{}, errors.New("event start must precede end: " + uid)
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		ev.Recurrence = p.Value
	}
	if status, err := comp.Props.Text(ical.PropStatus); err == nil && status != "" {
		ev.Status = statusFromWire(status)
	}
	if org, err := comp.Props.Text(ical.PropOrganizer); err == nil {
		ev.Organizer = strings.TrimPrefix(org, "mailto:")
	}
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		v, err := p.Text()
		if err != nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, strings.TrimPrefix(v, "mailto:"))
	}
	if lm := comp.Props.Get(ical.PropLastModified); lm != nil {
		if t, err := lm.DateTime(time.UTC); err == nil {
			ev.LastModified = t.UTC()
		}
	}

	return ev, nil
}

// fillAllDay handles VALUE=DATE starts: the event is flagged all-day
// and its interval spans local midnights in the source zone. The flag
// is the only all-day marker; a zero time-of-day never stands in for it.
func (n *Normalizer) fillAllDay(comp *ical.Component, ev *domain.CanonicalEvent, startProp *ical.Prop) error {
	loc, err := n.tz.Location(ev.Timezone)
	if err != nil {
		return err
	}

	startDate, err := time.ParseInLocation(dateLayout, startProp.Value, loc)
	if err != nil {
		return fmt.Errorf("parse all-day DTSTART for %s: %w", ev.UID, err)
	}
	ev.AllDay = true
	ev.StartTime = startDate.UTC()

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		endDate, err := time.ParseInLocation(dateLayout, endProp.Value, loc)
		if err != nil {
			return fmt.Errorf("parse all-day DTEND for %s: %w", ev.UID, err)
		}
		ev.EndTime = endDate.UTC()
	} else {
		ev.EndTime = startDate.AddDate(0, 0, 1).UTC()
	}
	return nil
}

// ToCalendar renders a canonical event as a single-VEVENT calendar
// ready for a provider PUT. Timed events are written as UTC instants;
// all-day events as VALUE=DATE in the source zone.
func (n *Normalizer) ToCalendar(ev domain.CanonicalEvent) (*ical.Calendar, error) {
	if ev.UID == "" {
		return nil, errors.New("event is missing a UID")
	}
	if !ev.StartTime.Before(ev.EndTime) {
		return nil, errors.New("event start must precede end: " + ev.UID)
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, ev.UID)
	ve.Props.SetText(ical.PropSummary, ev.Title)

	stamp := ev.LastModified
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	if ev.AllDay {
		loc, err := n.tz.Location(ev.Timezone)
		if err != nil {
			return nil, err
		}
		start := ical.NewProp(ical.PropDateTimeStart)
		start.SetValueType(ical.ValueDate)
		start.Value = ev.StartTime.In(loc).Format(dateLayout)
		ve.Props.Set(start)

		end := ical.NewProp(ical.PropDateTimeEnd)
		end.SetValueType(ical.ValueDate)
		end.Value = ev.EndTime.In(loc).Format(dateLayout)
		ve.Props.Set(end)
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, ev.StartTime.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.EndTime.UTC())
	}

	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Recurrence != "" {
		rr := ical.NewProp(ical.PropRecurrenceRule)
		rr.Value = ev.Recurrence
		ve.Props.Set(rr)
	}
	ve.Props.SetText(ical.PropStatus, statusToWire(ev.Status))
	if ev.Organizer != "" {
		p := ical.NewProp(ical.PropOrganizer)
		p.SetText("mailto:" + ev.Organizer)
		ve.Props.Add(p)
	}
	for _, attendee := range ev.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText("mailto:" + attendee)
		ve.Props.Add(p)
	}
	if !ev.LastModified.IsZero() {
		ve.Props.SetDateTime(ical.PropLastModified, ev.LastModified.UTC())
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, ve)
	return cal, nil
}

// Encode renders the event's calendar to raw iCalendar bytes.
func (n *Normalizer) Encode(ev domain.CanonicalEvent) ([]byte, error) {
	cal, err := n.ToCalendar(ev)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode icalendar: %w", err)
	}
	return buf.Bytes(), nil
}

func statusFromWire(s string) domain.EventStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TENTATIVE":
		return domain.EventStatusTentative
	case "CANCELLED":
		return domain.EventStatusCancelled
	default:
		return domain.EventStatusConfirmed
	}
}

func statusToWire(s domain.EventStatus) string {
	switch s {
	case domain.EventStatusTentative:
		return "TENTATIVE"
	case domain.EventStatusCancelled:
		return "CANCELLED"
	default:
		return "CONFIRMED"
	}
}
