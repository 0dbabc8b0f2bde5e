// Package timezone keeps the module's UTC-canonical storage discipline:
// instants are stored in UTC and converted to named zones only at the
// edges. It also expands recurrence rules into concrete UTC instants,
// honoring DST transitions.
package timezone

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
)

const defaultMaxOccurrences = 5000

// Service caches loaded zones. The zero value is not usable; construct
// with NewService so the cache map exists.
type Service struct {
	mu    sync.RWMutex
	zones map[string]*time.Location
}

func NewService() *Service {
	return &Service{zones: make(map[string]*time.Location)}
}

func (s *Service) Location(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || strings.EqualFold(zone, "UTC") {
		return time.UTC, nil
	}

	s.mu.RLock()
	loc, ok := s.zones[zone]
	s.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, errors.New("unknown timezone: " + zone)
	}

	s.mu.Lock()
	s.zones[zone] = loc
	s.mu.Unlock()
	return loc, nil
}

// ToUTC reinterprets the wall-clock fields of t in the named zone and
// returns the corresponding UTC instant.
func (s *Service) ToUTC(t time.Time, zone string) (time.Time, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	return local.UTC(), nil
}

// FromUTC converts a UTC instant into the named zone.
func (s *Service) FromUTC(t time.Time, zone string) (time.Time, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

// ResolveLocal maps a wall-clock time in the named zone to a UTC
// instant with defined DST behavior: a nonexistent local time (the
// spring-forward gap) advances by the width of the gap; an ambiguous
// local time (the fall-back hour) resolves to its first occurrence.
func (s *Service) ResolveLocal(year int, month time.Month, day, hour, minute int, zone string) (time.Time, error) {
	loc, err := s.Location(zone)
	if err != nil {
		return time.Time{}, err
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, loc)

	want := hour*60 + minute
	got := t.Hour()*60 + t.Minute()
	if got != want {
		// Landed inside a gap. time.Date normalized the wall clock by
		// the offset change; if it normalized backward, push the
		// instant forward so the result advances past the gap.
		diff := got - want
		if diff < 0 {
			t = t.Add(time.Duration(-diff) * time.Minute)
		}
		return t.UTC(), nil
	}

	// An ambiguous wall clock has a second reading one offset step
	// earlier. Prefer the earlier instant (first occurrence).
	earlier := t.Add(-time.Hour)
	if earlier.In(loc).Hour()*60+earlier.In(loc).Minute() == want {
		t = earlier
	}
	return t.UTC(), nil
}

// ExpandResult carries expanded UTC instants plus whether the
// occurrence cap was hit.
type ExpandResult struct {
	Instants  []time.Time
	Truncated bool
}

// ExpandRRule expands an RFC 5545 RRULE into concrete UTC instants.
// dtstart is a UTC instant; it is converted into the named zone before
// expansion so the rule stays aligned to the local wall clock across
// DST transitions. Occurrences are capped (maxOccurrences; 0 means the
// default) and truncation is reported, never silent.
func (s *Service) ExpandRRule(rule string, dtstart time.Time, zone string, from, to time.Time, maxOccurrences int) (ExpandResult, error) {
	var out ExpandResult

	if to.Before(from) {
		return out, errors.New("expand: range end is before range start")
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}

	loc, err := s.Location(zone)
	if err != nil {
		return out, err
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return out, errors.New("expand: invalid RRULE: " + err.Error())
	}
	r.DTStart(dtstart.In(loc))

	var set rrule.Set
	set.RRule(r)

	instants := set.Between(from.In(loc), to.In(loc), true)
	if len(instants) > maxOccurrences {
		instants = instants[:maxOccurrences]
		out.Truncated = true
	}

	out.Instants = make([]time.Time, 0, len(instants))
	for _, t := range instants {
		out.Instants = append(out.Instants, t.UTC())
	}
	return out, nil
}

// DetectSignals are the network/locale hints available for zone
// auto-detection.
type DetectSignals struct {
	ZoneName      string // IANA name, e.g. from a locale header
	OffsetMinutes *int   // current UTC offset reported by a client
}

// Detection is a guessed zone with an explicit confidence score; it is
// never presented as certain.
type Detection struct {
	Zone       string
	Confidence float64
}

var offsetZones = map[int]string{
	-480: "America/Los_Angeles",
	-420: "America/Denver",
	-360: "America/Chicago",
	-300: "America/New_York",
	0:    "UTC",
	60:   "Europe/Berlin",
	120:  "Europe/Kyiv",
	330:  "Asia/Kolkata",
	480:  "Asia/Shanghai",
	540:  "Asia/Tokyo",
	600:  "Australia/Sydney",
}

// DetectZone picks the best zone for the given signals. A valid IANA
// name wins with high confidence; a bare offset maps to a
// representative zone with low confidence; no signal falls back to UTC
// with near-zero confidence.
func (s *Service) DetectZone(signals DetectSignals) Detection {
	if name := strings.TrimSpace(signals.ZoneName); name != "" {
		if _, err := s.Location(name); err == nil {
			return Detection{Zone: name, Confidence: 0.95}
		}
	}
	if signals.OffsetMinutes != nil {
		if zone, ok := offsetZones[*signals.OffsetMinutes]; ok {
			return Detection{Zone: zone, Confidence: 0.5}
		}
	}
	return Detection{Zone: "UTC", Confidence: 0.1}
}
