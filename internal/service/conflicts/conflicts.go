// Package conflicts detects collisions between scheduled items and
// proposes or applies resolutions. Detection works on a flattened Item
// view so appointments and mirrored provider events share one code
// path.
package conflicts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"schedsync/internal/domain"
)

// Item is the detector's view of one scheduled interval. Buffers
// extend the core interval into the effective interval checked for
// violations.
type Item struct {
	ID           string
	OwnerID      string
	Start        time.Time
	End          time.Time
	BufferBefore time.Duration
	BufferAfter  time.Duration
	Location     string
	Cancelled    bool
	CreatedAt    time.Time
}

func (it Item) effectiveStart() time.Time { return it.Start.Add(-it.BufferBefore) }
func (it Item) effectiveEnd() time.Time   { return it.End.Add(it.BufferAfter) }

// FromAppointment flattens a booked appointment, carrying its reserved
// buffer minutes into the effective interval.
func FromAppointment(appt domain.Appointment) Item {
	return Item{
		ID:           appt.ID.String(),
		OwnerID:      appt.OwnerID,
		Start:        appt.StartTime,
		End:          appt.EndTime,
		BufferBefore: time.Duration(appt.BufferBeforeMinutes) * time.Minute,
		BufferAfter:  time.Duration(appt.BufferAfterMinutes) * time.Minute,
		Location:     appt.Location,
		Cancelled:    appt.Status == domain.AppointmentStatusCancelled,
		CreatedAt:    appt.CreatedAt,
	}
}

// FromEvent flattens a mirrored provider event. Events carry no
// buffers of their own.
func FromEvent(ev domain.CanonicalEvent) Item {
	return Item{
		ID:        ev.UID,
		OwnerID:   ev.OwnerID,
		Start:     ev.StartTime,
		End:       ev.EndTime,
		Location:  ev.Location,
		Cancelled: ev.Status == domain.EventStatusCancelled,
		CreatedAt: ev.CreatedAt,
	}
}

// Detector finds conflicts in a set of scheduled items.
type Detector interface {
	Detect(ctx context.Context, items []Item) ([]domain.Conflict, error)
}

// Service is the core detector. It reports time overlaps on core
// intervals and buffer violations where only the padding is touched.
type Service struct {
	now func() time.Time
}

func NewService() *Service {
	return &Service{now: time.Now}
}

// WithNow fixes the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

var _ Detector = (*Service)(nil)

// Detect compares every same-owner pair of non-cancelled items. A core
// overlap is a time_overlap conflict with severity driven by the
// overlapped minutes; an effective-only overlap is a buffer_violation
// tagged with the side of the subject's buffer that was entered.
// Severity always tracks the core overlap, so pure buffer violations
// are low.
func (s *Service) Detect(ctx context.Context, items []Item) ([]domain.Conflict, error) {
	active := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Cancelled {
			continue
		}
		if it.Start.IsZero() || !it.End.After(it.Start) {
			return nil, fmt.Errorf("conflicts: item %s has invalid interval [%v, %v)", it.ID, it.Start, it.End)
		}
		active = append(active, it)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start.Before(active[j].Start) })

	var out []domain.Conflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.OwnerID != b.OwnerID {
				continue
			}
			if c, ok := s.compare(a, b); ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *Service) compare(a, b Item) (domain.Conflict, bool) {
	coreMinutes := domain.OverlapMinutes(a.Start, a.End, b.Start, b.End)
	if domain.Overlaps(a.Start, a.End, b.Start, b.End) {
		return domain.Conflict{
			Type:           domain.ConflictTypeTimeOverlap,
			Severity:       domain.SeverityForOverlap(coreMinutes),
			State:          domain.ConflictStateDetected,
			SubjectID:      a.ID,
			OtherID:        b.ID,
			OwnerID:        a.OwnerID,
			OverlapMinutes: coreMinutes,
			DetectedAt:     s.now().UTC(),
		}, true
	}

	if !domain.Overlaps(a.effectiveStart(), a.effectiveEnd(), b.effectiveStart(), b.effectiveEnd()) {
		return domain.Conflict{}, false
	}

	// Effective intervals touch but cores do not: one item sits inside
	// the other's padding. The subject is the item whose buffer zone
	// the other's core entered; a precedes b, so a's trailing buffer
	// and b's leading buffer are the candidates.
	subject, other, edge := a, b, domain.BufferEdgeAfter
	switch {
	case domain.Overlaps(a.End, a.effectiveEnd(), b.Start, b.End):
	case domain.Overlaps(b.effectiveStart(), b.Start, a.Start, a.End):
		subject, other, edge = b, a, domain.BufferEdgeBefore
	}
	intrusion := domain.OverlapMinutes(
		subject.effectiveStart(), subject.effectiveEnd(),
		other.effectiveStart(), other.effectiveEnd(),
	)
	return domain.Conflict{
		Type:           domain.ConflictTypeBufferViolation,
		Severity:       domain.SeverityForOverlap(coreMinutes),
		State:          domain.ConflictStateDetected,
		SubjectID:      subject.ID,
		OtherID:        other.ID,
		OwnerID:        subject.OwnerID,
		OverlapMinutes: intrusion,
		BufferEdge:     edge,
		DetectedAt:     s.now().UTC(),
	}, true
}

// Suggest attaches ranked suggestions and advances the conflict to the
// suggested state.
func Suggest(c *domain.Conflict, suggestions []domain.Suggestion) error {
	if c.State != domain.ConflictStateDetected {
		return fmt.Errorf("conflicts: cannot suggest from state %q", c.State)
	}
	c.Suggestions = suggestions
	c.State = domain.ConflictStateSuggested
	return nil
}

// MarkResolved closes a conflict that has been through suggestion.
func MarkResolved(c *domain.Conflict) error {
	if c.State != domain.ConflictStateSuggested {
		return fmt.Errorf("conflicts: cannot resolve from state %q", c.State)
	}
	c.State = domain.ConflictStateResolved
	return nil
}

// Dismiss closes a conflict without action. Allowed from detected or
// suggested.
func Dismiss(c *domain.Conflict) error {
	if c.State != domain.ConflictStateDetected && c.State != domain.ConflictStateSuggested {
		return fmt.Errorf("conflicts: cannot dismiss from state %q", c.State)
	}
	c.State = domain.ConflictStateDismissed
	return nil
}
