package conflicts

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"schedsync/internal/domain"
)

// TravelEstimator reports the travel time needed between two
// locations.
type TravelEstimator interface {
	Estimate(ctx context.Context, from, to string) (time.Duration, error)
}

// EnrichedDetector decorates a base detector with travel-infeasibility
// analysis. Enrichment failures degrade the result and are logged;
// base detection errors propagate untouched.
type EnrichedDetector struct {
	base   Detector
	travel TravelEstimator
	log    *slog.Logger
	now    func() time.Time
}

func NewEnrichedDetector(base Detector, travel TravelEstimator, log *slog.Logger) *EnrichedDetector {
	if log == nil {
		log = slog.Default()
	}
	return &EnrichedDetector{
		base:   base,
		travel: travel,
		log:    log.With("component", "conflicts.enriched"),
		now:    time.Now,
	}
}

// WithNow fixes the clock for tests.
func (d *EnrichedDetector) WithNow(now func() time.Time) *EnrichedDetector {
	d.now = now
	return d
}

var _ Detector = (*EnrichedDetector)(nil)

func (d *EnrichedDetector) Detect(ctx context.Context, items []Item) ([]domain.Conflict, error) {
	out, err := d.base.Detect(ctx, items)
	if err != nil {
		return nil, err
	}
	if d.travel != nil {
		out = append(out, d.travelConflicts(ctx, items)...)
	}
	return out, nil
}

// travelConflicts checks each owner's adjacent meetings at different
// locations: when the gap is shorter than the estimated travel time,
// the later item is flagged. Items are grouped per owner first so
// interleaved schedules from other owners cannot hide a back-to-back
// pair.
func (d *EnrichedDetector) travelConflicts(ctx context.Context, items []Item) []domain.Conflict {
	byOwner := make(map[string][]Item)
	for _, it := range items {
		if !it.Cancelled && it.Location != "" {
			byOwner[it.OwnerID] = append(byOwner[it.OwnerID], it)
		}
	}

	var out []domain.Conflict
	for _, active := range byOwner {
		sort.Slice(active, func(i, j int) bool { return active[i].Start.Before(active[j].Start) })
		for i := 0; i+1 < len(active); i++ {
			a, b := active[i], active[i+1]
			if a.Location == b.Location {
				continue
			}
			gap := b.Start.Sub(a.End)
			if gap < 0 {
				continue // already a time overlap, reported by the base pass
			}
			needed, err := d.travel.Estimate(ctx, a.Location, b.Location)
			if err != nil {
				d.log.Warn("travel estimate unavailable, skipping enrichment",
					"from", a.Location, "to", b.Location, "error", err)
				continue
			}
			if needed <= gap {
				continue
			}
			deficit := int((needed - gap) / time.Minute)
			out = append(out, domain.Conflict{
				Type:           domain.ConflictTypeTravelInfeasible,
				Severity:       domain.SeverityForOverlap(deficit),
				State:          domain.ConflictStateDetected,
				SubjectID:      b.ID,
				OtherID:        a.ID,
				OwnerID:        b.OwnerID,
				OverlapMinutes: deficit,
				DetectedAt:     d.now().UTC(),
			})
		}
	}
	return out
}
