package conflicts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"schedsync/internal/domain"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyUserChoice    Strategy = "user_choice"
	StrategyPriorityBased Strategy = "priority_based"
	StrategyTimeBased     Strategy = "time_based"
	StrategyAutomatic     Strategy = "automatic"
)

// Resolution records the outcome of resolving one conflict. WinnerID
// keeps its slot; when MovedTo is set the loser should be rescheduled
// into that window.
type Resolution struct {
	Strategy Strategy
	WinnerID string
	LoserID  string
	MovedTo  *domain.Suggestion
}

// PreferencePredictor guesses where the user would move the losing
// item, with a confidence in [0, 1]. Optional.
type PreferencePredictor interface {
	Predict(ctx context.Context, loser Item) (domain.Suggestion, float64, error)
}

// SearchOptions bounds the alternative-slot scan.
type SearchOptions struct {
	Horizon       time.Duration
	Granularity   time.Duration
	BusinessStart int // hour, inclusive
	BusinessEnd   int // hour, exclusive for the candidate end
	PreferredDays map[time.Weekday]bool
	PreferredFrom int // preferred hour band start
	PreferredTo   int
	TopN          int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Horizon <= 0 {
		o.Horizon = 7 * 24 * time.Hour
	}
	if o.Granularity <= 0 {
		o.Granularity = 30 * time.Minute
	}
	if o.BusinessStart == 0 && o.BusinessEnd == 0 {
		o.BusinessStart, o.BusinessEnd = 9, 17
	}
	if o.PreferredFrom == 0 && o.PreferredTo == 0 {
		o.PreferredFrom, o.PreferredTo = 10, 16
	}
	if o.TopN <= 0 {
		o.TopN = 5
	}
	return o
}

// Resolver applies a strategy to a detected conflict.
type Resolver struct {
	predictor PreferencePredictor
	threshold float64
	search    SearchOptions
}

func NewResolver(search SearchOptions) *Resolver {
	return &Resolver{
		threshold: 0.7,
		search:    search.withDefaults(),
	}
}

// WithPredictor enables the automatic strategy's learned-preference
// stage.
func (r *Resolver) WithPredictor(p PreferencePredictor, threshold float64) *Resolver {
	r.predictor = p
	r.threshold = threshold
	return r
}

// Resolve picks a winner and, where the strategy relocates the loser,
// a target window. items is the full schedule used for the forward
// slot search. The conflict advances through suggested to resolved;
// user_choice stops at suggested.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Conflict, items []Item, strategy Strategy) (Resolution, error) {
	subject, other, err := pickItems(c, items)
	if err != nil {
		return Resolution{}, err
	}

	switch strategy {
	case StrategyUserChoice:
		loser := laterCreated(subject, other)
		alts := FindAlternativeSlots(items, loser, r.search)
		if err := Suggest(c, alts); err != nil {
			return Resolution{}, err
		}
		return Resolution{Strategy: strategy, LoserID: loser.ID}, nil

	case StrategyPriorityBased:
		winner, loser := byCreation(subject, other)
		return r.finish(c, Resolution{Strategy: strategy, WinnerID: winner.ID, LoserID: loser.ID})

	case StrategyTimeBased:
		winner, loser := subject, other
		if other.Start.Before(subject.Start) {
			winner, loser = other, subject
		}
		res := Resolution{Strategy: strategy, WinnerID: winner.ID, LoserID: loser.ID}
		if alts := FindAlternativeSlots(items, loser, r.search); len(alts) > 0 {
			res.MovedTo = &alts[0]
		}
		return r.finish(c, res)

	case StrategyAutomatic:
		winner, loser := byCreation(subject, other)
		res := Resolution{Strategy: strategy, WinnerID: winner.ID, LoserID: loser.ID}
		if r.predictor != nil {
			predicted, confidence, err := r.predictor.Predict(ctx, loser)
			if err == nil && confidence >= r.threshold {
				res.MovedTo = &predicted
				return r.finish(c, res)
			}
		}
		if alts := FindAlternativeSlots(items, loser, r.search); len(alts) > 0 {
			res.MovedTo = &alts[0]
			return r.finish(c, res)
		}
		// Nothing to move the loser into: fall back to precedence only.
		res.Strategy = StrategyPriorityBased
		return r.finish(c, res)

	default:
		return Resolution{}, fmt.Errorf("conflicts: unknown strategy %q", strategy)
	}
}

func (r *Resolver) finish(c *domain.Conflict, res Resolution) (Resolution, error) {
	var suggestions []domain.Suggestion
	if res.MovedTo != nil {
		suggestions = []domain.Suggestion{*res.MovedTo}
	}
	if err := Suggest(c, suggestions); err != nil {
		return Resolution{}, err
	}
	if err := MarkResolved(c); err != nil {
		return Resolution{}, err
	}
	return res, nil
}

func pickItems(c *domain.Conflict, items []Item) (Item, Item, error) {
	var subject, other *Item
	for i := range items {
		switch items[i].ID {
		case c.SubjectID:
			subject = &items[i]
		case c.OtherID:
			other = &items[i]
		}
	}
	if subject == nil || other == nil {
		return Item{}, Item{}, fmt.Errorf("conflicts: conflict references unknown items %s/%s", c.SubjectID, c.OtherID)
	}
	return *subject, *other, nil
}

func byCreation(a, b Item) (winner, loser Item) {
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	return a, b
}

func laterCreated(a, b Item) Item {
	_, loser := byCreation(a, b)
	return loser
}

// FindAlternativeSlots scans forward from the subject's end at fixed
// granularity, keeping candidates whose buffer-extended interval is
// collision-free and inside business hours, ranked by proximity and
// weekday/hours preference.
func FindAlternativeSlots(items []Item, subject Item, opts SearchOptions) []domain.Suggestion {
	opts = opts.withDefaults()
	duration := subject.End.Sub(subject.Start)
	if duration <= 0 {
		return nil
	}

	var out []domain.Suggestion
	deadline := subject.End.Add(opts.Horizon)
	for at := subject.End.Truncate(opts.Granularity).Add(opts.Granularity); at.Before(deadline); at = at.Add(opts.Granularity) {
		end := at.Add(duration)
		if !withinBusinessHours(at, end, opts) {
			continue
		}
		if collides(items, subject, at.Add(-subject.BufferBefore), end.Add(subject.BufferAfter)) {
			continue
		}
		out = append(out, domain.Suggestion{
			Start:  at,
			End:    end,
			Score:  scoreCandidate(at, subject.End, opts),
			Reason: "open slot within business hours",
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.TopN {
		out = out[:opts.TopN]
	}
	return out
}

func withinBusinessHours(start, end time.Time, opts SearchOptions) bool {
	if start.Hour() < opts.BusinessStart {
		return false
	}
	if end.Hour() > opts.BusinessEnd || (end.Hour() == opts.BusinessEnd && end.Minute() > 0) {
		return false
	}
	return start.Day() == end.Day()
}

func collides(items []Item, subject Item, effStart, effEnd time.Time) bool {
	for _, it := range items {
		if it.ID == subject.ID || it.Cancelled || it.OwnerID != subject.OwnerID {
			continue
		}
		if domain.Overlaps(effStart, effEnd, it.effectiveStart(), it.effectiveEnd()) {
			return true
		}
	}
	return false
}

// scoreCandidate favors slots close to the original time, on preferred
// weekdays, inside the preferred hour band.
func scoreCandidate(start, origin time.Time, opts SearchOptions) float64 {
	hoursAway := start.Sub(origin).Hours()
	score := 1.0 / (1.0 + hoursAway)
	if opts.PreferredDays == nil || opts.PreferredDays[start.Weekday()] {
		score += 0.25
	}
	if h := start.Hour(); h >= opts.PreferredFrom && h < opts.PreferredTo {
		score += 0.25
	}
	return score
}
