// Package buffer computes padding windows around appointment core
// intervals. Calculate is a pure function: identical inputs always
// yield identical windows.
package buffer

import (
	"math"
	"time"

	"schedsync/internal/domain"
)

// Preference configures a buffer calculation. The dynamic-strategy
// multipliers are empirical and deliberately tunable; zero values fall
// back to the documented defaults.
type Preference struct {
	Strategy      domain.BufferStrategy
	BeforeMinutes int
	AfterMinutes  int

	// percentage strategy: buffer = duration * Fraction, per side.
	Fraction float64

	// Floor and ceiling applied to each side after strategy math.
	MinMinutes int
	MaxMinutes int

	// adaptive/dynamic: per meeting-type scaling and minimum floors.
	TypeMultipliers map[string]float64
	TypeMinimums    map[string]int

	// dynamic tunables (defaults in parentheses).
	HighDensityThreshold float64 // (0.8) above: compress buffers
	LowDensityThreshold  float64 // (0.4) below: expand buffers
	HighDensityFactor    float64 // (0.8)
	LowDensityFactor     float64 // (1.3)
	OverrunThresholdMin  float64 // (10) average overrun that widens the after buffer
	OverrunAfterFactor   float64 // (1.5)

	// Caller-supplied schedule signals consumed by the dynamic strategy.
	ScheduleDensity   float64
	AvgOverrunMinutes float64
}

const (
	defaultHighDensityThreshold = 0.8
	defaultLowDensityThreshold  = 0.4
	defaultHighDensityFactor    = 0.8
	defaultLowDensityFactor     = 1.3
	defaultOverrunThresholdMin  = 10
	defaultOverrunAfterFactor   = 1.5
)

// Calculate returns the buffer window for an appointment occupying
// [start, end) of the given meeting type. The result satisfies
// EffectiveStart <= start < end <= EffectiveEnd.
func Calculate(start, end time.Time, meetingType string, pref Preference) domain.BufferWindow {
	duration := end.Sub(start).Minutes()

	before := float64(pref.BeforeMinutes)
	after := float64(pref.AfterMinutes)

	switch pref.Strategy {
	case domain.BufferStrategyPercentage:
		before = math.Round(duration * pref.Fraction)
		after = before
	case domain.BufferStrategyAdaptive:
		before, after = adaptive(start, end, duration, meetingType, before, after, pref)
	case domain.BufferStrategyDynamic:
		before, after = adaptive(start, end, duration, meetingType, before, after, pref)
		before, after = dynamic(before, after, pref)
	}

	if min, ok := pref.TypeMinimums[meetingType]; ok {
		before = math.Max(before, float64(min))
		after = math.Max(after, float64(min))
	}

	before = clamp(before, pref.MinMinutes, pref.MaxMinutes)
	after = clamp(after, pref.MinMinutes, pref.MaxMinutes)

	beforeMin := int(math.Round(before))
	afterMin := int(math.Round(after))

	return domain.BufferWindow{
		BeforeMinutes:  beforeMin,
		AfterMinutes:   afterMin,
		EffectiveStart: start.Add(-time.Duration(beforeMin) * time.Minute),
		EffectiveEnd:   end.Add(time.Duration(afterMin) * time.Minute),
		Strategy:       pref.Strategy,
	}
}

func adaptive(start, end time.Time, duration float64, meetingType string, before, after float64, pref Preference) (float64, float64) {
	switch {
	case duration > 60:
		before *= 1.5
		after *= 1.3
	case duration < 30:
		before *= 0.8
		after *= 0.8
	}

	if offHours(start, end) {
		before *= 1.2
		after *= 1.2
	}

	if mult, ok := pref.TypeMultipliers[meetingType]; ok && mult > 0 {
		before *= mult
		after *= mult
	}

	return before, after
}

func dynamic(before, after float64, pref Preference) (float64, float64) {
	high := defaulted(pref.HighDensityThreshold, defaultHighDensityThreshold)
	low := defaulted(pref.LowDensityThreshold, defaultLowDensityThreshold)
	highFactor := defaulted(pref.HighDensityFactor, defaultHighDensityFactor)
	lowFactor := defaulted(pref.LowDensityFactor, defaultLowDensityFactor)
	overrunAt := defaulted(pref.OverrunThresholdMin, defaultOverrunThresholdMin)
	overrunFactor := defaulted(pref.OverrunAfterFactor, defaultOverrunAfterFactor)

	switch {
	case pref.ScheduleDensity > high:
		before *= highFactor
		after *= highFactor
	case pref.ScheduleDensity < low:
		before *= lowFactor
		after *= lowFactor
	}

	if pref.AvgOverrunMinutes > overrunAt {
		after *= overrunFactor
	}

	return before, after
}

// offHours reports whether any part of the interval falls outside
// 09:00-17:00 of the interval's own wall clock.
func offHours(start, end time.Time) bool {
	if start.Hour() < 9 {
		return true
	}
	if end.Hour() > 17 || (end.Hour() == 17 && end.Minute() > 0) {
		return true
	}
	return false
}

func clamp(v float64, minMinutes, maxMinutes int) float64 {
	if v < float64(minMinutes) {
		v = float64(minMinutes)
	}
	if maxMinutes > 0 && v > float64(maxMinutes) {
		v = float64(maxMinutes)
	}
	return v
}

func defaulted(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
