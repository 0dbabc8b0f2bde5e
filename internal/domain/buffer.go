package domain

import "time"

type BufferStrategy string

const (
	BufferStrategyFixed      BufferStrategy = "fixed"
	BufferStrategyPercentage BufferStrategy = "percentage"
	BufferStrategyAdaptive   BufferStrategy = "adaptive"
	BufferStrategyDynamic    BufferStrategy = "dynamic"
)

// BufferWindow is the padding reserved around an appointment's core
// interval. EffectiveStart <= core start and EffectiveEnd >= core end
// always hold.
type BufferWindow struct {
	BeforeMinutes  int
	AfterMinutes   int
	EffectiveStart time.Time
	EffectiveEnd   time.Time
	Strategy       BufferStrategy
}
