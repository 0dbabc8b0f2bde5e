package domain

import "time"

// Overlaps is the single interval test used everywhere a collision is
// checked: two half-open intervals [aStart, aEnd) and [bStart, bEnd)
// intersect iff each starts before the other ends.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// OverlapMinutes returns the length of the intersection of two
// intervals in whole minutes, or zero when they do not intersect.
func OverlapMinutes(aStart, aEnd, bStart, bEnd time.Time) int {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}
