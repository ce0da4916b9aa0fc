package generic

import "time"

// =============================================================================
// DATE RANGE - Inclusive filter window for rollups
// =============================================================================

// DateRange is an inclusive [Start, End] window. A nil bound is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains returns true if t is within [Start, End].
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Validate rejects ranges whose end is before their start.
func (r DateRange) Validate() error {
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return &ValidationError{Field: "end", Reason: ErrInvalidRange.Error()}
	}
	return nil
}

func (r DateRange) String() string {
	format := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.Format(time.RFC3339)
	}
	return "[" + format(r.Start) + ", " + format(r.End) + "]"
}

// LastDays returns the range covering the start of the day n days before now
// through the end of today.
func LastDays(now time.Time, n int) DateRange {
	start := StartOfDay(now.AddDate(0, 0, -n))
	end := EndOfDay(now)
	return DateRange{Start: &start, End: &end}
}
