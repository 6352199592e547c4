package schedule

import "time"

const (
	DefaultSameAccountSpacing = time.Minute
	DefaultLowThrottleDays    = 1
	DefaultCrossAccountGuard  = 10 * time.Second
)

// Policy holds the spacing knobs. Zero fields fall back to the defaults.
type Policy struct {
	// SameAccountSpacing is the minimum gap after the previous relevant entry
	// of the same account.
	SameAccountSpacing time.Duration
	// LowThrottleDays is how many calendar days apart Low notifications of
	// one account are kept.
	LowThrottleDays int
	// CrossAccountGuard is the minimum distance to entries of other accounts.
	CrossAccountGuard time.Duration
	// Location is used for calendar dates and day arithmetic. Nil means each
	// timestamp is read in its own location.
	Location *time.Location
}

// DefaultPolicy returns the stock policy (1m / 1 day / 10s).
func DefaultPolicy() Policy {
	return Policy{
		SameAccountSpacing: DefaultSameAccountSpacing,
		LowThrottleDays:    DefaultLowThrottleDays,
		CrossAccountGuard:  DefaultCrossAccountGuard,
	}
}

func (p Policy) withDefaults() Policy {
	if p.SameAccountSpacing <= 0 {
		p.SameAccountSpacing = DefaultSameAccountSpacing
	}
	if p.LowThrottleDays <= 0 {
		p.LowThrottleDays = DefaultLowThrottleDays
	}
	if p.CrossAccountGuard <= 0 {
		p.CrossAccountGuard = DefaultCrossAccountGuard
	}
	return p
}

// lowThrottleGap is the elapsed time after which a Low notification is
// released at its own creation time.
func (p Policy) lowThrottleGap() time.Duration {
	return time.Duration(p.LowThrottleDays) * 24 * time.Hour
}

func (p Policy) local(t time.Time) time.Time {
	if p.Location != nil {
		return t.In(p.Location)
	}
	return t
}

// sameDate reports whether a and b fall on the same calendar date.
func (p Policy) sameDate(a, b time.Time) bool {
	ay, am, ad := p.local(a).Date()
	by, bm, bd := p.local(b).Date()
	return ay == by && am == bm && ad == bd
}

// addDays moves t by n calendar days keeping the wall-clock time of day.
// Across a DST change this differs from t.Add(n*24h).
func (p Policy) addDays(t time.Time, n int) time.Time {
	lt := p.local(t)
	y, m, d := lt.Date()
	return time.Date(y, m, d+n, lt.Hour(), lt.Minute(), lt.Second(), lt.Nanosecond(), lt.Location())
}
