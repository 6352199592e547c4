package schedule

import "time"

// Rule names the same-account rule that produced a decision.
type Rule string

const (
	RuleFirst          Rule = "first"           // store was empty
	RuleCreated        Rule = "created"         // no same-account constraint applied
	RuleSpacing        Rule = "spacing"         // pushed past the previous same-account entry
	RuleLowThrottle    Rule = "low_throttle"    // Low moved to the next allowed day
	RuleLowRelease     Rule = "low_release"     // Low released at creation after a full throttle gap
	RuleLowFirstSpaced Rule = "low_first_space" // first Low on an account with prior High entries
)

// Decision explains how a delivery time was picked.
type Decision struct {
	At time.Time
	// Floor is the time chosen by the same-account rules, before the
	// cross-account pass.
	Floor  time.Time
	Rule   Rule
	Shifts int // cross-account adjustments applied
}

// Resolver computes delivery times. It only reads the Store.
type Resolver struct {
	policy Policy
}

func NewResolver(p Policy) *Resolver {
	return &Resolver{policy: p.withDefaults()}
}

func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the delivery time for n given the entries already in s.
// n must not be in s yet.
func (r *Resolver) Resolve(n Notification, s *Store) time.Time {
	return r.Explain(n, s).At
}

// Explain is Resolve with the reasoning attached.
func (r *Resolver) Explain(n Notification, s *Store) Decision {
	if s == nil || s.Len() == 0 {
		return Decision{At: n.Created, Floor: n.Created, Rule: RuleFirst}
	}

	t, rule := r.sameAccount(n, s.ByAccount(n.Account))
	at, shifts := r.crossAccount(t, s.OtherAccounts(n.Account))
	return Decision{At: at, Floor: t, Rule: rule, Shifts: shifts}
}

// sameAccount applies the per-account rules. own is sorted by ScheduledAt.
func (r *Resolver) sameAccount(n Notification, own []Entry) (time.Time, Rule) {
	t := n.Created
	if len(own) == 0 {
		return t, RuleCreated
	}

	if n.Priority == PriorityLow {
		lastLow, ok := lastOfPriority(own, PriorityLow)
		if ok {
			if n.Created.Sub(lastLow.ScheduledAt) >= r.policy.lowThrottleGap() {
				return n.Created, RuleLowRelease
			}
			return r.policy.addDays(lastLow.ScheduledAt, r.policy.LowThrottleDays), RuleLowThrottle
		}
		floor := own[len(own)-1].ScheduledAt.Add(r.policy.SameAccountSpacing)
		if floor.After(t) {
			return floor, RuleLowFirstSpaced
		}
		return t, RuleCreated
	}

	// High: spacing applies after any High entry and after Low entries that
	// land on the same calendar day as this notification was created.
	var (
		last  time.Time
		found bool
	)
	for _, e := range own {
		relevant := e.Notification.Priority == PriorityHigh ||
			(e.Notification.Priority == PriorityLow && r.policy.sameDate(e.ScheduledAt, n.Created))
		if !relevant {
			continue
		}
		if !found || e.ScheduledAt.After(last) {
			last, found = e.ScheduledAt, true
		}
	}
	if !found {
		return t, RuleCreated
	}
	floor := last.Add(r.policy.SameAccountSpacing)
	if floor.After(t) {
		return floor, RuleSpacing
	}
	return t, RuleCreated
}

// crossAccount makes one forward pass over other accounts' entries (sorted
// by ScheduledAt). A shift is not re-checked against entries already
// passed.
func (r *Resolver) crossAccount(t time.Time, others []Entry) (time.Time, int) {
	guard := r.policy.CrossAccountGuard
	shifts := 0
	for _, e := range others {
		if absDuration(t.Sub(e.ScheduledAt)) < guard {
			t = e.ScheduledAt.Add(guard)
			shifts++
		}
	}
	return t, shifts
}

// lastOfPriority returns the last entry with priority p in ascending order.
func lastOfPriority(es []Entry, p Priority) (Entry, bool) {
	for i := len(es) - 1; i >= 0; i-- {
		if es[i].Notification.Priority == p {
			return es[i], true
		}
	}
	return Entry{}, false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
