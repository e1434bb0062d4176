package period

import "time"

// GraceFunc returns how long access continues past a period end while a
// renewal payment is outstanding. The billing side owns grace policy and
// injects it; nil means no grace.
type GraceFunc func(periodEnd time.Time) time.Duration

// NoGrace is a GraceFunc that allows no grace at all.
func NoGrace(time.Time) time.Duration { return 0 }

// FixedGrace returns a GraceFunc with a constant grace duration.
func FixedGrace(d time.Duration) GraceFunc {
	return func(time.Time) time.Duration { return d }
}

// Window is one license period. End is nil for a perpetual period
// without a fixed end.
type Window struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Compute returns the window that starts at start. A non-nil fixedEnd is
// a hard ceiling: the end never passes it, and a perpetual spec ends on it.
func Compute(start time.Time, spec Spec, fixedEnd *time.Time) Window {
	w := Window{Start: start}
	if spec.IsPerpetual() {
		w.End = copyTime(fixedEnd)
		return w
	}
	end := spec.AddTo(start)
	if fixedEnd != nil && fixedEnd.Before(end) {
		end = *fixedEnd
	}
	w.End = &end
	return w
}

// RenewOutcome says what Renew decided.
type RenewOutcome int

const (
	// Renewed means a new window was produced.
	Renewed RenewOutcome = iota
	// Exhausted means the maximum number of renewals has been used.
	Exhausted
	// PastFixedEnd means the previous period already reached the fixed end.
	PastFixedEnd
	// Unbounded means the spec is perpetual: the next window, if any, has
	// no length of its own.
	Unbounded
	// NoRenewal means the current window never ended, so there is nothing
	// to renew.
	NoRenewal
)

func (o RenewOutcome) String() string {
	switch o {
	case Renewed:
		return "renewed"
	case Exhausted:
		return "exhausted"
	case PastFixedEnd:
		return "past_fixed_end"
	case Unbounded:
		return "unbounded"
	case NoRenewal:
		return "no_renewal"
	default:
		return "unknown"
	}
}

// Renew computes the period following current. The new period starts at
// the previous end, not at the time of processing, so late ticks do not
// drift the schedule. spec is the currently effective spec; edits apply
// from the next period on. maxRenewals <= 0 means unlimited.
//
// A perpetual spec on renewal produces a window ending at fixedEnd, or an
// open one, with outcome Unbounded. A current window that never ended
// yields NoRenewal.
func Renew(current Window, spec Spec, fixedEnd *time.Time, renewalCount, maxRenewals int) (Window, RenewOutcome) {
	if current.End == nil {
		return current, NoRenewal
	}
	if maxRenewals > 0 && renewalCount+1 > maxRenewals {
		return current, Exhausted
	}
	if fixedEnd != nil && !current.End.Before(*fixedEnd) {
		return current, PastFixedEnd
	}
	next := Compute(*current.End, spec, fixedEnd)
	if spec.IsPerpetual() {
		return next, Unbounded
	}
	return next, Renewed
}

// IsPerpetual reports whether the window never ends.
func (w Window) IsPerpetual() bool { return w.End == nil }

// Elapsed reports whether the period end has been reached at now.
func (w Window) Elapsed(now time.Time) bool {
	return w.End != nil && !now.Before(*w.End)
}

// Contains reports whether now falls inside the window, extended past its
// end by grace.
func (w Window) Contains(now time.Time, grace GraceFunc) bool {
	if now.Before(w.Start) {
		return false
	}
	if w.End == nil {
		return true
	}
	end := *w.End
	if grace != nil {
		end = end.Add(grace(end))
	}
	return now.Before(end)
}

// AccessEnd returns the end of the window extended by grace, or nil for
// a perpetual window.
func (w Window) AccessEnd(grace GraceFunc) *time.Time {
	if w.End == nil {
		return nil
	}
	end := *w.End
	if grace != nil {
		end = end.Add(grace(end))
	}
	return &end
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
