// Package license holds the license instance and its lifecycle state
// machine. Every transition is a pure method taking the current time and
// the effective terms; persistence and retries belong to the engine.
package license

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

// Action says what a Tick did.
type Action string

const (
	ActionNone       Action = ""
	ActionRenewed    Action = "renewed"
	ActionRenewalDue Action = "renewal_due"
	ActionSuspended  Action = "suspended"
	ActionExpired    Action = "expired"
)

func (l *License) moveTo(to State) error {
	if !CanTransition(l.State, to) {
		return &types.TransitionError{From: string(l.State), To: string(to)}
	}
	l.State = to
	return nil
}

// Activate moves a pending license to Active once amount matches due.
// Re-applying a token that was already used changes nothing and reports
// false. A mismatched amount returns *types.PaymentMismatchError and leaves
// the license untouched.
func (l *License) Activate(token string, amount, due types.Money, eff policy.Effective, now time.Time) (bool, error) {
	if l.HasToken(token) {
		return false, nil
	}
	if l.State != StatePending {
		return false, &types.TransitionError{From: string(l.State), To: string(StateActive)}
	}
	if !amount.Equal(due) {
		return false, &types.PaymentMismatchError{LicenseID: l.ID.String(), Expected: due, Got: amount}
	}

	w := period.Compute(now, eff.Period, eff.AccessEnd)
	if w.Elapsed(now) {
		if err := l.moveTo(StateExpired); err != nil {
			return false, err
		}
		l.recordToken(token)
		l.AddHistory(now, "expired", "access end passed before activation")
		return true, nil
	}

	if err := l.moveTo(StateActive); err != nil {
		return false, err
	}
	l.recordToken(token)
	l.Activated = true
	l.PeriodStart = w.Start
	l.PeriodEnd = w.End
	l.Ledger.PeriodStart = w.Start
	l.AddHistory(now, "activated", fmt.Sprintf("token=%s amount=%s", token, amount))
	return true, nil
}

// Tick advances the license to now. It only acts on an Active license
// whose period has ended, a Renewing license whose charge deadline has
// passed, or any live license past its access end, so repeated ticks are
// safe. chargeDue tells whether renewing needs a payment.
func (l *License) Tick(now time.Time, eff policy.Effective, grace period.GraceFunc, chargeDue bool) Action {
	if l.State.IsTerminal() {
		return ActionNone
	}
	if eff.AccessEnd != nil && !now.Before(*eff.AccessEnd) {
		l.expire(now, "access end passed")
		return ActionExpired
	}

	switch l.State {
	case StateActive:
		if !l.Window().Elapsed(now) {
			return ActionNone
		}
		if !eff.AutoRenew {
			l.expire(now, "period ended without auto-renew")
			return ActionExpired
		}
		if !chargeDue {
			return l.renew(now, eff)
		}
		if _, outcome := l.nextWindow(eff); outcome == period.Exhausted || outcome == period.PastFixedEnd {
			l.expire(now, "no renewals left: "+outcome.String())
			return ActionExpired
		}
		end := *l.PeriodEnd
		deadline := end
		if grace != nil {
			deadline = end.Add(grace(end))
		}
		_ = l.moveTo(StateRenewing) //nolint:errcheck // Active to Renewing is always allowed
		l.PendingCharge = &PendingCharge{Amount: l.AmountDue(eff), Deadline: deadline}
		l.AddHistory(now, "renewal_due", fmt.Sprintf("amount=%s deadline=%s", l.PendingCharge.Amount, deadline.Format(time.RFC3339)))
		return ActionRenewalDue

	case StateRenewing:
		if l.PendingCharge == nil || now.Before(l.PendingCharge.Deadline) {
			return ActionNone
		}
		_ = l.moveTo(StateSuspended) //nolint:errcheck // Renewing to Suspended is always allowed
		l.SuspendReason = SuspendUnpaid
		l.AddHistory(now, "suspended", "renewal charge not received")
		return ActionSuspended
	}

	return ActionNone
}

// ConfirmRenewal applies a renewal payment to a Renewing license, or to a
// license suspended for not paying one.
func (l *License) ConfirmRenewal(token string, amount types.Money, eff policy.Effective, now time.Time) (Action, error) {
	if l.HasToken(token) {
		return ActionNone, nil
	}
	awaiting := l.State == StateRenewing || (l.State == StateSuspended && l.SuspendReason == SuspendUnpaid)
	if !awaiting || l.PendingCharge == nil {
		return ActionNone, &types.TransitionError{From: string(l.State), To: string(StateActive)}
	}
	if !amount.Equal(l.PendingCharge.Amount) {
		return ActionNone, &types.PaymentMismatchError{LicenseID: l.ID.String(), Expected: l.PendingCharge.Amount, Got: amount}
	}
	l.recordToken(token)
	return l.renew(now, eff), nil
}

// renew rolls the license into its next period. It is the only caller of
// Ledger.Reset.
func (l *License) renew(now time.Time, eff policy.Effective) Action {
	next, outcome := l.nextWindow(eff)
	switch outcome {
	case period.Exhausted, period.PastFixedEnd:
		l.expire(now, "no renewals left: "+outcome.String())
		return ActionExpired
	case period.NoRenewal:
		return ActionNone
	}

	if err := l.moveTo(StateActive); err != nil {
		return ActionNone
	}
	l.PeriodStart = next.Start
	l.PeriodEnd = next.End
	l.RenewalCount++
	l.PendingCharge = nil
	l.SuspendReason = ""
	l.Ledger.Reset(next.Start)
	l.AddHistory(now, "renewed", fmt.Sprintf("renewal=%d period=%s", l.RenewalCount, eff.Period))
	return ActionRenewed
}

func (l *License) nextWindow(eff policy.Effective) (period.Window, period.RenewOutcome) {
	return period.Renew(l.Window(), eff.Period, eff.AccessEnd, l.RenewalCount, eff.MaxRenewals)
}

func (l *License) expire(now time.Time, detail string) {
	if err := l.moveTo(StateExpired); err != nil {
		return
	}
	l.PendingCharge = nil
	l.AddHistory(now, "expired", detail)
}

// Suspend disables an Active license. Suspending a suspended license is
// a no-op.
func (l *License) Suspend(reason string, now time.Time) (bool, error) {
	if l.State == StateSuspended {
		return false, nil
	}
	if l.State != StateActive {
		return false, &types.TransitionError{From: string(l.State), To: string(StateSuspended)}
	}
	_ = l.moveTo(StateSuspended) //nolint:errcheck // checked above
	l.SuspendReason = SuspendAdmin
	l.AddHistory(now, "suspended", reason)
	return true, nil
}

// Resume re-enables a license suspended by an admin. Licenses suspended
// for an unpaid renewal resume through ConfirmRenewal.
func (l *License) Resume(now time.Time) (bool, error) {
	if l.State == StateActive {
		return false, nil
	}
	if l.State != StateSuspended || l.SuspendReason != SuspendAdmin {
		return false, &types.TransitionError{From: string(l.State), To: string(StateActive)}
	}
	_ = l.moveTo(StateActive) //nolint:errcheck // checked above
	l.SuspendReason = ""
	l.AddHistory(now, "resumed", "")
	return true, nil
}

// Cancel ends the license for good. Cancelling twice is a no-op.
func (l *License) Cancel(reason string, now time.Time) (bool, error) {
	if l.State == StateCancelled {
		return false, nil
	}
	if err := l.moveTo(StateCancelled); err != nil {
		return false, err
	}
	l.PendingCharge = nil
	l.CancelledAt = &now
	l.AddHistory(now, "cancelled", reason)
	return true, nil
}

// IsEffectivelyActive reports whether the license grants access at now.
// A Renewing license keeps access until its period end plus grace.
// Quota exhaustion is checked here rather than persisted as a state, so a
// quota increase takes effect at once.
func (l *License) IsEffectivelyActive(now time.Time, eff policy.Effective, grace period.GraceFunc) bool {
	if l.State != StateActive && l.State != StateRenewing {
		return false
	}
	if !l.Activated || l.Ledger.AnyExhausted(eff.Quotas) {
		return false
	}
	return l.Window().Contains(now, grace)
}

// Covers reports whether userID may use the license. Only licenses of
// group accounts gate by user: a group-wide license covers every member,
// otherwise the user must have been invited.
func (l *License) Covers(userID string, groupAccount bool) bool {
	if !groupAccount || l.GALicense {
		return true
	}
	return userID != "" && slices.Contains(l.GAUsers, userID)
}

// Invite adds userID to the license's users. It reports false when the
// user is already covered and fails when the user cap is reached.
func (l *License) Invite(userID string, now time.Time) (bool, error) {
	if userID == "" {
		return false, types.ValidationError{Field: "user_id", Message: "user id is required"}
	}
	if l.State.IsTerminal() {
		return false, &types.TransitionError{From: string(l.State), To: string(l.State)}
	}
	if l.GALicense || slices.Contains(l.GAUsers, userID) {
		return false, nil
	}
	if l.GAUsersMax > 0 && len(l.GAUsers) >= l.GAUsersMax {
		return false, types.ValidationError{
			Field:   "ga_users_max",
			Message: fmt.Sprintf("license already has %d of %d users", len(l.GAUsers), l.GAUsersMax),
		}
	}
	l.GAUsers = append(l.GAUsers, userID)
	l.AddHistory(now, "user_invited", userID)
	return true, nil
}

// SetOverride edits the explicit override tier. Ledger counters are never
// touched.
func (l *License) SetOverride(field policy.Field, value any, now time.Time) error {
	if l.State.IsTerminal() {
		return types.ValidationError{Field: string(field), Message: "license is " + string(l.State)}
	}
	if err := l.Overrides.Set(field, value); err != nil {
		return err
	}
	l.AddHistory(now, "override", fmt.Sprintf("%s=%v", field, value))
	return nil
}

func (l *License) recordToken(token string) {
	if token != "" {
		l.Tokens = append(l.Tokens, token)
	}
}
