package license

import (
	"slices"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

type PurchaseType string

const (
	PurchaseCheckout   PurchaseType = "purchase"
	PurchaseCoupon     PurchaseType = "coupon"
	PurchaseBackoffice PurchaseType = "backoffice"
	PurchaseFree       PurchaseType = "free"
)

type SuspendReason string

const (
	SuspendAdmin  SuspendReason = "admin"
	SuspendUnpaid SuspendReason = "unpaid_renewal"
)

// PendingCharge is the renewal payment a Renewing license waits for.
type PendingCharge struct {
	Amount   types.Money `json:"amount" bson:"amount"`
	Deadline time.Time   `json:"deadline" bson:"deadline"`
}

// HistoryEntry is one line of a license's append-only history.
type HistoryEntry struct {
	At     time.Time `json:"at" bson:"at"`
	Event  string    `json:"event" bson:"event"`
	Detail string    `json:"detail,omitempty" bson:"detail,omitempty"`
}

// License is a concrete grant of a template to an account.
//
// Overridable terms live in three tiers: Overrides are explicit per-license
// edits, CouponTerms are frozen at coupon redemption and Inherited is the
// template snapshot taken at creation. Version fences every update.
type License struct {
	types.Entity
	ID         id.LicenseID  `json:"id"`
	AppID      string        `json:"app_id"`
	AccountID  id.AccountID  `json:"account_id"`
	TemplateID id.TemplateID `json:"template_id"`
	CouponID   id.CouponID   `json:"coupon_id"`

	Overrides   policy.Terms   `json:"overrides"`
	CouponTerms policy.Terms   `json:"coupon_terms"`
	Inherited   policy.Terms   `json:"inherited"`
	Rules       template.Rules `json:"rules"`

	State         State          `json:"state"`
	SuspendReason SuspendReason  `json:"suspend_reason,omitempty"`
	Activated     bool           `json:"activated"`
	PeriodStart   time.Time      `json:"period_start"`
	PeriodEnd     *time.Time     `json:"period_end,omitempty"`
	RenewalCount  int            `json:"renewal_count"`
	Tokens        []string       `json:"tokens,omitempty"`
	PendingCharge *PendingCharge `json:"pending_charge,omitempty"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty"`
	NextCheck     *time.Time     `json:"next_check,omitempty"`

	Ledger       meter.Ledger `json:"ledger"`
	Units        int          `json:"units"`
	PurchaseType PurchaseType `json:"purchase_type"`

	GALicense  bool     `json:"ga_license"`
	GAUsers    []string `json:"ga_users,omitempty"`
	GAUsersMax int      `json:"ga_users_max"`

	History  []HistoryEntry    `json:"history,omitempty"`
	Version  int64             `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Effective resolves the license's terms over defaults and applies the
// agreement rules.
func (l *License) Effective(defaults *policy.Terms) policy.Effective {
	eff := policy.Resolve(&l.Overrides, &l.CouponTerms, &l.Inherited, defaults, l.Units)
	l.Rules.Apply(&eff)
	return eff
}

// Window returns the current period.
func (l *License) Window() period.Window {
	return period.Window{Start: l.PeriodStart, End: l.PeriodEnd}
}

// AmountDue is the price of the next payment: the effective price, plus
// the initial price on the very first payment. Free licenses owe nothing.
func (l *License) AmountDue(eff policy.Effective) types.Money {
	if l.Rules.AccessFree {
		return types.Zero(eff.Price.Currency)
	}
	due := eff.Price
	if !l.Activated && l.RenewalCount == 0 && l.Rules.InitialPrice.IsPositive() {
		due = due.Add(l.Rules.InitialPrice)
	}
	return due
}

// RenewalChargeRequired reports whether renewing needs a payment.
func (l *License) RenewalChargeRequired(eff policy.Effective) bool {
	if l.Rules.AccessFree || l.Rules.BackofficePayment {
		return false
	}
	return eff.Price.IsPositive()
}

// HasToken reports whether a payment token was already applied.
func (l *License) HasToken(token string) bool {
	return token != "" && slices.Contains(l.Tokens, token)
}

// AddHistory appends an entry to the history log.
func (l *License) AddHistory(now time.Time, event, detail string) {
	l.History = append(l.History, HistoryEntry{At: now, Event: event, Detail: detail})
}

// ComputeNextCheck records when the license next needs a tick, so that due
// scans can find it without resolving terms.
func (l *License) ComputeNextCheck(eff policy.Effective) {
	var next *time.Time
	earliest := func(t *time.Time) {
		if t != nil && (next == nil || t.Before(*next)) {
			c := *t
			next = &c
		}
	}

	switch l.State {
	case StateActive:
		earliest(l.PeriodEnd)
		earliest(eff.AccessEnd)
	case StateRenewing:
		if l.PendingCharge != nil {
			earliest(&l.PendingCharge.Deadline)
		}
		earliest(eff.AccessEnd)
	case StatePending, StateSuspended:
		earliest(eff.AccessEnd)
	}
	l.NextCheck = next
}
