package plugin

import (
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

// OverageDue asks the billing collaborator to charge for usage beyond the
// base quota. It is sent for every applied usage record that leaves
// overage. Units and Amount cover only the increments that record crossed
// into, zero when it stayed inside an increment already charged, so
// consumers may add them up. TotalUnits and TotalAmount are the period's
// running totals after the record.
type OverageDue struct {
	ID          id.EventID   `json:"id"`
	LicenseID   id.LicenseID `json:"license_id"`
	AccountID   id.AccountID `json:"account_id"`
	AppID       string       `json:"app_id"`
	Kind        meter.Kind   `json:"kind"`
	Units       int64        `json:"units"`
	Amount      types.Money  `json:"amount"`
	TotalUnits  int64        `json:"total_units"`
	TotalAmount types.Money  `json:"total_amount"`
	PeriodStart time.Time    `json:"period_start"`
	At          time.Time    `json:"at"`
}

// RenewalDue asks the billing collaborator to charge for a renewal before
// Deadline.
type RenewalDue struct {
	ID        id.EventID   `json:"id"`
	LicenseID id.LicenseID `json:"license_id"`
	AccountID id.AccountID `json:"account_id"`
	AppID     string       `json:"app_id"`
	Amount    types.Money  `json:"amount"`
	Deadline  time.Time    `json:"deadline"`
	At        time.Time    `json:"at"`
}

// UsageRecorded describes an applied usage record.
type UsageRecorded struct {
	LicenseID id.LicenseID `json:"license_id"`
	AccountID id.AccountID `json:"account_id"`
	Kind      meter.Kind   `json:"kind"`
	Amount    int64        `json:"amount"`
	Used      int64        `json:"used"`
	EventID   string       `json:"event_id"`
}

// AccessChecked describes an access decision.
type AccessChecked struct {
	AccountID id.AccountID         `json:"account_id"`
	UserID    string               `json:"user_id,omitempty"`
	ItemID    string               `json:"item_id"`
	Decision  entitlement.Decision `json:"decision"`
	Elapsed   time.Duration        `json:"elapsed"`
}

// OverrideSet describes an override edit.
type OverrideSet struct {
	TargetID id.ID        `json:"target_id"`
	Field    policy.Field `json:"field"`
	Value    any          `json:"value"`
}
