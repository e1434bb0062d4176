package entitlement

import (
	"time"

	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/id"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonLicense     Reason = "license"
	ReasonFreeAccess  Reason = "free_access"
	ReasonNotVisible  Reason = "not_visible"
	ReasonNoLicense   Reason = "no_active_license"
	ReasonNotCovered  Reason = "not_covered"
	ReasonUserMissing Reason = "user_not_covered"
)

// Decision is the answer to an access check.
type Decision struct {
	Allowed         bool         `json:"allowed"`
	GrantingLicense id.LicenseID `json:"granting_license,omitempty"`
	Reason          Reason       `json:"reason"`
	Revision        int64        `json:"revision"`

	// ValidUntil is when the granting license's window, grace included,
	// closes. Nil for decisions that do not depend on a period.
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// ExpiredAt reports whether the decision no longer holds at now.
func (d Decision) ExpiredAt(now time.Time) bool {
	return d.ValidUntil != nil && !now.Before(*d.ValidUntil)
}

// FreeAccessPolicy reports whether an item is open to everyone, license
// or not.
type FreeAccessPolicy func(item content.Item) bool

// ItemFlag grants free access to items carrying the FreeAccess flag.
func ItemFlag(item content.Item) bool { return item.FreeAccess }

// FreeTenants grants free access to every item of the given tenants, in
// addition to flagged items.
func FreeTenants(appIDs ...string) FreeAccessPolicy {
	free := make(map[string]bool, len(appIDs))
	for _, a := range appIDs {
		free[a] = true
	}
	return func(item content.Item) bool {
		return item.FreeAccess || free[item.AppID]
	}
}
