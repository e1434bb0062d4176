package template

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

// Rules are agreement switches copied onto every license created from the
// template.
type Rules struct {
	// AccessFree licenses cost nothing and are active on creation.
	AccessFree bool `json:"access_free" bson:"access_free"`
	// BackofficePayment licenses are paid outside the platform: they are
	// active on creation and renew without a charge.
	BackofficePayment bool `json:"backoffice_payment" bson:"backoffice_payment"`
	// OneTimeUse licenses never auto-renew.
	OneTimeUse bool `json:"one_time_use" bson:"one_time_use"`
	// Trial marks a trial offer; trials never auto-renew.
	Trial bool `json:"trial" bson:"trial"`
	// InitialPrice is added to the first payment only.
	InitialPrice types.Money `json:"initial_price" bson:"initial_price" validate:"nonneg_money"`
}

// Template is a reusable purchasable configuration.
type Template struct {
	types.Entity
	ID               id.TemplateID     `json:"id"`
	AppID            string            `json:"app_id" validate:"required"`
	SKU              string            `json:"sku" validate:"required,max=64"`
	Name             string            `json:"name" validate:"required,max=200"`
	Description      string            `json:"description,omitempty"`
	Terms            policy.Terms      `json:"terms"`
	Rules            Rules             `json:"rules"`
	Enabled          bool              `json:"enabled"`
	Visible          bool              `json:"visible"`
	ControlInstances bool              `json:"control_instances"`
	Starts           *time.Time        `json:"starts,omitempty"`
	Expires          *time.Time        `json:"expires,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// IsAvailable reports whether the template can be purchased at now.
func (t *Template) IsAvailable(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	if t.Starts != nil && now.Before(*t.Starts) {
		return false
	}
	if t.Expires != nil && !now.Before(*t.Expires) {
		return false
	}
	return true
}

// Validate checks struct tags and the offer window.
func (t *Template) Validate() error {
	if err := types.Validate(t); err != nil {
		return err
	}
	if t.Starts != nil && t.Expires != nil && !t.Starts.Before(*t.Expires) {
		return types.ValidationError{Field: "expires", Message: "must be after starts"}
	}
	return nil
}

// Apply pins the terms the rules dictate, whatever the tiers say.
func (r Rules) Apply(eff *policy.Effective) {
	if r.AccessFree {
		eff.Price = types.Zero(eff.Price.Currency)
	}
	if r.OneTimeUse || r.Trial {
		eff.AutoRenew = false
	}
}

// Effective resolves the template's own terms over defaults, as a license
// without overrides would see them.
func (t *Template) Effective(defaults *policy.Terms) policy.Effective {
	terms := t.Terms
	eff := policy.Resolve(nil, nil, &terms, defaults, 1)
	t.Rules.Apply(&eff)
	return eff
}
