package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/template"
)

// Entities are kept as an embedded "data" sub-document converted from their
// JSON form, next to the top-level fields the store filters or fences on.
// Top-level fields win over the sub-document.

func decode[T any](data bson.Raw) (*T, error) {
	out := new(T)
	if len(data) == 0 {
		return out, nil
	}
	raw, err := bson.MarshalExtJSON(data, false, false)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: decode %T: %w", out, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("entitle/mongo: decode %T: %w", out, err)
	}
	return out, nil
}

func encode(v any) (bson.Raw, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: encode %T: %w", v, err)
	}
	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("entitle/mongo: encode %T: %w", v, err)
	}
	return doc, nil
}

// ==================== Template models ====================

type templateModel struct {
	grove.BaseModel `grove:"table:entitle_templates"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	AppID     string    `grove:"app_id"     bson:"app_id"`
	SKU       string    `grove:"sku"        bson:"sku"`
	Enabled   bool      `grove:"enabled"    bson:"enabled"`
	Data      bson.Raw  `grove:"data"       bson:"data"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toTemplateModel(t *template.Template) (*templateModel, error) {
	data, err := encode(t)
	if err != nil {
		return nil, err
	}
	return &templateModel{
		ID:        t.ID.String(),
		AppID:     t.AppID,
		SKU:       t.SKU,
		Enabled:   t.Enabled,
		Data:      data,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func fromTemplateModel(m *templateModel) (*template.Template, error) {
	t, err := decode[template.Template](m.Data)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, t.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return t, nil
}

// ==================== Coupon models ====================

type couponModel struct {
	grove.BaseModel `grove:"table:entitle_coupons"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	AppID       string    `grove:"app_id"       bson:"app_id"`
	Code        string    `grove:"code"         bson:"code"`
	TemplateID  string    `grove:"template_id"  bson:"template_id"`
	Enabled     bool      `grove:"enabled"      bson:"enabled"`
	UsesMax     int       `grove:"uses_max"     bson:"uses_max"`
	UsesCurrent int       `grove:"uses_current" bson:"uses_current"`
	Data        bson.Raw  `grove:"data"         bson:"data"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toCouponModel(c *coupon.Coupon) (*couponModel, error) {
	data, err := encode(c)
	if err != nil {
		return nil, err
	}
	return &couponModel{
		ID:          c.ID.String(),
		AppID:       c.AppID,
		Code:        c.Code,
		TemplateID:  c.TemplateID.String(),
		Enabled:     c.Enabled,
		UsesMax:     c.UsesMax,
		UsesCurrent: c.UsesCurrent,
		Data:        data,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}, nil
}

func fromCouponModel(m *couponModel) (*coupon.Coupon, error) {
	c, err := decode[coupon.Coupon](m.Data)
	if err != nil {
		return nil, err
	}
	c.UsesCurrent = m.UsesCurrent
	c.CreatedAt, c.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return c, nil
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:entitle_accounts"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	AppID     string    `grove:"app_id"     bson:"app_id"`
	Kind      string    `grove:"kind"       bson:"kind"`
	Data      bson.Raw  `grove:"data"       bson:"data"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toAccountModel(a *account.Account) (*accountModel, error) {
	data, err := encode(a)
	if err != nil {
		return nil, err
	}
	return &accountModel{
		ID:        a.ID.String(),
		AppID:     a.AppID,
		Kind:      string(a.Kind),
		Data:      data,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}, nil
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	a, err := decode[account.Account](m.Data)
	if err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return a, nil
}

// ==================== License models ====================

type licenseModel struct {
	grove.BaseModel `grove:"table:entitle_licenses"`

	ID          string     `grove:"id,pk"        bson:"_id"`
	AppID       string     `grove:"app_id"       bson:"app_id"`
	AccountID   string     `grove:"account_id"   bson:"account_id"`
	TemplateID  string     `grove:"template_id"  bson:"template_id"`
	State       string     `grove:"state"        bson:"state"`
	PeriodStart *time.Time `grove:"period_start" bson:"period_start,omitempty"`
	NextCheck   *time.Time `grove:"next_check"   bson:"next_check"`
	Version     int64      `grove:"version"      bson:"version"`
	Data        bson.Raw   `grove:"data"         bson:"data"`
	CreatedAt   time.Time  `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"   bson:"updated_at"`
}

func toLicenseModel(l *license.License) (*licenseModel, error) {
	data, err := encode(l)
	if err != nil {
		return nil, err
	}
	m := &licenseModel{
		ID:         l.ID.String(),
		AppID:      l.AppID,
		AccountID:  l.AccountID.String(),
		TemplateID: l.TemplateID.String(),
		State:      string(l.State),
		NextCheck:  l.NextCheck,
		Version:    l.Version,
		Data:       data,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
	if !l.PeriodStart.IsZero() {
		start := l.PeriodStart
		m.PeriodStart = &start
	}
	return m, nil
}

func fromLicenseModel(m *licenseModel) (*license.License, error) {
	l, err := decode[license.License](m.Data)
	if err != nil {
		return nil, err
	}
	l.Version = m.Version
	l.CreatedAt, l.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return l, nil
}

// ==================== Usage event models ====================

type usageEventModel struct {
	grove.BaseModel `grove:"table:entitle_usage_events"`

	ID        string            `grove:"id,pk"      bson:"_id"`
	LicenseID string            `grove:"license_id" bson:"license_id"`
	AccountID string            `grove:"account_id" bson:"account_id"`
	AppID     string            `grove:"app_id"     bson:"app_id"`
	Kind      string            `grove:"kind"       bson:"kind"`
	Amount    int64             `grove:"amount"     bson:"amount"`
	EventID   string            `grove:"event_id"   bson:"event_id"`
	UserID    string            `grove:"user_id"    bson:"user_id"`
	Timestamp time.Time         `grove:"timestamp"  bson:"timestamp"`
	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
}

func toUsageEventModel(e *meter.UsageEvent) *usageEventModel {
	return &usageEventModel{
		ID:        e.ID.String(),
		LicenseID: e.LicenseID.String(),
		AccountID: e.AccountID.String(),
		AppID:     e.AppID,
		Kind:      string(e.Kind),
		Amount:    e.Amount,
		EventID:   e.EventID,
		UserID:    e.UserID,
		Timestamp: e.Timestamp,
		Metadata:  e.Metadata,
		CreatedAt: time.Now().UTC(),
	}
}

func fromUsageEventModel(m *usageEventModel) (*meter.UsageEvent, error) {
	evtID, err := id.ParseUsageEventID(m.ID)
	if err != nil {
		return nil, err
	}
	licID, err := id.ParseLicenseID(m.LicenseID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseOptional(m.AccountID)
	if err != nil {
		return nil, err
	}

	return &meter.UsageEvent{
		ID:        evtID,
		LicenseID: licID,
		AccountID: acctID,
		AppID:     m.AppID,
		Kind:      meter.Kind(m.Kind),
		Amount:    m.Amount,
		EventID:   m.EventID,
		UserID:    m.UserID,
		Timestamp: m.Timestamp.UTC(),
		Metadata:  m.Metadata,
	}, nil
}
