package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/template"
)

// Each entity is stored as a JSON text document next to the columns the
// store filters or fences on. Columns win over the document when both
// carry a value.

func decode[T any](data json.RawMessage) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("entitle/sqlite: decode %T: %w", out, err)
	}
	return out, nil
}

func encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("entitle/sqlite: encode %T: %w", v, err)
	}
	return data, nil
}

// ==================== Template models ====================

type templateModel struct {
	grove.BaseModel `grove:"table:entitle_templates"`

	ID        string          `grove:"id,pk"`
	AppID     string          `grove:"app_id"`
	SKU       string          `grove:"sku"`
	Enabled   bool            `grove:"enabled"`
	Data      json.RawMessage `grove:"data"`
	CreatedAt time.Time       `grove:"created_at"`
	UpdatedAt time.Time       `grove:"updated_at"`
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
	t.CreatedAt, t.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return t, nil
}

// ==================== Coupon models ====================

type couponModel struct {
	grove.BaseModel `grove:"table:entitle_coupons"`

	ID          string          `grove:"id,pk"`
	AppID       string          `grove:"app_id"`
	Code        string          `grove:"code"`
	TemplateID  string          `grove:"template_id"`
	Enabled     bool            `grove:"enabled"`
	UsesMax     int             `grove:"uses_max"`
	UsesCurrent int             `grove:"uses_current"`
	Data        json.RawMessage `grove:"data"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
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
	c.CreatedAt, c.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return c, nil
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:entitle_accounts"`

	ID        string          `grove:"id,pk"`
	AppID     string          `grove:"app_id"`
	Kind      string          `grove:"kind"`
	Data      json.RawMessage `grove:"data"`
	CreatedAt time.Time       `grove:"created_at"`
	UpdatedAt time.Time       `grove:"updated_at"`
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
	a.CreatedAt, a.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return a, nil
}

// ==================== License models ====================

type licenseModel struct {
	grove.BaseModel `grove:"table:entitle_licenses"`

	ID          string          `grove:"id,pk"`
	AppID       string          `grove:"app_id"`
	AccountID   string          `grove:"account_id"`
	TemplateID  string          `grove:"template_id"`
	State       string          `grove:"state"`
	PeriodStart *time.Time      `grove:"period_start"`
	NextCheck   *time.Time      `grove:"next_check"`
	Version     int64           `grove:"version"`
	Data        json.RawMessage `grove:"data"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
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
	l.CreatedAt, l.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return l, nil
}

// ==================== Usage event models ====================

type usageEventModel struct {
	grove.BaseModel `grove:"table:entitle_usage_events"`

	ID        string            `grove:"id,pk"`
	LicenseID string            `grove:"license_id"`
	AccountID string            `grove:"account_id"`
	AppID     string            `grove:"app_id"`
	Kind      string            `grove:"kind"`
	Amount    int64             `grove:"amount"`
	EventID   string            `grove:"event_id"`
	UserID    string            `grove:"user_id"`
	Timestamp time.Time         `grove:"timestamp"`
	Metadata  string            `grove:"metadata"`
	CreatedAt time.Time         `grove:"created_at"`
}

func toUsageEventModel(e *meter.UsageEvent) (*usageEventModel, error) {
	meta := "{}"
	if len(e.Metadata) > 0 {
		raw, err := encode(e.Metadata)
		if err != nil {
			return nil, err
		}
		meta = string(raw)
	}
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
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}, nil
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

	var meta map[string]string
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("entitle/sqlite: decode usage metadata: %w", err)
		}
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
		Timestamp: m.Timestamp,
		Metadata:  meta,
	}, nil
}
