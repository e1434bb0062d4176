// Package memory is an in-process Store. Entities are copied on the way in
// and out, so callers never share state with the store and UpdateLicense
// behaves as a real compare-and-set.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	templates   map[string]*template.Template
	coupons     map[string]*coupon.Coupon
	accounts    map[string]*account.Account
	licenses    map[string]*license.License
	usageEvents []meter.UsageEvent
	usageIDs    map[string]bool
	closed      bool
}

func New() *Store {
	return &Store{
		templates: make(map[string]*template.Template),
		coupons:   make(map[string]*coupon.Coupon),
		accounts:  make(map[string]*account.Account),
		licenses:  make(map[string]*license.License),
		usageIDs:  make(map[string]bool),
	}
}

// clone deep-copies an entity through its JSON form.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory: clone %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memory: clone %T: %v", v, err))
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}

func sortedValues[T any](m map[string]*T, keep func(*T) bool) []*T {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if keep(v) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	out := make([]*T, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(m[k]))
	}
	return out
}

// ──────────────────────────────────────────────────
// Template Store
// ──────────────────────────────────────────────────

func (s *Store) CreateTemplate(_ context.Context, t *template.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	for _, other := range s.templates {
		if other.AppID == t.AppID && other.SKU == t.SKU {
			return fmt.Errorf("%w: sku %q", entitle.ErrAlreadyExists, t.SKU)
		}
	}
	s.templates[t.ID.String()] = clone(t)
	return nil
}

func (s *Store) GetTemplate(_ context.Context, templateID id.TemplateID) (*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.templates[templateID.String()]; ok {
		return clone(t), nil
	}
	return nil, entitle.ErrTemplateNotFound
}

func (s *Store) GetTemplateBySKU(_ context.Context, sku, appID string) (*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.templates {
		if t.SKU == sku && t.AppID == appID {
			return clone(t), nil
		}
	}
	return nil, entitle.ErrTemplateNotFound
}

func (s *Store) ListTemplates(_ context.Context, appID string, opts template.ListOpts) ([]*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := sortedValues(s.templates, func(t *template.Template) bool {
		return t.AppID == appID && (!opts.EnabledOnly || t.Enabled)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdateTemplate(_ context.Context, t *template.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.ID.String()]; !exists {
		return entitle.ErrTemplateNotFound
	}
	s.templates[t.ID.String()] = clone(t)
	return nil
}

func (s *Store) DeleteTemplate(_ context.Context, templateID id.TemplateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[templateID.String()]; !exists {
		return entitle.ErrTemplateNotFound
	}
	delete(s.templates, templateID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Coupon Store
// ──────────────────────────────────────────────────

func (s *Store) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[c.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	for _, other := range s.coupons {
		if other.AppID == c.AppID && other.Code == c.Code {
			return fmt.Errorf("%w: coupon code %q", entitle.ErrAlreadyExists, c.Code)
		}
	}
	s.coupons[c.ID.String()] = clone(c)
	return nil
}

func (s *Store) GetCoupon(_ context.Context, code, appID string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.coupons {
		if c.Code == code && c.AppID == appID {
			return clone(c), nil
		}
	}
	return nil, entitle.ErrCouponNotFound
}

func (s *Store) GetCouponByID(_ context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.coupons[couponID.String()]; ok {
		return clone(c), nil
	}
	return nil, entitle.ErrCouponNotFound
}

func (s *Store) ListCoupons(_ context.Context, appID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := sortedValues(s.coupons, func(c *coupon.Coupon) bool {
		return c.AppID == appID && (!opts.EnabledOnly || c.Enabled)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[c.ID.String()]; !exists {
		return entitle.ErrCouponNotFound
	}
	s.coupons[c.ID.String()] = clone(c)
	return nil
}

func (s *Store) DeleteCoupon(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[couponID.String()]; !exists {
		return entitle.ErrCouponNotFound
	}
	delete(s.coupons, couponID.String())
	return nil
}

func (s *Store) IncrementCouponUses(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[couponID.String()]
	if !ok {
		return entitle.ErrCouponNotFound
	}
	if c.UsesMax > 0 && c.UsesCurrent >= c.UsesMax {
		return entitle.ErrCouponExhausted
	}
	c.UsesCurrent++
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Account Store
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	s.accounts[a.ID.String()] = clone(a)
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return clone(a), nil
	}
	return nil, entitle.ErrAccountNotFound
}

func (s *Store) ListAccounts(_ context.Context, appID string, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := sortedValues(s.accounts, func(a *account.Account) bool {
		return a.AppID == appID && (opts.Kind == "" || a.Kind == opts.Kind)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; !exists {
		return entitle.ErrAccountNotFound
	}
	s.accounts[a.ID.String()] = clone(a)
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[accountID.String()]; !exists {
		return entitle.ErrAccountNotFound
	}
	delete(s.accounts, accountID.String())
	return nil
}

// ──────────────────────────────────────────────────
// License Store
// ──────────────────────────────────────────────────

func (s *Store) CreateLicense(_ context.Context, l *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.licenses[l.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	if l.Version == 0 {
		l.Version = 1
	}
	s.licenses[l.ID.String()] = clone(l)
	return nil
}

func (s *Store) GetLicense(_ context.Context, licenseID id.LicenseID) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.licenses[licenseID.String()]; ok {
		return clone(l), nil
	}
	return nil, entitle.ErrLicenseNotFound
}

func (s *Store) UpdateLicense(_ context.Context, l *license.License, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.licenses[l.ID.String()]
	if !exists {
		return entitle.ErrLicenseNotFound
	}
	if current.Version != expectedVersion {
		return types.ErrConcurrencyConflict
	}
	l.Version = expectedVersion + 1
	l.UpdatedAt = time.Now().UTC()
	s.licenses[l.ID.String()] = clone(l)
	return nil
}

func (s *Store) ListLicenses(_ context.Context, appID string, opts license.ListOpts) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := sortedValues(s.licenses, func(l *license.License) bool {
		return l.AppID == appID &&
			(opts.AccountID.IsNil() || l.AccountID == opts.AccountID) &&
			(opts.TemplateID.IsNil() || l.TemplateID == opts.TemplateID) &&
			(opts.State == "" || l.State == opts.State)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) ListLicensesByAccount(_ context.Context, accountID id.AccountID) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedValues(s.licenses, func(l *license.License) bool {
		return l.AccountID == accountID
	}), nil
}

func (s *Store) ListLicensesByTemplate(_ context.Context, templateID id.TemplateID) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedValues(s.licenses, func(l *license.License) bool {
		return l.TemplateID == templateID
	}), nil
}

func (s *Store) ListDueLicenses(_ context.Context, now time.Time, limit int) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := sortedValues(s.licenses, func(l *license.License) bool {
		return !l.State.IsTerminal() && l.NextCheck != nil && !l.NextCheck.After(now)
	})
	slices.SortStableFunc(due, func(a, b *license.License) int {
		return a.NextCheck.Compare(*b.NextCheck)
	})
	return page(due, limit, 0), nil
}

// ──────────────────────────────────────────────────
// Meter Store
// ──────────────────────────────────────────────────

func (s *Store) IngestBatch(_ context.Context, events []*meter.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if s.usageIDs[e.ID.String()] {
			continue
		}
		s.usageIDs[e.ID.String()] = true
		s.usageEvents = append(s.usageEvents, *e)
	}
	return nil
}

func (s *Store) Aggregate(_ context.Context, licenseID id.LicenseID, kind meter.Kind, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.usageEvents {
		if e.LicenseID == licenseID && e.Kind == kind && !e.Timestamp.Before(since) {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *Store) QueryUsage(_ context.Context, licenseID id.LicenseID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*meter.UsageEvent, 0)
	for i := range s.usageEvents {
		e := s.usageEvents[i]
		if e.LicenseID != licenseID {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		if (!opts.Start.IsZero() && e.Timestamp.Before(opts.Start)) ||
			(!opts.End.IsZero() && !e.Timestamp.Before(opts.End)) {
			continue
		}
		result = append(result, &e)
	}
	slices.SortStableFunc(result, func(a, b *meter.UsageEvent) int {
		return cmp.Compare(a.Timestamp.UnixNano(), b.Timestamp.UnixNano())
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) PurgeUsage(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	kept := make([]meter.UsageEvent, 0, len(s.usageEvents))
	for _, e := range s.usageEvents {
		if e.Timestamp.Before(before) {
			count++
			delete(s.usageIDs, e.ID.String())
		} else {
			kept = append(kept, e)
		}
	}
	s.usageEvents = kept
	return count, nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return entitle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
