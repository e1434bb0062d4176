package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("entitle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Template Store ====================

func (s *Store) CreateTemplate(ctx context.Context, t *template.Template) error {
	m, err := toTemplateModel(t)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetTemplate(ctx context.Context, templateID id.TemplateID) (*template.Template, error) {
	m := new(templateModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", templateID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrTemplateNotFound
		}
		return nil, err
	}
	return fromTemplateModel(m)
}

func (s *Store) GetTemplateBySKU(ctx context.Context, sku, appID string) (*template.Template, error) {
	m := new(templateModel)
	err := s.sdb.NewSelect(m).
		Where("sku = ?", sku).
		Where("app_id = ?", appID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrTemplateNotFound
		}
		return nil, err
	}
	return fromTemplateModel(m)
}

func (s *Store) ListTemplates(ctx context.Context, appID string, opts template.ListOpts) ([]*template.Template, error) {
	var models []templateModel
	q := s.sdb.NewSelect(&models).Where("app_id = ?", appID)

	if opts.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*template.Template, len(models))
	for i := range models {
		t, err := fromTemplateModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t *template.Template) error {
	m, err := toTemplateModel(t)
	if err != nil {
		return err
	}
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrTemplateNotFound)
}

func (s *Store) DeleteTemplate(ctx context.Context, templateID id.TemplateID) error {
	res, err := s.sdb.NewDelete((*templateModel)(nil)).
		Where("id = ?", templateID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrTemplateNotFound)
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m, err := toCouponModel(c)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetCoupon(ctx context.Context, code, appID string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("code = ?", code).
		Where("app_id = ?", appID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", couponID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) ListCoupons(ctx context.Context, appID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel
	q := s.sdb.NewSelect(&models).Where("app_id = ?", appID)

	if opts.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*coupon.Coupon, len(models))
	for i := range models {
		c, err := fromCouponModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// UpdateCoupon rewrites the coupon's document but never its use counter,
// which only IncrementCouponUses moves.
func (s *Store) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m, err := toCouponModel(c)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("code = ?", m.Code).
		Set("template_id = ?", m.TemplateID).
		Set("enabled = ?", m.Enabled).
		Set("uses_max = ?", m.UsesMax).
		Set("data = ?", m.Data).
		Set("updated_at = ?", now()).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrCouponNotFound)
}

func (s *Store) DeleteCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.sdb.NewDelete((*couponModel)(nil)).
		Where("id = ?", couponID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrCouponNotFound)
}

func (s *Store) IncrementCouponUses(ctx context.Context, couponID id.CouponID) error {
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("uses_current = uses_current + 1").
		Set("updated_at = ?", now()).
		Where("id = ?", couponID.String()).
		Where("(uses_max = 0 OR uses_current < uses_max)").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetCouponByID(ctx, couponID); err != nil {
		return err
	}
	return entitle.ErrCouponExhausted
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	m, err := toAccountModel(a)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", accountID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) ListAccounts(ctx context.Context, appID string, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel
	q := s.sdb.NewSelect(&models).Where("app_id = ?", appID)

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	m, err := toAccountModel(a)
	if err != nil {
		return err
	}
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrAccountNotFound)
}

func (s *Store) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	res, err := s.sdb.NewDelete((*accountModel)(nil)).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrAccountNotFound)
}

// ==================== License Store ====================

func (s *Store) CreateLicense(ctx context.Context, l *license.License) error {
	if l.Version == 0 {
		l.Version = 1
	}
	m, err := toLicenseModel(l)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetLicense(ctx context.Context, licenseID id.LicenseID) (*license.License, error) {
	m := new(licenseModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", licenseID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrLicenseNotFound
		}
		return nil, err
	}
	return fromLicenseModel(m)
}

// UpdateLicense is a compare-and-set on the version column.
func (s *Store) UpdateLicense(ctx context.Context, l *license.License, expectedVersion int64) error {
	prev := l.Version
	l.Version = expectedVersion + 1
	l.UpdatedAt = now()
	m, err := toLicenseModel(l)
	if err != nil {
		l.Version = prev
		return err
	}

	res, err := s.sdb.NewUpdate((*licenseModel)(nil)).
		Set("state = ?", m.State).
		Set("period_start = ?", m.PeriodStart).
		Set("next_check = ?", m.NextCheck).
		Set("version = ?", m.Version).
		Set("data = ?", m.Data).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		l.Version = prev
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		l.Version = prev
		return err
	}
	if rows > 0 {
		return nil
	}

	l.Version = prev
	if _, err := s.GetLicense(ctx, l.ID); err != nil {
		return err
	}
	return types.ErrConcurrencyConflict
}

func (s *Store) ListLicenses(ctx context.Context, appID string, opts license.ListOpts) ([]*license.License, error) {
	var models []licenseModel
	q := s.sdb.NewSelect(&models).Where("app_id = ?", appID)

	if !opts.AccountID.IsNil() {
		q = q.Where("account_id = ?", opts.AccountID.String())
	}
	if !opts.TemplateID.IsNil() {
		q = q.Where("template_id = ?", opts.TemplateID.String())
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLicenseModels(models)
}

func (s *Store) ListLicensesByAccount(ctx context.Context, accountID id.AccountID) ([]*license.License, error) {
	var models []licenseModel
	err := s.sdb.NewSelect(&models).
		Where("account_id = ?", accountID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromLicenseModels(models)
}

func (s *Store) ListLicensesByTemplate(ctx context.Context, templateID id.TemplateID) ([]*license.License, error) {
	var models []licenseModel
	err := s.sdb.NewSelect(&models).
		Where("template_id = ?", templateID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromLicenseModels(models)
}

func (s *Store) ListDueLicenses(ctx context.Context, at time.Time, limit int) ([]*license.License, error) {
	var models []licenseModel
	q := s.sdb.NewSelect(&models).
		Where("next_check IS NOT NULL").
		Where("next_check <= ?", at).
		Where("state NOT IN (?, ?)", string(license.StateCancelled), string(license.StateExpired)).
		OrderExpr("next_check ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromLicenseModels(models)
}

func fromLicenseModels(models []licenseModel) ([]*license.License, error) {
	result := make([]*license.License, len(models))
	for i := range models {
		l, err := fromLicenseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	return result, nil
}

// ==================== Meter Store ====================

func (s *Store) IngestBatch(ctx context.Context, events []*meter.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]usageEventModel, len(events))
	for i, e := range events {
		m, err := toUsageEventModel(e)
		if err != nil {
			return err
		}
		models[i] = *m
	}
	_, err := s.sdb.NewInsert(&models).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) Aggregate(ctx context.Context, licenseID id.LicenseID, kind meter.Kind, since time.Time) (int64, error) {
	var total int64
	err := s.sdb.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM entitle_usage_events
		WHERE license_id = ? AND kind = ? AND timestamp >= ?
	`, licenseID.String(), string(kind), since).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) QueryUsage(ctx context.Context, licenseID id.LicenseID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel
	q := s.sdb.NewSelect(&models).Where("license_id = ?", licenseID.String())

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if !opts.Start.IsZero() {
		q = q.Where("timestamp >= ?", opts.Start)
	}
	if !opts.End.IsZero() {
		q = q.Where("timestamp < ?", opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("timestamp ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*meter.UsageEvent, len(models))
	for i := range models {
		evt, err := fromUsageEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*usageEventModel)(nil)).
		Where("timestamp < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// expectRows maps a zero-row result to notFound.
func expectRows(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
