package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetTemplate(ctx context.Context, templateID id.TemplateID) (*template.Template, error) {
	m := new(templateModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", templateID.String()).
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
	err := s.pg.NewSelect(m).
		Where("sku = $1", sku).
		Where("app_id = $2", appID).
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
	q := s.pg.NewSelect(&models).Where("app_id = $1", appID)

	if opts.EnabledOnly {
		q = q.Where("enabled = $2", true)
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
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrTemplateNotFound)
}

func (s *Store) DeleteTemplate(ctx context.Context, templateID id.TemplateID) error {
	res, err := s.pg.NewDelete((*templateModel)(nil)).
		Where("id = $1", templateID.String()).
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetCoupon(ctx context.Context, code, appID string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.pg.NewSelect(m).
		Where("code = $1", code).
		Where("app_id = $2", appID).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", couponID.String()).
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
	q := s.pg.NewSelect(&models).Where("app_id = $1", appID)

	if opts.EnabledOnly {
		q = q.Where("enabled = $2", true)
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
	res, err := s.pg.NewUpdate((*couponModel)(nil)).
		Set("code = $1", m.Code).
		Set("template_id = $2", m.TemplateID).
		Set("enabled = $3", m.Enabled).
		Set("uses_max = $4", m.UsesMax).
		Set("data = $5", m.Data).
		Set("updated_at = $6", now()).
		Where("id = $7", m.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrCouponNotFound)
}

func (s *Store) DeleteCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.pg.NewDelete((*couponModel)(nil)).
		Where("id = $1", couponID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrCouponNotFound)
}

func (s *Store) IncrementCouponUses(ctx context.Context, couponID id.CouponID) error {
	res, err := s.pg.NewUpdate((*couponModel)(nil)).
		Set("uses_current = uses_current + 1").
		Set("updated_at = $1", now()).
		Where("id = $2", couponID.String()).
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", accountID.String()).
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
	q := s.pg.NewSelect(&models).Where("app_id = $1", appID)

	if opts.Kind != "" {
		q = q.Where("kind = $2", string(opts.Kind))
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
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, entitle.ErrAccountNotFound)
}

func (s *Store) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	res, err := s.pg.NewDelete((*accountModel)(nil)).
		Where("id = $1", accountID.String()).
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetLicense(ctx context.Context, licenseID id.LicenseID) (*license.License, error) {
	m := new(licenseModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", licenseID.String()).
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

	res, err := s.pg.NewUpdate((*licenseModel)(nil)).
		Set("state = $1", m.State).
		Set("period_start = $2", m.PeriodStart).
		Set("next_check = $3", m.NextCheck).
		Set("version = $4", m.Version).
		Set("data = $5", m.Data).
		Set("updated_at = $6", m.UpdatedAt).
		Where("id = $7", m.ID).
		Where("version = $8", expectedVersion).
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
	q := s.pg.NewSelect(&models).Where("app_id = $1", appID)

	argIdx := 1
	if !opts.AccountID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("account_id = $%d", argIdx), opts.AccountID.String())
	}
	if !opts.TemplateID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("template_id = $%d", argIdx), opts.TemplateID.String())
	}
	if opts.State != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("state = $%d", argIdx), string(opts.State))
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
	err := s.pg.NewSelect(&models).
		Where("account_id = $1", accountID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromLicenseModels(models)
}

func (s *Store) ListLicensesByTemplate(ctx context.Context, templateID id.TemplateID) ([]*license.License, error) {
	var models []licenseModel
	err := s.pg.NewSelect(&models).
		Where("template_id = $1", templateID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromLicenseModels(models)
}

func (s *Store) ListDueLicenses(ctx context.Context, at time.Time, limit int) ([]*license.License, error) {
	var models []licenseModel
	q := s.pg.NewSelect(&models).
		Where("next_check IS NOT NULL").
		Where("next_check <= $1", at).
		Where("state NOT IN ($2, $3)", string(license.StateCancelled), string(license.StateExpired)).
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
		models[i] = *toUsageEventModel(e)
	}
	_, err := s.pg.NewInsert(&models).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) Aggregate(ctx context.Context, licenseID id.LicenseID, kind meter.Kind, since time.Time) (int64, error) {
	var total int64
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM entitle_usage_events
		WHERE license_id = $1 AND kind = $2 AND timestamp >= $3
	`, licenseID.String(), string(kind), since).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) QueryUsage(ctx context.Context, licenseID id.LicenseID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel
	q := s.pg.NewSelect(&models).Where("license_id = $1", licenseID.String())

	argIdx := 1
	if opts.Kind != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("kind = $%d", argIdx), string(opts.Kind))
	}
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("timestamp >= $%d", argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("timestamp < $%d", argIdx), opts.End)
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
	res, err := s.pg.NewDelete((*usageEventModel)(nil)).
		Where("timestamp < $1", before).
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
