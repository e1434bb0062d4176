package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

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

// Collection name constants.
const (
	colTemplates   = "entitle_templates"
	colCoupons     = "entitle_coupons"
	colAccounts    = "entitle_accounts"
	colLicenses    = "entitle_licenses"
	colUsageEvents = "entitle_usage_events"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, templateID id.TemplateID) (*template.Template, error) {
	var m templateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": templateID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get template: %w", err)
	}
	return fromTemplateModel(&m)
}

func (s *Store) GetTemplateBySKU(ctx context.Context, sku, appID string) (*template.Template, error) {
	var m templateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"sku": sku, "app_id": appID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get template by sku: %w", err)
	}
	return fromTemplateModel(&m)
}

func (s *Store) ListTemplates(ctx context.Context, appID string, opts template.ListOpts) ([]*template.Template, error) {
	var models []templateModel

	filter := bson.M{"app_id": appID}
	if opts.EnabledOnly {
		filter["enabled"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list templates: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update template: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrTemplateNotFound
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, templateID id.TemplateID) error {
	res, err := s.mdb.NewDelete((*templateModel)(nil)).
		Filter(bson.M{"_id": templateID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete template: %w", err)
	}
	if res.DeletedCount() == 0 {
		return entitle.ErrTemplateNotFound
	}
	return nil
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m, err := toCouponModel(c)
	if err != nil {
		return err
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create coupon: %w", err)
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, code, appID string) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"code": code, "app_id": appID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrCouponNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get coupon: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": couponID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrCouponNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get coupon by id: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) ListCoupons(ctx context.Context, appID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel

	filter := bson.M{"app_id": appID}
	if opts.EnabledOnly {
		filter["enabled"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list coupons: %w", err)
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

// UpdateCoupon leaves uses_current alone; only IncrementCouponUses moves it.
func (s *Store) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m, err := toCouponModel(c)
	if err != nil {
		return err
	}

	res, err := s.mdb.NewUpdate((*couponModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"code":        m.Code,
			"template_id": m.TemplateID,
			"enabled":     m.Enabled,
			"uses_max":    m.UsesMax,
			"data":        m.Data,
			"updated_at":  now(),
		}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update coupon: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrCouponNotFound
	}
	return nil
}

func (s *Store) DeleteCoupon(ctx context.Context, couponID id.CouponID) error {
	res, err := s.mdb.NewDelete((*couponModel)(nil)).
		Filter(bson.M{"_id": couponID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete coupon: %w", err)
	}
	if res.DeletedCount() == 0 {
		return entitle.ErrCouponNotFound
	}
	return nil
}

func (s *Store) IncrementCouponUses(ctx context.Context, couponID id.CouponID) error {
	res, err := s.mdb.NewUpdate((*couponModel)(nil)).
		Filter(bson.M{
			"_id": couponID.String(),
			"$or": bson.A{
				bson.M{"uses_max": 0},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$uses_current", "$uses_max"}}},
			},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"uses_current": 1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: increment coupon uses: %w", err)
	}
	if res.MatchedCount() > 0 {
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrAccountNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) ListAccounts(ctx context.Context, appID string, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel

	filter := bson.M{"app_id": appID}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list accounts: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update account: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrAccountNotFound
	}
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	res, err := s.mdb.NewDelete((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: delete account: %w", err)
	}
	if res.DeletedCount() == 0 {
		return entitle.ErrAccountNotFound
	}
	return nil
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create license: %w", err)
	}
	return nil
}

func (s *Store) GetLicense(ctx context.Context, licenseID id.LicenseID) (*license.License, error) {
	var m licenseModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": licenseID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get license: %w", err)
	}
	return fromLicenseModel(&m)
}

// UpdateLicense is a compare-and-set on the version field.
func (s *Store) UpdateLicense(ctx context.Context, l *license.License, expectedVersion int64) error {
	prev := l.Version
	l.Version = expectedVersion + 1
	l.UpdatedAt = now()
	m, err := toLicenseModel(l)
	if err != nil {
		l.Version = prev
		return err
	}

	res, err := s.mdb.NewUpdate((*licenseModel)(nil)).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		SetUpdate(bson.M{"$set": bson.M{
			"state":        m.State,
			"period_start": m.PeriodStart,
			"next_check":   m.NextCheck,
			"version":      m.Version,
			"data":         m.Data,
			"updated_at":   m.UpdatedAt,
		}}).
		Exec(ctx)
	if err != nil {
		l.Version = prev
		return fmt.Errorf("entitle/mongo: update license: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}

	l.Version = prev
	if _, err := s.GetLicense(ctx, l.ID); err != nil {
		return err
	}
	return types.ErrConcurrencyConflict
}

func (s *Store) ListLicenses(ctx context.Context, appID string, opts license.ListOpts) ([]*license.License, error) {
	filter := bson.M{"app_id": appID}
	if !opts.AccountID.IsNil() {
		filter["account_id"] = opts.AccountID.String()
	}
	if !opts.TemplateID.IsNil() {
		filter["template_id"] = opts.TemplateID.String()
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	return s.findLicenses(ctx, filter, bson.D{{Key: "_id", Value: 1}}, opts.Limit, opts.Offset)
}

func (s *Store) ListLicensesByAccount(ctx context.Context, accountID id.AccountID) ([]*license.License, error) {
	return s.findLicenses(ctx, bson.M{"account_id": accountID.String()}, bson.D{{Key: "_id", Value: 1}}, 0, 0)
}

func (s *Store) ListLicensesByTemplate(ctx context.Context, templateID id.TemplateID) ([]*license.License, error) {
	return s.findLicenses(ctx, bson.M{"template_id": templateID.String()}, bson.D{{Key: "_id", Value: 1}}, 0, 0)
}

func (s *Store) ListDueLicenses(ctx context.Context, at time.Time, limit int) ([]*license.License, error) {
	filter := bson.M{
		"next_check": bson.M{"$ne": nil, "$lte": at},
		"state": bson.M{"$nin": bson.A{
			string(license.StateCancelled),
			string(license.StateExpired),
		}},
	}
	return s.findLicenses(ctx, filter, bson.D{{Key: "next_check", Value: 1}}, limit, 0)
}

func (s *Store) findLicenses(ctx context.Context, filter bson.M, sort bson.D, limit, offset int) ([]*license.License, error) {
	var models []licenseModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(sort)
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list licenses: %w", err)
	}

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
	for _, e := range events {
		m := toUsageEventModel(e)
		_, err := s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			// Replayed batches carry the same _id.
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("entitle/mongo: ingest event: %w", err)
		}
	}
	return nil
}

func (s *Store) Aggregate(ctx context.Context, licenseID id.LicenseID, kind meter.Kind, since time.Time) (int64, error) {
	pipeline := bson.A{
		bson.M{
			"$match": bson.M{
				"license_id": licenseID.String(),
				"kind":       string(kind),
				"timestamp":  bson.M{"$gte": since},
			},
		},
		bson.M{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$amount"},
			},
		},
	}

	cursor, err := s.mdb.Collection(colUsageEvents).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("entitle/mongo: aggregate decode: %w", err)
	}

	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (s *Store) QueryUsage(ctx context.Context, licenseID id.LicenseID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel

	filter := bson.M{"license_id": licenseID.String()}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	window := bson.M{}
	if !opts.Start.IsZero() {
		window["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		window["$lt"] = opts.End
	}
	if len(window) > 0 {
		filter["timestamp"] = window
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "timestamp", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: query usage: %w", err)
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
	res, err := s.mdb.Collection(colUsageEvents).
		DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: purge usage: %w", err)
	}
	return res.DeletedCount, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTemplates: {
			{
				Keys:    bson.D{{Key: "sku", Value: 1}, {Key: "app_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "app_id", Value: 1}, {Key: "enabled", Value: 1}}},
		},
		colCoupons: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}, {Key: "app_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "template_id", Value: 1}}},
		},
		colAccounts: {
			{Keys: bson.D{{Key: "app_id", Value: 1}, {Key: "kind", Value: 1}}},
		},
		colLicenses: {
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
			{Keys: bson.D{{Key: "template_id", Value: 1}}},
			{Keys: bson.D{{Key: "app_id", Value: 1}, {Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "next_check", Value: 1}}},
		},
		colUsageEvents: {
			{Keys: bson.D{{Key: "license_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		},
	}
}
