package license

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
)

type Store interface {
	CreateLicense(ctx context.Context, l *License) error
	GetLicense(ctx context.Context, licenseID id.LicenseID) (*License, error)

	// UpdateLicense persists l only if the stored version still equals
	// expectedVersion, and bumps l.Version. It returns
	// types.ErrConcurrencyConflict otherwise.
	UpdateLicense(ctx context.Context, l *License, expectedVersion int64) error

	ListLicenses(ctx context.Context, appID string, opts ListOpts) ([]*License, error)
	ListLicensesByAccount(ctx context.Context, accountID id.AccountID) ([]*License, error)
	ListLicensesByTemplate(ctx context.Context, templateID id.TemplateID) ([]*License, error)

	// ListDueLicenses returns live licenses whose NextCheck is at or before
	// now, oldest first.
	ListDueLicenses(ctx context.Context, now time.Time, limit int) ([]*License, error)
}

type ListOpts struct {
	AccountID  id.AccountID
	TemplateID id.TemplateID
	State      State
	Limit      int
	Offset     int
}
