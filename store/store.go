// Package store defines the unified persistence interface for Entitle.
// Backends live in the memory, sqlite, postgres and mongo subpackages.
package store

import (
	"context"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/template"
)

// Store is the unified storage interface for all Entitle entities.
// Sub-interface methods carry the entity in their name so they can be
// embedded without conflicts.
type Store interface {
	template.Store
	coupon.Store
	account.Store
	license.Store
	meter.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
