package entitle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/revision"
)

// AccessRequest asks whether a user of an account may open an item.
// UserID only matters for group accounts.
type AccessRequest struct {
	AccountID id.AccountID
	UserID    string
	Item      content.Item
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// CanAccess decides whether the request is granted. Decisions are cached
// per account revision, so any license or account change is visible on
// the next call. A cached grant is dropped once the granting license's
// window closes, even if no tick has run.
func (e *Engine) CanAccess(ctx context.Context, req AccessRequest) (d entitlement.Decision, err error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "CanAccess")
	span.SetAttributes(
		attribute.String("account_id", req.AccountID.String()),
		attribute.String("item_id", req.Item.ID),
	)
	defer func() {
		span.SetAttributes(
			attribute.Bool("allowed", d.Allowed),
			attribute.String("reason", string(d.Reason)),
		)
		endSpan(span, err)
	}()

	rev, revErr := e.revisions.Get(ctx, revision.AccountKey(req.AccountID))
	if revErr != nil {
		e.logger.Warn("revision unavailable, skipping decision cache", "account_id", req.AccountID.String(), "error", revErr)
		rev = -1
	}

	key := entitlement.CacheKey(req.AccountID.String(), req.UserID, req.Item.ID, rev)
	if e.decisionCacheTTL > 0 && rev >= 0 {
		if cached, ok := e.cache.GetDecision(ctx, key); ok && !cached.ExpiredAt(e.now()) {
			return cached, nil
		}
	}

	acct, err := e.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return entitlement.Decision{}, err
	}
	licenses, err := e.store.ListLicensesByAccount(ctx, req.AccountID)
	if err != nil {
		return entitlement.Decision{}, err
	}

	d, err = e.resolver.CanAccess(ctx, acct, req.UserID, req.Item, licenses, e.now())
	if err != nil {
		return entitlement.Decision{}, err
	}
	d.Revision = max(rev, 0)

	if ttl := e.decisionTTL(d); ttl > 0 && rev >= 0 {
		e.cache.SetDecision(ctx, key, d, ttl)
	}

	e.plugins.EmitAccessChecked(ctx, plugin.AccessChecked{
		AccountID: req.AccountID,
		UserID:    req.UserID,
		ItemID:    req.Item.ID,
		Decision:  d,
		Elapsed:   time.Since(start),
	})
	return d, nil
}

// decisionTTL caps the cache lifetime of d at the close of the granting
// license's window.
func (e *Engine) decisionTTL(d entitlement.Decision) time.Duration {
	ttl := e.decisionCacheTTL
	if d.ValidUntil != nil {
		ttl = min(ttl, d.ValidUntil.Sub(e.now()))
	}
	return ttl
}

// CoveredContent lists the catalog items the account's effectively active
// licenses cover, sorted by id.
func (e *Engine) CoveredContent(ctx context.Context, accountID id.AccountID) ([]content.Item, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	licenses, err := e.store.ListLicensesByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return e.resolver.CoveredContent(ctx, acct, licenses, e.now())
}

// CoveredContentForReporting is CoveredContent counting suspended
// licenses whose period has not ended. It never grants access.
func (e *Engine) CoveredContentForReporting(ctx context.Context, accountID id.AccountID) ([]content.Item, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	licenses, err := e.store.ListLicensesByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return e.resolver.CoveredContentForReporting(ctx, acct, licenses, e.now())
}

// Revision returns the account's change counter. It moves on every change
// to the account or any of its licenses.
func (e *Engine) Revision(ctx context.Context, accountID id.AccountID) (int64, error) {
	return e.revisions.Get(ctx, revision.AccountKey(accountID))
}
