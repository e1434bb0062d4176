package entitle

import (
	"context"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/revision"
	"github.com/xraph/entitle/types"
)

// ──────────────────────────────────────────────────
// Account Management
// ──────────────────────────────────────────────────

// CreateAccount validates and stores an account.
func (e *Engine) CreateAccount(ctx context.Context, a *account.Account) error {
	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}
	a.Entity = types.NewEntity()

	if err := a.Validate(); err != nil {
		return err
	}
	return e.store.CreateAccount(ctx, a)
}

// GetAccount retrieves an account by ID.
func (e *Engine) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// ListAccounts lists the accounts of an app.
func (e *Engine) ListAccounts(ctx context.Context, appID string, opts account.ListOpts) ([]*account.Account, error) {
	return e.store.ListAccounts(ctx, appID, opts)
}

// UpdateAccount saves an account. Membership changes take effect on the
// next access check.
func (e *Engine) UpdateAccount(ctx context.Context, a *account.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.Touch()
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return err
	}
	if err := e.revisions.Bump(ctx, revision.AccountKey(a.ID)); err != nil {
		e.logger.Warn("failed to bump revisions", "account_id", a.ID.String(), "error", err)
	}
	return nil
}

// DeleteAccount cancels every live license of the account and then
// deletes it. It returns how many licenses were cancelled.
func (e *Engine) DeleteAccount(ctx context.Context, accountID id.AccountID) (int, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	licenses, err := e.store.ListLicensesByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, l := range licenses {
		if l.State.IsTerminal() {
			continue
		}
		if _, err := e.Cancel(ctx, l.ID, "account deleted"); err != nil {
			return cancelled, err
		}
		cancelled++
	}

	if err := e.store.DeleteAccount(ctx, accountID); err != nil {
		return cancelled, err
	}
	if err := e.revisions.Bump(ctx, revision.AccountKey(accountID)); err != nil {
		e.logger.Warn("failed to bump revisions", "account_id", accountID.String(), "error", err)
	}

	e.logger.Info("account deleted",
		"account_id", accountID.String(),
		"cancelled_licenses", cancelled,
	)
	e.plugins.EmitAccountDeleted(ctx, a, cancelled)
	return cancelled, nil
}
