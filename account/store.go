package account

import (
	"context"

	"github.com/xraph/entitle/id"
)

type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	ListAccounts(ctx context.Context, appID string, opts ListOpts) ([]*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	DeleteAccount(ctx context.Context, accountID id.AccountID) error
}

type ListOpts struct {
	Kind   Kind
	Limit  int
	Offset int
}
