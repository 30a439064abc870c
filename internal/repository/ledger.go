package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fin-keeper/internal/model"
)

// LedgerRepository keeps transactions and account balances consistent.
// Each Apply* method runs as one database transaction and either commits both
// the transaction row and the balance or neither.
type LedgerRepository interface {
	// CreateAccount inserts an account with a zero balance.
	CreateAccount(ctx context.Context, a *model.Account) error
	// GetAccount loads an account owned by owner.
	GetAccount(ctx context.Context, owner uuid.UUID, id int64) (*model.Account, error)
	// GetTransaction loads a transaction owned by owner.
	GetTransaction(ctx context.Context, owner uuid.UUID, id int64) (*model.Transaction, error)

	// ApplyNew inserts a transaction and applies its delta to the account balance.
	ApplyNew(ctx context.Context, owner uuid.UUID, in model.NewTransaction) (model.LedgerResult, error)
	// ApplyUpdate rewrites a transaction and corrects the account balance.
	ApplyUpdate(ctx context.Context, owner uuid.UUID, id int64, patch model.TransactionPatch) (model.LedgerResult, error)
	// ApplyDelete removes a transaction and reverts its delta.
	ApplyDelete(ctx context.Context, owner uuid.UUID, id int64, expectedBalance *int64) (model.LedgerResult, error)
}
