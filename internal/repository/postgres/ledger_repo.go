package postgres

import (
	"context"
	"errors"
	"math"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
)

// LedgerRepo implements LedgerRepository using PostgreSQL.
type LedgerRepo struct{ db *DB }

// NewLedgerRepo constructs a ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

const (
	selBalance = `SELECT balance FROM accounts WHERE id=$1 AND owner_id=$2 FOR UPDATE`
	updBalance = `UPDATE accounts SET balance=$3 WHERE id=$1 AND owner_id=$2`
	selTxLock  = `
SELECT id, owner_id, account_id, type, amount, description, created_at
FROM transactions WHERE id=$1 AND owner_id=$2 FOR UPDATE`
)

// errOverflow rejects a transaction whose delta would push the balance out of int64 range.
var errOverflow = errs.New(errs.ErrBadRequest, "amount would overflow the account balance")

// inTx runs fn in one database transaction. Any error or panic rolls back;
// rollback ignores cancellation of ctx so a timed out request still releases its locks.
func (r *LedgerRepo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Aborted(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = errs.Aborted(e)
		}
	}()
	return fn(tx)
}

// exec fails with Aborted on error or when no row was touched.
func exec(ctx context.Context, tx pgx.Tx, q string, args ...any) error {
	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return errs.Aborted(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Aborted(errors.New("no rows affected"))
	}
	return nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, owner uuid.UUID, accountID int64) (int64, error) {
	var bal int64
	if err := tx.QueryRow(ctx, selBalance, accountID, owner).Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, errs.Aborted(err)
	}
	return bal, nil
}

func lockTransaction(ctx context.Context, tx pgx.Tx, owner uuid.UUID, id int64) (model.Transaction, error) {
	var t model.Transaction
	err := tx.QueryRow(ctx, selTxLock, id, owner).
		Scan(&t.ID, &t.OwnerID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, errs.ErrNotFound
		}
		return t, errs.Aborted(err)
	}
	return t, nil
}

// addDelta returns bal+d or errOverflow.
func addDelta(bal, d int64) (int64, error) {
	if d > 0 && bal > math.MaxInt64-d || d < 0 && bal < math.MinInt64-d {
		return 0, errOverflow
	}
	return bal + d, nil
}

func checkExpected(expected *int64, balance int64) error {
	if expected != nil && *expected != balance {
		return errs.ErrBalanceMismatch
	}
	return nil
}

// CreateAccount inserts an account with a zero balance.
func (r *LedgerRepo) CreateAccount(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (owner_id, title, type, balance)
VALUES ($1, $2, $3, 0)
RETURNING id, created_at`
	a.Balance = 0
	return r.db.Pool.QueryRow(ctx, q, a.OwnerID, a.Title, a.Type).Scan(&a.ID, &a.CreatedAt)
}

// GetAccount returns an account owned by owner.
func (r *LedgerRepo) GetAccount(ctx context.Context, owner uuid.UUID, id int64) (*model.Account, error) {
	const q = `
SELECT id, owner_id, title, type, balance, created_at
FROM accounts WHERE id=$1 AND owner_id=$2`
	var a model.Account
	err := r.db.Pool.QueryRow(ctx, q, id, owner).
		Scan(&a.ID, &a.OwnerID, &a.Title, &a.Type, &a.Balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetTransaction returns a transaction owned by owner.
func (r *LedgerRepo) GetTransaction(ctx context.Context, owner uuid.UUID, id int64) (*model.Transaction, error) {
	const q = `
SELECT id, owner_id, account_id, type, amount, description, created_at
FROM transactions WHERE id=$1 AND owner_id=$2`
	var t model.Transaction
	err := r.db.Pool.QueryRow(ctx, q, id, owner).
		Scan(&t.ID, &t.OwnerID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ApplyNew inserts a transaction and moves the account balance by its delta.
func (r *LedgerRepo) ApplyNew(ctx context.Context, owner uuid.UUID, in model.NewTransaction) (model.LedgerResult, error) {
	const ins = `
INSERT INTO transactions (owner_id, account_id, type, amount, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`

	var res model.LedgerResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		bal, err := lockBalance(ctx, tx, owner, in.AccountID)
		if err != nil {
			return err
		}
		newBal, err := addDelta(bal, in.Type.Delta(in.Amount))
		if err != nil {
			return err
		}
		if err = checkExpected(in.ExpectedBalance, newBal); err != nil {
			return err
		}

		t := model.Transaction{
			OwnerID:     owner,
			AccountID:   in.AccountID,
			Type:        in.Type,
			Amount:      in.Amount,
			Description: in.Description,
		}
		err = tx.QueryRow(ctx, ins, owner, in.AccountID, in.Type, in.Amount, in.Description, in.CreatedAt).
			Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return errs.Aborted(err)
		}
		if err = exec(ctx, tx, updBalance, in.AccountID, owner, newBal); err != nil {
			return err
		}
		res = model.LedgerResult{Transaction: t, Balance: newBal}
		return nil
	})
	if err != nil {
		return model.LedgerResult{}, err
	}
	return res, nil
}

// ApplyUpdate rewrites a transaction and replaces its old delta with the new one.
func (r *LedgerRepo) ApplyUpdate(
	ctx context.Context, owner uuid.UUID, id int64, patch model.TransactionPatch,
) (model.LedgerResult, error) {
	const upd = `UPDATE transactions SET type=$3, amount=$4, description=$5 WHERE id=$1 AND owner_id=$2`

	var res model.LedgerResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		old, err := lockTransaction(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		bal, err := lockBalance(ctx, tx, owner, old.AccountID)
		if err != nil {
			return err
		}

		t := old
		if patch.Type != nil {
			t.Type = *patch.Type
		}
		if patch.Amount != nil {
			t.Amount = *patch.Amount
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		newBal, err := addDelta(bal, -old.Type.Delta(old.Amount))
		if err != nil {
			return err
		}
		if newBal, err = addDelta(newBal, t.Type.Delta(t.Amount)); err != nil {
			return err
		}
		if err = checkExpected(patch.ExpectedBalance, newBal); err != nil {
			return err
		}

		if err = exec(ctx, tx, upd, id, owner, t.Type, t.Amount, t.Description); err != nil {
			return err
		}
		if err = exec(ctx, tx, updBalance, t.AccountID, owner, newBal); err != nil {
			return err
		}
		res = model.LedgerResult{Transaction: t, Balance: newBal}
		return nil
	})
	if err != nil {
		return model.LedgerResult{}, err
	}
	return res, nil
}

// ApplyDelete removes a transaction and reverts its delta.
func (r *LedgerRepo) ApplyDelete(
	ctx context.Context, owner uuid.UUID, id int64, expectedBalance *int64,
) (model.LedgerResult, error) {
	const del = `DELETE FROM transactions WHERE id=$1 AND owner_id=$2`

	var res model.LedgerResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		old, err := lockTransaction(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		bal, err := lockBalance(ctx, tx, owner, old.AccountID)
		if err != nil {
			return err
		}
		newBal, err := addDelta(bal, -old.Type.Delta(old.Amount))
		if err != nil {
			return err
		}
		if err = checkExpected(expectedBalance, newBal); err != nil {
			return err
		}

		if err = exec(ctx, tx, del, id, owner); err != nil {
			return err
		}
		if err = exec(ctx, tx, updBalance, old.AccountID, owner, newBal); err != nil {
			return err
		}
		res = model.LedgerResult{Transaction: old, Balance: newBal}
		return nil
	})
	if err != nil {
		return model.LedgerResult{}, err
	}
	return res, nil
}
