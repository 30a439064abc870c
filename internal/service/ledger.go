package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/repository"
)

const (
	maxDescriptionLen = 500
	maxTitleLen       = 100
	// MaxAmount caps a single transaction, in minor units.
	MaxAmount int64 = 1_000_000_000_000_000
)

// LedgerService defines account and transaction operations. Every mutation of a
// transaction changes the account balance in the same unit of work.
type LedgerService interface {
	// CreateAccount opens an account with a zero balance.
	CreateAccount(ctx context.Context, owner uuid.UUID, title string, typ model.AccountType) (*model.Account, error)
	// GetAccount returns one of the owner's accounts.
	GetAccount(ctx context.Context, owner uuid.UUID, id int64) (*model.Account, error)
	// GetTransaction returns one of the owner's transactions.
	GetTransaction(ctx context.Context, owner uuid.UUID, id int64) (*model.Transaction, error)
	// AddTransaction records a transaction and applies it to the balance.
	AddTransaction(ctx context.Context, owner uuid.UUID, in model.NewTransaction) (model.LedgerResult, error)
	// UpdateTransaction changes a transaction and corrects the balance.
	UpdateTransaction(ctx context.Context, owner uuid.UUID, id int64, patch model.TransactionPatch) (model.LedgerResult, error)
	// DeleteTransaction removes a transaction and reverts it from the balance.
	DeleteTransaction(ctx context.Context, owner uuid.UUID, id int64, expectedBalance *int64) (model.LedgerResult, error)
}

type LedgerServiceImpl struct {
	repo repository.LedgerRepository
	now  func() time.Time
}

// NewLedgerService constructs LedgerService.
func NewLedgerService(repo repository.LedgerRepository) *LedgerServiceImpl {
	return &LedgerServiceImpl{repo: repo, now: time.Now}
}

var (
	errAmount      = errs.New(errs.ErrBadRequest, "amount must be greater than zero")
	errAmountLimit = errs.New(errs.ErrBadRequest, "amount exceeds the per-transaction limit")
	errTxType      = errs.New(errs.ErrBadRequest, "unknown transaction type")
	errDescription = errs.New(errs.ErrBadRequest, "description is too long")
)

func validateEntry(typ model.TxType, amount int64, description string) error {
	if amount <= 0 {
		return errAmount
	}
	if amount > MaxAmount {
		return errAmountLimit
	}
	if !typ.Valid() {
		return errTxType
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return errDescription
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.Wrap(errs.ErrNotFound, what+" not found", err)
	}
	return err
}

// CreateAccount validates and stores a new account.
func (s *LedgerServiceImpl) CreateAccount(
	ctx context.Context, owner uuid.UUID, title string, typ model.AccountType,
) (*model.Account, error) {
	if owner == uuid.Nil {
		return nil, errs.ErrInvalidToken
	}
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return nil, errs.New(errs.ErrBadRequest, "title is required and must be at most 100 characters")
	}
	if !typ.Valid() {
		return nil, errs.New(errs.ErrBadRequest, "unknown account type")
	}
	a := &model.Account{OwnerID: owner, Title: title, Type: typ}
	if err := s.repo.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAccount loads an account.
func (s *LedgerServiceImpl) GetAccount(ctx context.Context, owner uuid.UUID, id int64) (*model.Account, error) {
	a, err := s.repo.GetAccount(ctx, owner, id)
	if err != nil {
		return nil, notFound(err, "account")
	}
	return a, nil
}

// GetTransaction loads a transaction.
func (s *LedgerServiceImpl) GetTransaction(ctx context.Context, owner uuid.UUID, id int64) (*model.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, owner, id)
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return t, nil
}

// AddTransaction rejects invalid input before touching the database.
func (s *LedgerServiceImpl) AddTransaction(
	ctx context.Context, owner uuid.UUID, in model.NewTransaction,
) (model.LedgerResult, error) {
	if owner == uuid.Nil {
		return model.LedgerResult{}, errs.ErrInvalidToken
	}
	if err := validateEntry(in.Type, in.Amount, in.Description); err != nil {
		return model.LedgerResult{}, err
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now().UTC()
	}
	res, err := s.repo.ApplyNew(ctx, owner, in)
	if err != nil {
		return model.LedgerResult{}, notFound(err, "account")
	}
	return res, nil
}

// UpdateTransaction validates the fields being changed.
func (s *LedgerServiceImpl) UpdateTransaction(
	ctx context.Context, owner uuid.UUID, id int64, patch model.TransactionPatch,
) (model.LedgerResult, error) {
	if owner == uuid.Nil {
		return model.LedgerResult{}, errs.ErrInvalidToken
	}
	if patch.Type == nil && patch.Amount == nil && patch.Description == nil {
		return model.LedgerResult{}, errs.New(errs.ErrBadRequest, "nothing to update")
	}
	if patch.Amount != nil && *patch.Amount <= 0 {
		return model.LedgerResult{}, errAmount
	}
	if patch.Amount != nil && *patch.Amount > MaxAmount {
		return model.LedgerResult{}, errAmountLimit
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return model.LedgerResult{}, errTxType
	}
	if patch.Description != nil && utf8.RuneCountInString(*patch.Description) > maxDescriptionLen {
		return model.LedgerResult{}, errDescription
	}
	res, err := s.repo.ApplyUpdate(ctx, owner, id, patch)
	if err != nil {
		return model.LedgerResult{}, notFound(err, "transaction")
	}
	return res, nil
}

// DeleteTransaction removes a transaction.
func (s *LedgerServiceImpl) DeleteTransaction(
	ctx context.Context, owner uuid.UUID, id int64, expectedBalance *int64,
) (model.LedgerResult, error) {
	if owner == uuid.Nil {
		return model.LedgerResult{}, errs.ErrInvalidToken
	}
	res, err := s.repo.ApplyDelete(ctx, owner, id, expectedBalance)
	if err != nil {
		return model.LedgerResult{}, notFound(err, "transaction")
	}
	return res, nil
}
