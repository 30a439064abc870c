package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccountType enumerates supported account kinds.
type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCredit     AccountType = "credit"
	AccountCash       AccountType = "cash"
	AccountInvestment AccountType = "investment"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCredit, AccountCash, AccountInvestment:
		return true
	}
	return false
}

// Account holds a balance in the smallest currency unit.
type Account struct {
	ID        int64
	OwnerID   uuid.UUID
	Title     string
	Type      AccountType
	Balance   int64
	CreatedAt time.Time
}

// TxType is the kind of a ledger transaction.
type TxType string

const (
	TxDeposit    TxType = "Deposit"
	TxWithdrawal TxType = "Withdrawal"
	TxTransfer   TxType = "Transfer"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TxDeposit || t == TxWithdrawal || t == TxTransfer
}

// Delta returns the signed balance effect of amount for this type.
func (t TxType) Delta(amount int64) int64 {
	if t == TxDeposit {
		return amount
	}
	return -amount
}

// Transaction is a single ledger entry. Amount is always positive.
type Transaction struct {
	ID          int64
	OwnerID     uuid.UUID
	AccountID   int64
	Type        TxType
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// NewTransaction is a request to append a ledger entry.
// ExpectedBalance, when set, must equal the balance the server derives.
type NewTransaction struct {
	AccountID       int64
	Type            TxType
	Amount          int64
	Description     string
	CreatedAt       time.Time
	ExpectedBalance *int64
}

// TransactionPatch changes an existing entry; nil fields are kept.
type TransactionPatch struct {
	Type            *TxType
	Amount          *int64
	Description     *string
	ExpectedBalance *int64
}

// LedgerResult reports the entry and the account balance after a committed change.
type LedgerResult struct {
	Transaction Transaction
	Balance     int64
}
