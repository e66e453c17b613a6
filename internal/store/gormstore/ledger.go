package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tempandmajor/commonly-payments/pkg/ledger"
)

// WithTx executes fn within a database transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// FindOrCreateAccount returns the account for an owner and type, creating
// it on first use. Concurrent first uses race on the unique owner-type
// index; the loser re-reads the winner's row.
func (store *Store) FindOrCreateAccount(ctx context.Context, ownerUserID *string, accountType ledger.AccountType) (ledger.Account, error) {
	row, err := store.findAccount(ctx, ownerUserID, accountType)
	if err == nil {
		return mapAccount(row)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	row = Account{OwnerUserID: ownerUserID, Type: accountType.String()}
	createErr := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(createErr) {
		row, err = store.findAccount(ctx, ownerUserID, accountType)
		if err != nil {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
		}
		return mapAccount(row)
	}
	if createErr != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, createErr)
	}
	return mapAccount(row)
}

func (store *Store) findAccount(ctx context.Context, ownerUserID *string, accountType ledger.AccountType) (Account, error) {
	var row Account
	query := store.db.WithContext(ctx).Where("type = ?", accountType.String())
	if ownerUserID == nil {
		query = query.Where("owner_user_id IS NULL")
	} else {
		query = query.Where("owner_user_id = ?", *ownerUserID)
	}
	err := query.Take(&row).Error
	return row, err
}

// FindTransactionByReference returns nil without error when no transaction
// carries the reference.
func (store *Store) FindTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error) {
	var row LedgerTransaction
	err := store.db.WithContext(ctx).Where("reference = ?", reference).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return &ledger.Transaction{
		TransactionID:  row.TransactionID,
		Reference:      row.Reference,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

// InsertTransaction writes the transaction row and all of its legs. Callers
// run it inside WithTx so the multi-row write is atomic.
func (store *Store) InsertTransaction(ctx context.Context, input ledger.TransactionInput) error {
	createdAt := unixTime(input.CreatedUnixUTC)
	transaction := LedgerTransaction{
		TransactionID: input.TransactionID,
		Reference:     input.Reference,
		CreatedAt:     createdAt,
	}
	err := store.db.WithContext(ctx).Create(&transaction).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	rows := make([]LedgerEntry, 0, len(input.Legs))
	for _, leg := range input.Legs {
		rows = append(rows, LedgerEntry{
			TransactionID: input.TransactionID,
			AccountID:     leg.AccountID,
			AmountCents:   leg.AmountCents.Int64(),
			Description:   leg.Description,
			CreatedAt:     createdAt,
		})
	}
	if err := store.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// SumAccountEntries totals every entry posted to an account.
func (store *Store) SumAccountEntries(ctx context.Context, accountID string) (ledger.AmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return ledger.AmountCents(sum.Total), nil
}

// ListAccountEntries returns entries newest-first, created strictly before
// beforeUnixUTC. Zero means no upper bound.
func (store *Store) ListAccountEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID)
	if beforeUnixUTC != 0 {
		query = query.Where("created_at < ?", unixTime(beforeUnixUTC))
	}
	var rows []LedgerEntry
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ledger.Entry{
			EntryID:        row.EntryID,
			TransactionID:  row.TransactionID,
			AccountID:      row.AccountID,
			AmountCents:    ledger.AmountCents(row.AmountCents),
			Description:    row.Description,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return entries, nil
}

func mapAccount(row Account) (ledger.Account, error) {
	accountType, err := ledger.ParseAccountType(row.Type)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		AccountID:   row.AccountID,
		OwnerUserID: row.OwnerUserID,
		Type:        accountType,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}
