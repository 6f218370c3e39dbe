package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

var txnColumns = []string{
	"id", "hash", "date", "description", "merchant_name", "amount",
	"account_id", "category_id", "tags", "income_override",
	"exclude_from_totals", "category_locked", "tags_locked",
	"merchant_locked", "category_set_by",
}

// SaveTransactions upserts imported transactions. Existing rows keep their
// classification fields; only the imported attributes are refreshed.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transactions (
				id, hash, date, description, merchant_name, amount, account_id,
				category_id, tags, income_override, exclude_from_totals,
				category_locked, tags_locked, merchant_locked, category_set_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				date = excluded.date,
				description = excluded.description,
				amount = excluded.amount,
				account_id = excluded.account_id
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range transactions {
			if txn.Hash == "" {
				txn.Hash = txn.GenerateHash()
			}
			tags, err := json.Marshal(txn.Tags)
			if err != nil {
				return fmt.Errorf("failed to encode tags for %s: %w", txn.ID, err)
			}

			if _, err := stmt.ExecContext(ctx,
				txn.ID, txn.Hash, txn.Date, txn.Description, txn.MerchantName,
				txn.Amount, txn.AccountID, txn.CategoryID, string(tags),
				txn.IncomeOverride, txn.ExcludeFromTotals, txn.CategoryLocked,
				txn.TagsLocked, txn.MerchantLocked, txn.CategorySetBy,
			); err != nil {
				return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
			}
		}
		return nil
	})
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query, args, err := sq.Select(txnColumns...).
		From("transactions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	txn, err := scanTransaction(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetTransactions retrieves transactions matching the filter, ordered by
// date then id for stable paging.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	builder := sq.Select(txnColumns...).From("transactions")
	builder = applyFilter(builder, filter)
	builder = builder.OrderBy("date ASC", "id ASC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// CountTransactions counts transactions matching the filter.
func (s *SQLiteStorage) CountTransactions(ctx context.Context, filter service.TransactionFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	builder := sq.Select("COUNT(*)").From("transactions")
	builder = applyFilter(builder, filter)

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// ApplyTransactionMutation commits the engine's accumulated changes for one
// transaction in a single UPDATE, so a partially-written record is never
// observable.
func (s *SQLiteStorage) ApplyTransactionMutation(ctx context.Context, mutation service.TransactionMutation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(mutation.TxnID, "txn_id"); err != nil {
		return err
	}
	if mutation.Empty() {
		return nil
	}

	builder := sq.Update("transactions")
	if mutation.SetCategory {
		builder = builder.Set("category_id", mutation.CategoryID).
			Set("category_set_by", mutation.CategorySetBy)
	}
	if mutation.SetMerchant {
		name := ""
		if mutation.MerchantName != nil {
			name = *mutation.MerchantName
		}
		builder = builder.Set("merchant_name", name)
	}
	if mutation.SetIncome {
		builder = builder.Set("income_override", mutation.IncomeOverride)
	}
	if mutation.SetExclude {
		builder = builder.Set("exclude_from_totals", mutation.Exclude)
	}
	if mutation.SetTags {
		tags, err := json.Marshal(mutation.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		builder = builder.Set("tags", string(tags))
	}
	builder = builder.Where(sq.Eq{"id": mutation.TxnID})

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to apply mutation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", mutation.TxnID, common.ErrNotFound)
	}
	return nil
}

func applyFilter(builder sq.SelectBuilder, filter service.TransactionFilter) sq.SelectBuilder {
	if filter.StartDate != nil {
		builder = builder.Where(sq.GtOrEq{"date": *filter.StartDate})
	}
	if filter.EndDate != nil {
		builder = builder.Where(sq.LtOrEq{"date": *filter.EndDate})
	}
	if len(filter.AccountIDs) > 0 {
		builder = builder.Where(sq.Eq{"account_id": filter.AccountIDs})
	}
	if filter.CategoryID != nil {
		builder = builder.Where(sq.Eq{"category_id": *filter.CategoryID})
	}
	if filter.OnlyHuman {
		builder = builder.Where("category_id IS NOT NULL AND category_set_by IS NULL")
	}
	if filter.Uncategorized {
		builder = builder.Where("category_id IS NULL")
	}
	return builder
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var tags string
	var categoryID, categorySetBy sql.NullInt64
	var incomeOverride sql.NullBool

	err := row.Scan(
		&txn.ID, &txn.Hash, &txn.Date, &txn.Description, &txn.MerchantName,
		&txn.Amount, &txn.AccountID, &categoryID, &tags, &incomeOverride,
		&txn.ExcludeFromTotals, &txn.CategoryLocked, &txn.TagsLocked,
		&txn.MerchantLocked, &categorySetBy,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		txn.CategoryID = &categoryID.Int64
	}
	if categorySetBy.Valid {
		txn.CategorySetBy = &categorySetBy.Int64
	}
	if incomeOverride.Valid {
		txn.IncomeOverride = &incomeOverride.Bool
	}
	if err := json.Unmarshal([]byte(tags), &txn.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}

	return &txn, nil
}
