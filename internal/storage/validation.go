package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgermint/ledgermint/internal/model"
)

var errNilContext = errors.New("context cannot be nil")

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errNilContext
	}
	return nil
}

func validateString(s, name string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

// validateTransactions rejects a batch before any row is written, so an
// upsert never partially applies.
func validateTransactions(transactions []model.Transaction) error {
	if len(transactions) == 0 {
		return errors.New("transactions cannot be empty")
	}
	for i, txn := range transactions {
		if txn.ID == "" {
			return fmt.Errorf("transaction %d: missing id", i)
		}
		if txn.Date.IsZero() {
			return fmt.Errorf("transaction %s: missing date", txn.ID)
		}
		if txn.AccountID == "" {
			return fmt.Errorf("transaction %s: missing account id", txn.ID)
		}
	}
	return nil
}
