package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

func TestSaveTransactionsUpsertPreservesClassification(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	categoryID := seedCategory(t, store, "Streaming")

	txn := testTxn("t1")
	txn.MerchantName = "netflix"
	txn.CategoryID = &categoryID
	txn.Tags = []string{"subscription"}
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))

	// A re-import of the same transaction carries no classification; the
	// stored category, tags, and merchant must survive.
	reimport := testTxn("t1")
	reimport.Description = "NETFLIX.COM UPDATED"
	reimport.Amount = -11.99
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{reimport}))

	stored, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "NETFLIX.COM UPDATED", stored.Description)
	assert.Equal(t, -11.99, stored.Amount)
	require.NotNil(t, stored.CategoryID)
	assert.Equal(t, categoryID, *stored.CategoryID)
	assert.Equal(t, []string{"subscription"}, stored.Tags)
	assert.Equal(t, "netflix", stored.MerchantName)
}

func TestGetTransactionByIDNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetTransactionByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetTransactionsFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	categoryID := seedCategory(t, store, "Streaming")
	ruleID := int64(7)

	january := testTxn("jan")
	january.Date = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	human := testTxn("human")
	human.CategoryID = &categoryID

	machine := testTxn("machine")
	machine.CategoryID = &categoryID
	machine.CategorySetBy = &ruleID

	savings := testTxn("savings")
	savings.AccountID = "savings"

	require.NoError(t, store.SaveTransactions(ctx,
		[]model.Transaction{january, human, machine, savings}))

	ids := func(filter service.TransactionFilter) []string {
		page, err := store.GetTransactions(ctx, filter)
		require.NoError(t, err)
		var out []string
		for _, txn := range page {
			out = append(out, txn.ID)
		}
		return out
	}

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.ElementsMatch(t, []string{"human", "machine", "savings"},
		ids(service.TransactionFilter{StartDate: &from}))

	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"jan"}, ids(service.TransactionFilter{EndDate: &to}))

	assert.Equal(t, []string{"savings"},
		ids(service.TransactionFilter{AccountIDs: []string{"savings"}}))

	assert.Equal(t, []string{"human"}, ids(service.TransactionFilter{OnlyHuman: true}))

	assert.ElementsMatch(t, []string{"jan", "savings"},
		ids(service.TransactionFilter{Uncategorized: true}))

	assert.ElementsMatch(t, []string{"human", "machine"},
		ids(service.TransactionFilter{CategoryID: &categoryID}))
}

func TestGetTransactionsPaging(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		testTxn("a"), testTxn("b"), testTxn("c"),
	}))

	page, err := store.GetTransactions(ctx, service.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)

	page, err = store.GetTransactions(ctx, service.TransactionFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)

	count, err := store.CountTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestApplyTransactionMutation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	categoryID := seedCategory(t, store, "Streaming")
	ruleID := int64(3)

	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{testTxn("t1")}))

	mutation := service.TransactionMutation{
		TxnID:         "t1",
		SetCategory:   true,
		CategoryID:    &categoryID,
		CategorySetBy: &ruleID,
		SetTags:       true,
		Tags:          []string{"subscription"},
	}
	require.NoError(t, store.ApplyTransactionMutation(ctx, mutation))

	stored, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, stored.CategoryID)
	assert.Equal(t, categoryID, *stored.CategoryID)
	require.NotNil(t, stored.CategorySetBy)
	assert.Equal(t, ruleID, *stored.CategorySetBy)
	assert.Equal(t, []string{"subscription"}, stored.Tags)
	// Untouched fields stay untouched.
	assert.Equal(t, "TEST t1", stored.Description)
	assert.False(t, stored.ExcludeFromTotals)
}

func TestApplyTransactionMutationClearsCategory(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	categoryID := seedCategory(t, store, "Streaming")

	txn := testTxn("t1")
	txn.CategoryID = &categoryID
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))

	require.NoError(t, store.ApplyTransactionMutation(ctx, service.TransactionMutation{
		TxnID:       "t1",
		SetCategory: true,
	}))

	stored, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, stored.CategoryID)
	assert.Nil(t, stored.CategorySetBy)
}

func TestApplyTransactionMutationEmptyIsNoOp(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.ApplyTransactionMutation(context.Background(),
		service.TransactionMutation{TxnID: "whatever"}))
}

func TestApplyTransactionMutationUnknownTxn(t *testing.T) {
	store := newTestStorage(t)

	exclude := true
	err := store.ApplyTransactionMutation(context.Background(), service.TransactionMutation{
		TxnID:      "missing",
		SetExclude: true,
		Exclude:    &exclude,
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}
