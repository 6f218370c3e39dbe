package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
)

func TestCreateCategoryRejectsDuplicates(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_, err := store.CreateCategory(ctx, "Groceries", false)
	require.NoError(t, err)

	_, err = store.CreateCategory(ctx, "Groceries", false)
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestGetCategoryByNameIsCaseInsensitive(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	created, err := store.CreateCategory(ctx, "Groceries", false)
	require.NoError(t, err)

	found, err := store.GetCategoryByName(ctx, "  groceries ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = store.GetCategoryByName(ctx, "Utilities")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetCategoriesAlphabetical(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	_, err := store.CreateCategory(ctx, "Utilities", false)
	require.NoError(t, err)
	_, err = store.CreateCategory(ctx, "Groceries", false)
	require.NoError(t, err)
	income, err := store.CreateCategory(ctx, "Salary", true)
	require.NoError(t, err)
	assert.True(t, income.IsIncome)

	categories, err := store.GetCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 3)
	assert.Equal(t, "Groceries", categories[0].Name)
	assert.Equal(t, "Salary", categories[1].Name)
	assert.Equal(t, "Utilities", categories[2].Name)
}

func TestAppendAuditAssignsID(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAudit(ctx, model.AuditEntry{
		Kind:   model.AuditCleanupApplied,
		Detail: "removed 2 rules",
	}))

	entries, err := store.GetAuditEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, model.AuditCleanupApplied, entries[0].Kind)
	assert.Equal(t, "removed 2 rules", entries[0].Detail)
}

func TestGetAuditEntriesHonorsLimit(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAudit(ctx, model.AuditEntry{
			Kind:   model.AuditRuleSetActivated,
			Detail: "swap",
		}))
	}

	entries, err := store.GetAuditEntries(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = store.GetAuditEntries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
