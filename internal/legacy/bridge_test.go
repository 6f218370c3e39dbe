package legacy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
	"github.com/ledgermint/ledgermint/internal/storage"
)

// seededStore overlays fixed legacy rows on a real store, since legacy tables
// are only ever written by external importers.
type seededStore struct {
	*storage.SQLiteStorage
	keywords []service.LegacyKeywordRule
	tags     []service.LegacyTagRule
}

func (s *seededStore) GetLegacyKeywordRules(_ context.Context) ([]service.LegacyKeywordRule, error) {
	return s.keywords, nil
}

func (s *seededStore) GetLegacyTagRules(_ context.Context) ([]service.LegacyTagRule, error) {
	return s.tags, nil
}

func newSeededStore(t *testing.T) (*seededStore, int64) {
	t.Helper()
	ctx := context.Background()

	sqlite, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	require.NoError(t, sqlite.Migrate(ctx))

	category, err := sqlite.CreateCategory(ctx, "Dining", false)
	require.NoError(t, err)

	return &seededStore{SQLiteStorage: sqlite}, category.ID
}

func TestTranslateKeywordRule(t *testing.T) {
	rule := TranslateKeywordRule(service.LegacyKeywordRule{
		ID:         12,
		Keyword:    "STARBUCKS",
		CategoryID: 7,
	})

	assert.Equal(t, KeywordIDOffset+12, rule.ID)
	assert.Equal(t, model.TierLegacyArchived, rule.Tier)
	assert.Equal(t, model.SourceLegacy, rule.Source)
	assert.Equal(t, "legacy:keyword:12", rule.Origin)
	assert.True(t, rule.Enabled)

	require.NotNil(t, rule.Conditions.Description)
	assert.Equal(t, model.OperatorContains, rule.Conditions.Description.Operator)
	assert.Equal(t, "STARBUCKS", rule.Conditions.Description.Value)
	assert.Equal(t, model.SemanticsNormalized, rule.Conditions.Description.Semantics)

	require.NotNil(t, rule.Actions.Category)
	assert.Equal(t, int64(7), *rule.Actions.Category.CategoryID)
	assert.Nil(t, rule.Actions.Tags)
}

func TestTranslateTagRule(t *testing.T) {
	rule := TranslateTagRule(service.LegacyTagRule{
		ID:      3,
		Keyword: "uber",
		Tags:    []string{"travel", "rideshare"},
	})

	assert.Equal(t, TagIDOffset+3, rule.ID)
	assert.Equal(t, model.TierLegacyCompat, rule.Tier)
	assert.Equal(t, "legacy:tags:3", rule.Origin)

	require.NotNil(t, rule.Actions.Tags)
	assert.Equal(t, model.TagAppend, rule.Actions.Tags.Mode)
	assert.Equal(t, []string{"travel", "rideshare"}, rule.Actions.Tags.Values)
	assert.Nil(t, rule.Actions.Category)
}

func TestSyntheticIDsNeverCollide(t *testing.T) {
	keyword := TranslateKeywordRule(service.LegacyKeywordRule{ID: 5, Keyword: "a", CategoryID: 1})
	tag := TranslateTagRule(service.LegacyTagRule{ID: 5, Keyword: "a"})

	assert.NotEqual(t, keyword.ID, tag.ID)
	assert.Greater(t, keyword.ID, int64(1)<<39, "bridged ids stay clear of real rule ids")
}

func TestBridgedRulesCombinesBothShapes(t *testing.T) {
	store, categoryID := newSeededStore(t)
	store.keywords = []service.LegacyKeywordRule{
		{ID: 1, Keyword: "STARBUCKS", CategoryID: categoryID},
	}
	store.tags = []service.LegacyTagRule{
		{ID: 1, Keyword: "uber", Tags: []string{"travel"}},
	}

	bridged, err := NewBridge(store).BridgedRules(context.Background())
	require.NoError(t, err)

	require.Len(t, bridged, 2)
	assert.Equal(t, model.TierLegacyArchived, bridged[0].Tier)
	assert.Equal(t, model.TierLegacyCompat, bridged[1].Tier)
}

func TestMaterializeImportsIntoDraftSet(t *testing.T) {
	store, categoryID := newSeededStore(t)
	store.keywords = []service.LegacyKeywordRule{
		{ID: 1, Keyword: "STARBUCKS", CategoryID: categoryID},
		{ID: 2, Keyword: "PEETS", CategoryID: categoryID},
	}
	store.tags = []service.LegacyTagRule{
		{ID: 1, Keyword: "uber", Tags: []string{"travel"}},
	}
	ctx := context.Background()

	set, imported, err := NewBridge(store).Materialize(ctx)
	require.NoError(t, err)

	assert.Equal(t, "legacy_default", set.Name)
	assert.Equal(t, model.RuleSetDraft, set.State)
	assert.Equal(t, 3, imported)

	rules, err := store.GetRulesBySet(ctx, set.ID)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	for _, r := range rules {
		assert.Less(t, r.ID, KeywordIDOffset, "materialized rules get real ids")
		assert.Equal(t, set.ID, r.RuleSetID)
		assert.Equal(t, model.SourceLegacy, r.Source)
	}

	entries, err := store.GetAuditEntries(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, entry := range entries {
		if entry.Kind == model.AuditLegacyImported {
			found = true
		}
	}
	assert.True(t, found)
}
