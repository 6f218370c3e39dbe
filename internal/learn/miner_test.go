package learn

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
	"github.com/ledgermint/ledgermint/internal/storage"
)

type minerFixture struct {
	store     *storage.SQLiteStorage
	miner     *Miner
	active    *model.RuleSet
	streaming int64
	groceries int64
	nextTxn   int
}

func newMinerFixture(t *testing.T) *minerFixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	streaming, err := store.CreateCategory(ctx, "Streaming", false)
	require.NoError(t, err)
	groceries, err := store.CreateCategory(ctx, "Groceries", false)
	require.NoError(t, err)

	active := &model.RuleSet{Name: "live"}
	require.NoError(t, store.CreateRuleSet(ctx, active))
	require.NoError(t, store.ActivateRuleSet(ctx, active.ID))

	return &minerFixture{
		store:     store,
		miner:     NewMiner(store),
		active:    active,
		streaming: streaming.ID,
		groceries: groceries.ID,
	}
}

// seedHuman stores n human-categorized transactions for one merchant.
func (f *minerFixture) seedHuman(t *testing.T, merchant string, categoryID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.nextTxn++
		txn := model.Transaction{
			ID:           fmt.Sprintf("txn-%d", f.nextTxn),
			Date:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Description:  merchant + " purchase",
			MerchantName: merchant,
			Amount:       -10,
			AccountID:    "checking",
			CategoryID:   &categoryID,
		}
		require.NoError(t, f.store.SaveTransactions(context.Background(), []model.Transaction{txn}))
	}
}

func TestLearnRequiresMinimumSamples(t *testing.T) {
	f := newMinerFixture(t)

	f.seedHuman(t, "NETFLIX.COM", f.streaming, 5)
	f.seedHuman(t, "HULU.COM", f.streaming, 4)

	suggestions, err := f.miner.Learn(context.Background(), Params{MinSamples: 5})
	require.NoError(t, err)

	require.Len(t, suggestions, 1)
	assert.Equal(t, "netflix com", suggestions[0].MerchantPattern)
	assert.Equal(t, f.streaming, suggestions[0].CategoryID)
	assert.Equal(t, 5, suggestions[0].SampleCount)
	assert.Equal(t, model.SuggestionPending, suggestions[0].State)
	assert.NotEmpty(t, suggestions[0].RunID)
}

func TestLearnRequiresConsistency(t *testing.T) {
	f := newMinerFixture(t)

	// 6 of 10 streaming: 0.6 consistency, below the 0.8 floor.
	f.seedHuman(t, "AMAZON.COM", f.streaming, 6)
	f.seedHuman(t, "AMAZON.COM", f.groceries, 4)
	// 9 of 10 streaming qualifies.
	f.seedHuman(t, "NETFLIX.COM", f.streaming, 9)
	f.seedHuman(t, "NETFLIX.COM", f.groceries, 1)

	suggestions, err := f.miner.Learn(context.Background(), Params{})
	require.NoError(t, err)

	require.Len(t, suggestions, 1)
	assert.Equal(t, "netflix com", suggestions[0].MerchantPattern)
	assert.InDelta(t, 0.9, suggestions[0].ConsistencyRatio, 1e-9)
}

func TestLearnConfidenceGrowsWithVolume(t *testing.T) {
	f := newMinerFixture(t)

	f.seedHuman(t, "NETFLIX.COM", f.streaming, 5)
	f.seedHuman(t, "SAFEWAY", f.groceries, 30)

	suggestions, err := f.miner.Learn(context.Background(), Params{})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	// Both perfectly consistent; the larger sample ranks first.
	assert.Equal(t, "safeway", suggestions[0].MerchantPattern)
	assert.InDelta(t, 30.0/33.0, suggestions[0].Confidence, 1e-9)
	assert.InDelta(t, 5.0/8.0, suggestions[1].Confidence, 1e-9)
}

func TestLearnCapsSuggestionsDeterministically(t *testing.T) {
	f := newMinerFixture(t)

	for i := 0; i < 8; i++ {
		f.seedHuman(t, fmt.Sprintf("MERCHANT-%d", i), f.groceries, 5)
	}

	first, err := f.miner.Learn(context.Background(), Params{MaxSuggestions: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Identical confidence across the board: the pattern text tiebreak keeps
	// the cap stable across runs.
	assert.Equal(t, "merchant 0", first[0].MerchantPattern)
	assert.Equal(t, "merchant 1", first[1].MerchantPattern)
	assert.Equal(t, "merchant 2", first[2].MerchantPattern)
}

func TestLearnSkipsPatternsCoveredByActiveRules(t *testing.T) {
	f := newMinerFixture(t)
	ctx := context.Background()

	rule := model.Rule{
		RuleSetID: f.active.ID,
		Name:      "netflix",
		Tier:      model.TierGeneratedCurated,
		Source:    model.SourceManual,
		Enabled:   true,
		Conditions: model.Conditions{
			Merchant: &model.TextCondition{Operator: model.OperatorEquals, Value: "NETFLIX.COM"},
		},
		Actions: model.Actions{Category: &model.CategoryAction{CategoryID: &f.streaming}},
	}
	require.NoError(t, f.store.CreateRule(ctx, &rule))

	f.seedHuman(t, "NETFLIX.COM", f.streaming, 10)
	f.seedHuman(t, "HULU.COM", f.streaming, 10)

	suggestions, err := f.miner.Learn(ctx, Params{})
	require.NoError(t, err)

	require.Len(t, suggestions, 1)
	assert.Equal(t, "hulu com", suggestions[0].MerchantPattern)
}

func TestLearnIgnoresRuleCategorizedTransactions(t *testing.T) {
	f := newMinerFixture(t)
	ctx := context.Background()

	// Categorized by a rule, not a human: provenance set.
	setBy := int64(99)
	for i := 0; i < 10; i++ {
		txn := model.Transaction{
			ID:            fmt.Sprintf("auto-%d", i),
			Date:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Description:   "SPOTIFY",
			MerchantName:  "SPOTIFY",
			Amount:        -10,
			AccountID:     "checking",
			CategoryID:    &f.streaming,
			CategorySetBy: &setBy,
		}
		require.NoError(t, f.store.SaveTransactions(ctx, []model.Transaction{txn}))
	}

	suggestions, err := f.miner.Learn(ctx, Params{})
	require.NoError(t, err)
	assert.Empty(t, suggestions, "only human categorizations feed the miner")
}

func TestApplyMaterializesAcceptedSuggestion(t *testing.T) {
	f := newMinerFixture(t)
	ctx := context.Background()

	f.seedHuman(t, "NETFLIX.COM", f.streaming, 6)
	suggestions, err := f.miner.Learn(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	created, err := f.miner.Apply(ctx, []int64{suggestions[0].ID})
	require.NoError(t, err)
	require.Len(t, created, 1)

	rule := created[0]
	assert.Equal(t, f.active.ID, rule.RuleSetID)
	assert.Equal(t, model.TierGeneratedCurated, rule.Tier)
	assert.Equal(t, model.SourceLearned, rule.Source)
	assert.Equal(t, OriginPrefix+suggestions[0].RunID, rule.Origin)
	require.NotNil(t, rule.Conditions.Merchant)
	assert.Equal(t, "netflix com", rule.Conditions.Merchant.Value)
	assert.Equal(t, model.SemanticsNormalized, rule.Conditions.Merchant.Semantics)
	require.NotNil(t, rule.Actions.Category)
	assert.Equal(t, f.streaming, *rule.Actions.Category.CategoryID)

	stored, err := f.store.GetSuggestionByID(ctx, suggestions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionAccepted, stored.State)

	// A second accept of the same suggestion must fail.
	_, err = f.miner.Apply(ctx, []int64{suggestions[0].ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
}

func TestRejectLeavesOnlyAuditTrace(t *testing.T) {
	f := newMinerFixture(t)
	ctx := context.Background()

	f.seedHuman(t, "NETFLIX.COM", f.streaming, 6)
	suggestions, err := f.miner.Learn(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	require.NoError(t, f.miner.Reject(ctx, []int64{suggestions[0].ID}))

	stored, err := f.store.GetSuggestionByID(ctx, suggestions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionRejected, stored.State)

	// No rule was created.
	ruleList, err := f.store.GetRulesBySet(ctx, f.active.ID)
	require.NoError(t, err)
	assert.Empty(t, ruleList)

	entries, err := f.store.GetAuditEntries(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, entry := range entries {
		if entry.Kind == model.AuditSuggestionRejected {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRevertRemovesRunRulesButKeepsProtected(t *testing.T) {
	f := newMinerFixture(t)
	ctx := context.Background()

	f.seedHuman(t, "NETFLIX.COM", f.streaming, 6)
	f.seedHuman(t, "SAFEWAY", f.groceries, 6)
	suggestions, err := f.miner.Learn(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	created, err := f.miner.Apply(ctx, []int64{suggestions[0].ID, suggestions[1].ID})
	require.NoError(t, err)
	require.Len(t, created, 2)
	runID := suggestions[0].RunID

	// One of the learned rules was since promoted; revert must not touch it.
	require.NoError(t, f.store.SetRuleTier(ctx, created[0].ID, model.TierProtectedCore))

	removed, err := f.miner.Revert(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []int64{created[1].ID}, removed)

	kept, err := f.store.GetRule(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierProtectedCore, kept.Tier)

	_, err = f.store.GetRule(ctx, created[1].ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

type stubProvider struct {
	suggestions []service.ProviderSuggestion
}

func (p stubProvider) SuggestBatch(_ context.Context, _ []service.TransactionSummary) ([]service.ProviderSuggestion, error) {
	return p.suggestions, nil
}

func TestImportProviderSuggestionsFilesIntoPendingInbox(t *testing.T) {
	f := newMinerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.nextTxn++
		txn := model.Transaction{
			ID:           fmt.Sprintf("txn-%d", f.nextTxn),
			Date:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Description:  "NETFLIX.COM purchase",
			MerchantName: "NETFLIX.COM",
			Amount:       -15.49,
			AccountID:    "checking",
		}
		require.NoError(t, f.store.SaveTransactions(ctx, []model.Transaction{txn}))
	}

	provider := stubProvider{suggestions: []service.ProviderSuggestion{
		{TxnID: "txn-1", CategoryName: "Streaming", Merchant: "NETFLIX.COM", Confidence: 0.9, Reasoning: "recurring subscription"},
		{TxnID: "txn-2", CategoryName: "No Such Category", Merchant: "NETFLIX.COM", Confidence: 0.9},
		{TxnID: "txn-3", CategoryName: "Streaming", Merchant: "  ", Confidence: 0.5},
	}}

	saved, err := f.miner.ImportProviderSuggestions(ctx, provider, service.TransactionFilter{Uncategorized: true}, 10)
	require.NoError(t, err)

	// Unknown categories and empty merchants are dropped, not errors.
	require.Len(t, saved, 1)
	assert.Equal(t, "netflix com", saved[0].MerchantPattern)
	assert.Equal(t, f.streaming, saved[0].CategoryID)
	assert.Equal(t, model.SuggestionPending, saved[0].State)
	assert.Equal(t, model.OriginProvider, saved[0].Origin)
	assert.Equal(t, "recurring subscription", saved[0].Reason)
	assert.NotZero(t, saved[0].ID)

	pending, err := f.store.GetSuggestions(ctx, model.SuggestionPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestImportProviderSuggestionsRequiresProvider(t *testing.T) {
	f := newMinerFixture(t)

	_, err := f.miner.ImportProviderSuggestions(context.Background(), nil, service.TransactionFilter{}, 10)
	assert.Error(t, err)
}
