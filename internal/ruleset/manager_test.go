package ruleset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/rules"
	"github.com/ledgermint/ledgermint/internal/storage"
)

type managerFixture struct {
	store     *storage.SQLiteStorage
	manager   *Manager
	active    *model.RuleSet
	streaming int64
	groceries int64
}

func newManagerFixture(t *testing.T) *managerFixture {
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

	engine := rules.NewEngine(store, nil)
	return &managerFixture{
		store:     store,
		manager:   NewManager(store, engine),
		active:    active,
		streaming: streaming.ID,
		groceries: groceries.ID,
	}
}

func (f *managerFixture) createRule(t *testing.T, setID int64, rule model.Rule) int64 {
	t.Helper()
	rule.RuleSetID = setID
	if rule.Tier == "" {
		rule.Tier = model.TierGeneratedCurated
	}
	if rule.Source == "" {
		rule.Source = model.SourceManual
	}
	rule.Enabled = true
	require.NoError(t, f.store.CreateRule(context.Background(), &rule))
	return rule.ID
}

func (f *managerFixture) saveTxn(t *testing.T, txn model.Transaction) {
	t.Helper()
	if txn.Date.IsZero() {
		txn.Date = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	if txn.AccountID == "" {
		txn.AccountID = "checking"
	}
	require.NoError(t, f.store.SaveTransactions(context.Background(), []model.Transaction{txn}))
}

func categoryAction(id int64) model.Actions {
	return model.Actions{Category: &model.CategoryAction{CategoryID: &id}}
}

func merchantCond(op model.TextOperator, value string) model.Conditions {
	return model.Conditions{Merchant: &model.TextCondition{Operator: op, Value: value}}
}

func TestActivateSwapsActiveSet(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Create(ctx, "candidate", nil)
	require.NoError(t, err)

	require.NoError(t, f.manager.Activate(ctx, draft.ID))

	current, err := f.store.GetActiveRuleSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, current.ID)

	old, err := f.store.GetRuleSet(ctx, f.active.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RuleSetSuperseded, old.State)
}

func TestActivateActiveSetIsNoOp(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Activate(context.Background(), f.active.ID))
}

func TestActivateSupersededSetFails(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Create(ctx, "candidate", nil)
	require.NoError(t, err)
	require.NoError(t, f.manager.Activate(ctx, draft.ID))

	// The original active set is now superseded and may not come back.
	err = f.manager.Activate(ctx, f.active.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotDraft)
}

func TestActivateRecordsAudit(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	draft, err := f.manager.Create(ctx, "candidate", nil)
	require.NoError(t, err)
	require.NoError(t, f.manager.Activate(ctx, draft.ID))

	entries, err := f.store.GetAuditEntries(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	found := false
	for _, entry := range entries {
		if entry.Kind == model.AuditRuleSetActivated && entry.RuleSetID != nil && *entry.RuleSetID == draft.ID {
			found = true
		}
	}
	assert.True(t, found, "activation must leave an audit entry")
}

func TestShadowCompareReportsCategoryChange(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.createRule(t, f.active.ID, model.Rule{
		Name:       "netflix streaming",
		Conditions: merchantCond(model.OperatorEquals, "netflix"),
		Actions:    categoryAction(f.streaming),
	})

	candidate, err := f.manager.Create(ctx, "candidate", nil)
	require.NoError(t, err)
	candidateRule := f.createRule(t, candidate.ID, model.Rule{
		Name:       "netflix groceries",
		Conditions: merchantCond(model.OperatorEquals, "netflix"),
		Actions:    categoryAction(f.groceries),
	})

	f.saveTxn(t, model.Transaction{ID: "t1", Description: "NETFLIX.COM", MerchantName: "netflix", Amount: -9.99})
	f.saveTxn(t, model.Transaction{ID: "t2", Description: "SAFEWAY", MerchantName: "safeway", Amount: -40})

	report, err := f.manager.ShadowCompare(ctx, candidate.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Population)
	assert.Equal(t, 1, report.FieldCounts["category"])
	require.Len(t, report.Diffs, 1)
	assert.Equal(t, "t1", report.Diffs[0].TxnID)
	require.Len(t, report.Diffs[0].Changes, 1)
	assert.Equal(t, "category", report.Diffs[0].Changes[0].Field)

	assert.NotEmpty(t, report.RulesOnlyActive)
	assert.Equal(t, []int64{candidateRule}, report.RulesOnlyCandidate)
}

func TestShadowCompareRejectsActiveSet(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.ShadowCompare(context.Background(), f.active.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already the active rule set")
}

func TestCleanupPreviewFindsDeadAndShadowed(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// Ranks first: broad contains rule that owns category for everything
	// matching "net".
	broad := f.createRule(t, f.active.ID, model.Rule{
		Name:       "broad net",
		Priority:   10,
		Conditions: merchantCond(model.OperatorContains, "net"),
		Actions:    categoryAction(f.streaming),
	})
	// Fully intercepted: narrower match space, same action field.
	shadowed := f.createRule(t, f.active.ID, model.Rule{
		Name:       "narrow netflix",
		Conditions: merchantCond(model.OperatorEquals, "netflix"),
		Actions:    categoryAction(f.groceries),
	})
	// Matches nothing in the population.
	dead := f.createRule(t, f.active.ID, model.Rule{
		Name:       "blockbuster",
		Conditions: merchantCond(model.OperatorEquals, "blockbuster"),
		Actions:    categoryAction(f.streaming),
	})
	// No conditions at all: flagged for review, never a removal candidate
	// unless dead or shadowed.
	universal := f.createRule(t, f.active.ID, model.Rule{
		Name:    "catch all",
		Actions: model.Actions{Tags: &model.TagAction{Mode: model.TagAppend, Values: []string{"seen"}}},
	})

	f.saveTxn(t, model.Transaction{ID: "t1", Description: "NETFLIX.COM", MerchantName: "netflix", Amount: -9.99})

	report, err := f.manager.CleanupPreview(ctx, f.active.ID)
	require.NoError(t, err)

	assert.Equal(t, []int64{universal}, report.Universal)

	byID := make(map[int64]CleanupCandidate)
	for _, c := range report.Candidates {
		byID[c.RuleID] = c
	}

	require.Contains(t, byID, dead)
	assert.Equal(t, ReasonDead, byID[dead].Reason)

	require.Contains(t, byID, shadowed)
	assert.Equal(t, ReasonShadowed, byID[shadowed].Reason)
	assert.Equal(t, broad, byID[shadowed].ShadowedBy)

	assert.NotContains(t, byID, broad)
	assert.NotContains(t, byID, universal)
}

func TestCleanupTagRuleIsNotShadowedWithoutStop(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.createRule(t, f.active.ID, model.Rule{
		Name:       "broad net",
		Priority:   10,
		Conditions: merchantCond(model.OperatorContains, "net"),
		Actions:    categoryAction(f.streaming),
	})
	// Tags accumulate, so the broad rule cannot preempt this one.
	tagRule := f.createRule(t, f.active.ID, model.Rule{
		Name:       "netflix tag",
		Conditions: merchantCond(model.OperatorEquals, "netflix"),
		Actions:    model.Actions{Tags: &model.TagAction{Mode: model.TagAppend, Values: []string{"streaming"}}},
	})

	f.saveTxn(t, model.Transaction{ID: "t1", MerchantName: "netflix", Description: "NETFLIX", Amount: -9.99})

	report, err := f.manager.CleanupPreview(ctx, f.active.ID)
	require.NoError(t, err)

	for _, c := range report.Candidates {
		assert.NotEqual(t, tagRule, c.RuleID, "tag rules keep their effect under a non-stop superset rule")
	}
}

func TestCleanupApplyWithoutPreviewFails(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.CleanupApply(context.Background(), f.active.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNoPreview)
}

func TestCleanupApplyRemovesPreviewedRules(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	dead := f.createRule(t, f.active.ID, model.Rule{
		Name:       "blockbuster",
		Conditions: merchantCond(model.OperatorEquals, "blockbuster"),
		Actions:    categoryAction(f.streaming),
	})
	protected := f.createRule(t, f.active.ID, model.Rule{
		Name:       "old but protected",
		Tier:       model.TierProtectedCore,
		Conditions: merchantCond(model.OperatorEquals, "kodak"),
		Actions:    categoryAction(f.streaming),
	})

	f.saveTxn(t, model.Transaction{ID: "t1", MerchantName: "netflix", Description: "NETFLIX", Amount: -9.99})

	_, err := f.manager.CleanupPreview(ctx, f.active.ID)
	require.NoError(t, err)

	result, err := f.manager.CleanupApply(ctx, f.active.ID)
	require.NoError(t, err)

	assert.Equal(t, []int64{dead}, result.Removed)
	assert.Equal(t, []int64{protected}, result.Skipped)

	_, err = f.store.GetRule(ctx, dead)
	assert.ErrorIs(t, err, common.ErrNotFound)
	kept, err := f.store.GetRule(ctx, protected)
	require.NoError(t, err)
	assert.Equal(t, model.TierProtectedCore, kept.Tier)
}

func TestCleanupApplyRejectsStalePreview(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.createRule(t, f.active.ID, model.Rule{
		Name:       "blockbuster",
		Conditions: merchantCond(model.OperatorEquals, "blockbuster"),
		Actions:    categoryAction(f.streaming),
	})

	_, err := f.manager.CleanupPreview(ctx, f.active.ID)
	require.NoError(t, err)

	// Any rule mutation bumps the set version and invalidates the preview.
	f.createRule(t, f.active.ID, model.Rule{
		Name:       "new arrival",
		Conditions: merchantCond(model.OperatorEquals, "hulu"),
		Actions:    categoryAction(f.streaming),
	})

	_, err = f.manager.CleanupApply(ctx, f.active.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNoPreview)
}

func TestExtractProtectedPromotesStableRules(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	stable := f.createRule(t, f.active.ID, model.Rule{
		Name:       "stable",
		Conditions: merchantCond(model.OperatorEquals, "netflix"),
		Actions:    categoryAction(f.streaming),
	})
	rarelyUsed := f.createRule(t, f.active.ID, model.Rule{
		Name:       "rarely used",
		Conditions: merchantCond(model.OperatorEquals, "hulu"),
		Actions:    categoryAction(f.streaming),
	})
	overridden := f.createRule(t, f.active.ID, model.Rule{
		Name:       "often overridden",
		Conditions: merchantCond(model.OperatorEquals, "amazon"),
		Actions:    categoryAction(f.groceries),
	})
	manualFix := f.createRule(t, f.active.ID, model.Rule{
		Name:       "manual fix",
		Tier:       model.TierManualFix,
		Conditions: merchantCond(model.OperatorEquals, "safeway"),
		Actions:    categoryAction(f.groceries),
	})

	require.NoError(t, f.store.AddRuleUseCount(ctx, stable, 15))
	require.NoError(t, f.store.AddRuleUseCount(ctx, rarelyUsed, 5))
	require.NoError(t, f.store.AddRuleUseCount(ctx, overridden, 20))
	require.NoError(t, f.store.AddRuleUseCount(ctx, manualFix, 50))
	require.NoError(t, f.store.IncrementRuleOverrideCount(ctx, overridden))
	require.NoError(t, f.store.IncrementRuleOverrideCount(ctx, overridden))

	promoted, err := f.manager.ExtractProtected(ctx, f.active.ID, ExtractProtectedParams{
		MinUseCount:      10,
		MaxOverrideCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{stable}, promoted)

	rule, err := f.store.GetRule(ctx, stable)
	require.NoError(t, err)
	assert.Equal(t, model.TierProtectedCore, rule.Tier)

	// Non-generated tiers never move, regardless of counters.
	rule, err = f.store.GetRule(ctx, manualFix)
	require.NoError(t, err)
	assert.Equal(t, model.TierManualFix, rule.Tier)
}

func TestCreateRejectsEmptyName(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Create(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))
}

func TestCreateClonesRules(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	original := f.createRule(t, f.active.ID, model.Rule{
		Name:       "netflix",
		Conditions: merchantCond(model.OperatorEquals, "netflix"),
		Actions:    categoryAction(f.streaming),
	})
	require.NoError(t, f.store.AddRuleUseCount(ctx, original, 7))

	clone, err := f.manager.Create(ctx, "shadow copy", &f.active.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RuleSetDraft, clone.State)
	require.NotNil(t, clone.ClonedFrom)
	assert.Equal(t, f.active.ID, *clone.ClonedFrom)

	cloned, err := f.store.GetRulesBySet(ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, cloned, 1)
	assert.Equal(t, "netflix", cloned[0].Name)
	assert.Equal(t, 0, cloned[0].UseCount, "clones start with fresh counters")
}
