package learn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/model"
)

// OriginPrefix tags rules materialized from accepted suggestions so a whole
// run can be reverted by its id.
const OriginPrefix = "learn:"

// Apply materializes the selected pending suggestions as learned-tier rules
// in the active rule set. Each accepted suggestion becomes exactly one rule;
// non-pending suggestions are skipped with an error per id.
func (m *Miner) Apply(ctx context.Context, ids []int64) ([]model.Rule, error) {
	set, err := m.store.GetActiveRuleSet(ctx)
	if err != nil {
		return nil, err
	}

	var created []model.Rule
	for _, id := range ids {
		suggestion, err := m.store.GetSuggestionByID(ctx, id)
		if err != nil {
			return created, fmt.Errorf("suggestion %d: %w", id, err)
		}
		if suggestion.State != model.SuggestionPending {
			return created, fmt.Errorf("suggestion %d is %s, not pending", id, suggestion.State)
		}

		rule := suggestionRule(suggestion, set.ID)
		if err := m.store.CreateRule(ctx, &rule); err != nil {
			return created, fmt.Errorf("failed to create rule for suggestion %d: %w", id, err)
		}
		if err := m.store.SetSuggestionState(ctx, id, model.SuggestionAccepted); err != nil {
			return created, fmt.Errorf("failed to mark suggestion %d accepted: %w", id, err)
		}

		entry := model.AuditEntry{
			ID:        uuid.NewString(),
			Kind:      model.AuditSuggestionAccepted,
			Detail:    fmt.Sprintf("suggestion %d accepted as rule %d (%s)", id, rule.ID, rule.Name),
			RuleID:    &rule.ID,
			RuleSetID: &set.ID,
			RunID:     suggestion.RunID,
			CreatedAt: time.Now(),
		}
		if err := m.store.AppendAudit(ctx, entry); err != nil {
			return created, fmt.Errorf("failed to record audit entry: %w", err)
		}

		created = append(created, rule)
	}

	return created, nil
}

// Reject discards pending suggestions. The audit log entry is the only
// persisted trace they ever existed.
func (m *Miner) Reject(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		suggestion, err := m.store.GetSuggestionByID(ctx, id)
		if err != nil {
			return fmt.Errorf("suggestion %d: %w", id, err)
		}
		if suggestion.State != model.SuggestionPending {
			return fmt.Errorf("suggestion %d is %s, not pending", id, suggestion.State)
		}

		if err := m.store.SetSuggestionState(ctx, id, model.SuggestionRejected); err != nil {
			return fmt.Errorf("failed to mark suggestion %d rejected: %w", id, err)
		}

		entry := model.AuditEntry{
			ID:        uuid.NewString(),
			Kind:      model.AuditSuggestionRejected,
			Detail:    fmt.Sprintf("suggestion %d (%s) rejected", id, suggestion.MerchantPattern),
			RunID:     suggestion.RunID,
			CreatedAt: time.Now(),
		}
		if err := m.store.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("failed to record audit entry: %w", err)
		}
	}
	return nil
}

// Revert removes every rule a learn run created, identified by run id.
// Rules that were promoted to a protected tier since stay.
func (m *Miner) Revert(ctx context.Context, runID string) ([]int64, error) {
	set, err := m.store.GetActiveRuleSet(ctx)
	if err != nil {
		return nil, err
	}

	ruleList, err := m.store.GetRulesByOrigin(ctx, set.ID, OriginPrefix+runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for run %s: %w", runID, err)
	}

	var removable []int64
	for _, r := range ruleList {
		if r.Tier.Protected() {
			continue
		}
		removable = append(removable, r.ID)
	}

	if len(removable) > 0 {
		if err := m.store.DeleteRules(ctx, removable); err != nil {
			return nil, fmt.Errorf("failed to delete rules for run %s: %w", runID, err)
		}
	}

	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Kind:      model.AuditLearnReverted,
		Detail:    fmt.Sprintf("reverted %d rules from learn run %s", len(removable), runID),
		RuleSetID: &set.ID,
		RunID:     runID,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		return removable, fmt.Errorf("failed to record audit entry: %w", err)
	}

	return removable, nil
}

// suggestionRule builds the learned-tier rule a suggestion materializes to:
// a normalized merchant-equals condition assigning the mined category.
func suggestionRule(s *model.LearnedSuggestion, ruleSetID int64) model.Rule {
	categoryID := s.CategoryID
	return model.Rule{
		RuleSetID:  ruleSetID,
		Name:       fmt.Sprintf("learned: %s", s.MerchantPattern),
		Origin:     OriginPrefix + s.RunID,
		Source:     model.SourceLearned,
		Tier:       model.TierGeneratedCurated,
		Enabled:    true,
		Confidence: s.Confidence,
		Conditions: model.Conditions{
			Merchant: &model.TextCondition{
				Operator:  model.OperatorEquals,
				Value:     s.MerchantPattern,
				Semantics: model.SemanticsNormalized,
			},
		},
		Actions: model.Actions{
			Category: &model.CategoryAction{CategoryID: &categoryID},
		},
	}
}
