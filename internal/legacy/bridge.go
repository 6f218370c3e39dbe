// Package legacy adapts old rule formats into the canonical condition/action
// vocabulary at read time, so the evaluation core never special-cases them.
package legacy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

// Synthetic id offsets keep bridged rules clear of real rule ids while
// preserving a deterministic ascending tie-break within each legacy shape.
const (
	KeywordIDOffset int64 = 1 << 40
	TagIDOffset     int64 = 1 << 41
)

// Bridge translates legacy rule rows into canonical rules on every load. No
// data migration is required; evaluation works before any import happens.
type Bridge struct {
	store service.Storage
}

// NewBridge creates a read-time adapter over the legacy rule tables.
func NewBridge(store service.Storage) *Bridge {
	return &Bridge{store: store}
}

// BridgedRules loads and translates both legacy rule shapes. Keyword rules
// land in the legacy_archived tier; tag-append rules rank after every
// first-class tier in legacy_compat.
func (b *Bridge) BridgedRules(ctx context.Context) ([]model.Rule, error) {
	keywordRules, err := b.store.GetLegacyKeywordRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load legacy keyword rules: %w", err)
	}

	tagRules, err := b.store.GetLegacyTagRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load legacy tag rules: %w", err)
	}

	bridged := make([]model.Rule, 0, len(keywordRules)+len(tagRules))
	for _, row := range keywordRules {
		bridged = append(bridged, TranslateKeywordRule(row))
	}
	for _, row := range tagRules {
		bridged = append(bridged, TranslateTagRule(row))
	}

	return bridged, nil
}

// TranslateKeywordRule maps a keyword+category row into a normalized
// description-contains rule that assigns the category.
func TranslateKeywordRule(row service.LegacyKeywordRule) model.Rule {
	categoryID := row.CategoryID
	return model.Rule{
		ID:      KeywordIDOffset + row.ID,
		Name:    fmt.Sprintf("legacy keyword %q", row.Keyword),
		Origin:  fmt.Sprintf("legacy:keyword:%d", row.ID),
		Source:  model.SourceLegacy,
		Tier:    model.TierLegacyArchived,
		Enabled: true,
		Conditions: model.Conditions{
			Description: &model.TextCondition{
				Operator:  model.OperatorContains,
				Value:     row.Keyword,
				Semantics: model.SemanticsNormalized,
			},
		},
		Actions: model.Actions{
			Category: &model.CategoryAction{CategoryID: &categoryID},
		},
	}
}

// TranslateTagRule maps a tag-append-only row into a normalized
// description-contains rule that appends its tags.
func TranslateTagRule(row service.LegacyTagRule) model.Rule {
	return model.Rule{
		ID:      TagIDOffset + row.ID,
		Name:    fmt.Sprintf("legacy tags %q", row.Keyword),
		Origin:  fmt.Sprintf("legacy:tags:%d", row.ID),
		Source:  model.SourceLegacy,
		Tier:    model.TierLegacyCompat,
		Enabled: true,
		Conditions: model.Conditions{
			Description: &model.TextCondition{
				Operator:  model.OperatorContains,
				Value:     row.Keyword,
				Semantics: model.SemanticsNormalized,
			},
		},
		Actions: model.Actions{
			Tags: &model.TagAction{Mode: model.TagAppend, Values: row.Tags},
		},
	}
}

// Materialize performs the optional one-time import: legacy rows become real
// rules inside a dedicated "legacy_default" rule set for uniform management.
// Bridged evaluation keeps working either way.
func (b *Bridge) Materialize(ctx context.Context) (*model.RuleSet, int, error) {
	bridged, err := b.BridgedRules(ctx)
	if err != nil {
		return nil, 0, err
	}

	set := &model.RuleSet{Name: "legacy_default", State: model.RuleSetDraft}
	if err := b.store.CreateRuleSet(ctx, set); err != nil {
		return nil, 0, fmt.Errorf("failed to create legacy rule set: %w", err)
	}

	imported := 0
	for _, rule := range bridged {
		rule.ID = 0 // the store assigns a real id
		rule.RuleSetID = set.ID
		if err := b.store.CreateRule(ctx, &rule); err != nil {
			return nil, imported, fmt.Errorf("failed to import legacy rule %q: %w", rule.Name, err)
		}
		imported++
	}

	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Kind:      model.AuditLegacyImported,
		Detail:    fmt.Sprintf("materialized %d legacy rules into set %q", imported, set.Name),
		RuleSetID: &set.ID,
		CreatedAt: time.Now(),
	}
	if err := b.store.AppendAudit(ctx, entry); err != nil {
		return set, imported, fmt.Errorf("failed to record audit entry: %w", err)
	}

	return set, imported, nil
}
