package ruleset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/rules"
	"github.com/ledgermint/ledgermint/internal/service"
)

// CleanupReason explains why a rule was selected for removal.
type CleanupReason string

// Cleanup reason constants.
const (
	ReasonDead     CleanupReason = "dead"     // matches nothing in the current population
	ReasonShadowed CleanupReason = "shadowed" // a higher-ranked superset rule always intercepts it
)

// CleanupCandidate is one rule the analysis proposes to remove.
type CleanupCandidate struct {
	Name       string
	Reason     CleanupReason
	Detail     string
	RuleID     int64
	ShadowedBy int64 // set when Reason is shadowed
	Protected  bool  // flagged but never removed
}

// CleanupReport is the preview of a cleanup run. Universal lists rules with
// no restricting conditions at all; they match every transaction and are
// surfaced for review but never auto-removed.
type CleanupReport struct {
	Candidates []CleanupCandidate
	Universal  []int64
	RuleSetID  int64
	Population int
	setVersion int64
}

// CleanupResult summarizes an applied cleanup.
type CleanupResult struct {
	Removed []int64
	Skipped []int64 // protected-tier rules that stayed
}

// CleanupPreview identifies dead and shadowed rules in a rule set against
// the current transaction population. Read-only; the report is retained so a
// following CleanupApply operates on exactly what was previewed.
func (m *Manager) CleanupPreview(ctx context.Context, setID int64) (*CleanupReport, error) {
	set, err := m.store.GetRuleSet(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("cannot preview cleanup for rule set %d: %w", setID, err)
	}

	ordered, err := m.engine.OrderedRules(ctx, set)
	if err != nil {
		return nil, err
	}

	population, err := m.collect(ctx, service.TransactionFilter{})
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{
		RuleSetID:  setID,
		Population: len(population),
		setVersion: set.Version,
	}

	matchCounts := make(map[int64]int, len(ordered))
	for _, txn := range population {
		for i := range ordered {
			if ordered[i].Matches(txn) {
				matchCounts[ordered[i].Rule.ID]++
			}
		}
	}

	for i := range ordered {
		rule := &ordered[i].Rule
		if rule.RuleSetID != setID {
			continue // bridged legacy rules are not members of the set
		}

		if rule.MatchesEverything() {
			report.Universal = append(report.Universal, rule.ID)
		}

		if matchCounts[rule.ID] == 0 {
			report.Candidates = append(report.Candidates, CleanupCandidate{
				RuleID:    rule.ID,
				Name:      rule.Name,
				Reason:    ReasonDead,
				Detail:    fmt.Sprintf("matched 0 of %d transactions", len(population)),
				Protected: rule.Tier.Protected(),
			})
			continue
		}

		if by, shadowed := shadowedBy(ordered, i); shadowed {
			report.Candidates = append(report.Candidates, CleanupCandidate{
				RuleID:     rule.ID,
				Name:       rule.Name,
				Reason:     ReasonShadowed,
				Detail:     fmt.Sprintf("rule %d always intercepts first", by),
				ShadowedBy: by,
				Protected:  rule.Tier.Protected(),
			})
		}
	}

	m.previewMu.Lock()
	m.previews[setID] = report
	m.previewMu.Unlock()

	return report, nil
}

// CleanupApply removes the rules identified by the most recent
// CleanupPreview for this set. Applying without a prior preview is a
// lifecycle error; protected-tier rules are skipped no matter what the
// preview said.
func (m *Manager) CleanupApply(ctx context.Context, setID int64) (*CleanupResult, error) {
	m.previewMu.Lock()
	report, ok := m.previews[setID]
	if ok {
		delete(m.previews, setID)
	}
	m.previewMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: rule set %d", common.ErrNoPreview, setID)
	}

	set, err := m.store.GetRuleSet(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("cannot apply cleanup for rule set %d: %w", setID, err)
	}
	if set.Version != report.setVersion {
		return nil, fmt.Errorf("%w: rule set %d changed since preview", common.ErrNoPreview, setID)
	}

	result := &CleanupResult{}
	var removable []int64
	for _, candidate := range report.Candidates {
		if candidate.Protected {
			result.Skipped = append(result.Skipped, candidate.RuleID)
			continue
		}
		removable = append(removable, candidate.RuleID)
	}

	if len(removable) > 0 {
		if err := m.store.DeleteRules(ctx, removable); err != nil {
			return nil, fmt.Errorf("failed to delete rules: %w", err)
		}
		result.Removed = removable
	}

	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Kind:      model.AuditCleanupApplied,
		Detail:    fmt.Sprintf("removed %d rules from set %d (%s)", len(result.Removed), setID, formatIDs(result.Removed)),
		RuleSetID: &setID,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		return result, fmt.Errorf("failed to record audit entry: %w", err)
	}

	return result, nil
}

// shadowedBy reports whether any strictly higher-ranked rule fully
// intercepts the rule at index idx: its conditions are a superset in match
// space, and it either stops processing or owns every first-write-wins field
// the lower rule would set.
func shadowedBy(ordered []rules.CompiledRule, idx int) (int64, bool) {
	lower := &ordered[idx].Rule
	for i := 0; i < idx; i++ {
		higher := &ordered[i].Rule
		if !subsumes(higher, lower) {
			continue
		}
		if higher.StopProcessing || coversActions(higher, lower) {
			return higher.ID, true
		}
	}
	return 0, false
}

// coversActions reports whether every effect of lower is preempted by
// higher. Tag actions accumulate, so a lower rule with a tag action still
// has effect unless the higher rule stops processing.
func coversActions(higher, lower *model.Rule) bool {
	if lower.Actions.Tags != nil {
		return false
	}
	if lower.Actions.Category != nil && higher.Actions.Category == nil {
		return false
	}
	if lower.Actions.Merchant != nil && higher.Actions.Merchant == nil {
		return false
	}
	if lower.Actions.Income != nil && higher.Actions.Income == nil {
		return false
	}
	if lower.Actions.Exclude != nil && higher.Actions.Exclude == nil {
		return false
	}
	return true
}

// subsumes reports whether every transaction matching lower also matches
// higher. The check is structural and conservative: when it cannot prove
// containment it answers false.
func subsumes(higher, lower *model.Rule) bool {
	if !textSubsumes(higher.Conditions.Description, lower.Conditions.Description) {
		return false
	}
	if !textSubsumes(higher.Conditions.Merchant, lower.Conditions.Merchant) {
		return false
	}
	if !amountSubsumes(higher.Conditions.Amount, lower.Conditions.Amount) {
		return false
	}
	if !signSubsumes(higher.Conditions.Sign, lower.Conditions.Sign) {
		return false
	}
	if !accountsSubsume(higher.Conditions.AccountIDs, lower.Conditions.AccountIDs) {
		return false
	}
	if !dateSubsumes(higher.Conditions.DateFrom, higher.Conditions.DateTo, lower.Conditions.DateFrom, lower.Conditions.DateTo) {
		return false
	}
	return true
}

func textSubsumes(higher, lower *model.TextCondition) bool {
	if higher == nil {
		return true
	}
	if lower == nil {
		return false
	}
	if higher.Semantics != lower.Semantics {
		return false
	}

	// A case-sensitive broad rule cannot be proven to cover a
	// case-insensitive narrow one.
	if higher.CaseSensitive && !lower.CaseSensitive {
		return false
	}

	hv, lv := higher.Value, lower.Value
	if !higher.CaseSensitive {
		hv = strings.ToLower(hv)
		lv = strings.ToLower(lv)
	}
	if higher.Semantics == model.SemanticsNormalized {
		hv = common.NormalizeText(higher.Value)
		lv = common.NormalizeText(lower.Value)
	}

	switch higher.Operator {
	case model.OperatorContains:
		switch lower.Operator {
		case model.OperatorContains, model.OperatorEquals, model.OperatorStartsWith:
			return strings.Contains(lv, hv)
		}
	case model.OperatorStartsWith:
		switch lower.Operator {
		case model.OperatorEquals, model.OperatorStartsWith:
			return strings.HasPrefix(lv, hv)
		}
	case model.OperatorEquals:
		return lower.Operator == model.OperatorEquals && lv == hv
	case model.OperatorRegex:
		return lower.Operator == model.OperatorRegex &&
			higher.Value == lower.Value &&
			higher.CaseSensitive == lower.CaseSensitive
	}
	return false
}

func amountSubsumes(higher, lower *model.AmountCondition) bool {
	if higher == nil {
		return true
	}
	if lower == nil {
		return false
	}

	if higher.Exact != nil {
		return lower.Exact != nil && *higher.Exact == *lower.Exact
	}

	lowerMin, lowerMax := lower.Min, lower.Max
	if lower.Exact != nil {
		lowerMin, lowerMax = lower.Exact, lower.Exact
	}
	if higher.Min != nil && (lowerMin == nil || *lowerMin < *higher.Min) {
		return false
	}
	if higher.Max != nil && (lowerMax == nil || *lowerMax > *higher.Max) {
		return false
	}
	return true
}

func signSubsumes(higher, lower model.SignCondition) bool {
	if higher == "" || higher == model.SignAny {
		return true
	}
	return higher == lower
}

func accountsSubsume(higher, lower []string) bool {
	if len(higher) == 0 {
		return true
	}
	if len(lower) == 0 {
		return false
	}
	allowed := make(map[string]bool, len(higher))
	for _, id := range higher {
		allowed[id] = true
	}
	for _, id := range lower {
		if !allowed[id] {
			return false
		}
	}
	return true
}

func dateSubsumes(hFrom, hTo, lFrom, lTo *time.Time) bool {
	if hFrom != nil && (lFrom == nil || lFrom.Before(*hFrom)) {
		return false
	}
	if hTo != nil && (lTo == nil || lTo.After(*hTo)) {
		return false
	}
	return true
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}
