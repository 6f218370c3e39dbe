package ruleset

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/rules"
	"github.com/ledgermint/ledgermint/internal/service"
)

// FieldChange is one field-level difference between the active and candidate
// outcomes for a transaction.
type FieldChange struct {
	Field string
	From  string
	To    string
}

// TxnDiff lists the outcome differences for one transaction.
type TxnDiff struct {
	TxnID       string
	Description string
	Changes     []FieldChange
}

// ShadowReport is the dry-run diff of a candidate rule set against the
// active one. Nothing is committed while producing it.
type ShadowReport struct {
	FieldCounts        map[string]int
	Diffs              []TxnDiff
	RulesOnlyActive    []int64 // rules that matched at least once only under the active set
	RulesOnlyCandidate []int64
	ActiveSetID        int64
	CandidateSetID     int64
	Population         int
}

// ShadowCompare evaluates both the active and the candidate rule set over
// the same transaction population without committing anything, and reports
// exactly the transactions whose outcome differs. Read-only: safe to run
// concurrently with live evaluation.
func (m *Manager) ShadowCompare(ctx context.Context, candidateID int64) (*ShadowReport, error) {
	active, err := m.store.GetActiveRuleSet(ctx)
	if err != nil {
		return nil, err
	}
	if active.ID == candidateID {
		return nil, fmt.Errorf("candidate %d is already the active rule set", candidateID)
	}

	candidate, err := m.store.GetRuleSet(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("cannot shadow-compare rule set %d: %w", candidateID, err)
	}

	activeRules, err := m.engine.OrderedRules(ctx, active)
	if err != nil {
		return nil, err
	}
	candidateRules, err := m.engine.OrderedRules(ctx, candidate)
	if err != nil {
		return nil, err
	}

	population, err := m.collect(ctx, service.TransactionFilter{})
	if err != nil {
		return nil, err
	}

	report := &ShadowReport{
		ActiveSetID:    active.ID,
		CandidateSetID: candidate.ID,
		Population:     len(population),
		FieldCounts:    make(map[string]int),
	}

	activeEffective := make(map[int64]bool)
	candidateEffective := make(map[int64]bool)

	for _, txn := range population {
		accA := rules.Evaluate(txn, activeRules, rules.PolicyRespectManual)
		accB := rules.Evaluate(txn, candidateRules, rules.PolicyRespectManual)

		for _, id := range accA.MatchedRules {
			activeEffective[id] = true
		}
		for _, id := range accB.MatchedRules {
			candidateEffective[id] = true
		}

		changes := diffOutcomes(txn, accA, accB)
		if len(changes) == 0 {
			continue
		}

		for _, change := range changes {
			report.FieldCounts[change.Field]++
		}
		report.Diffs = append(report.Diffs, TxnDiff{
			TxnID:       txn.ID,
			Description: txn.Description,
			Changes:     changes,
		})
	}

	for id := range activeEffective {
		if !candidateEffective[id] {
			report.RulesOnlyActive = append(report.RulesOnlyActive, id)
		}
	}
	for id := range candidateEffective {
		if !activeEffective[id] {
			report.RulesOnlyCandidate = append(report.RulesOnlyCandidate, id)
		}
	}
	slices.Sort(report.RulesOnlyActive)
	slices.Sort(report.RulesOnlyCandidate)

	return report, nil
}

// diffOutcomes compares the final field states both accumulators would
// commit for the same transaction.
func diffOutcomes(txn model.Transaction, a, b *rules.Accumulator) []FieldChange {
	var changes []FieldChange

	catA, catB := finalCategory(txn, a), finalCategory(txn, b)
	if catA != catB {
		changes = append(changes, FieldChange{Field: "category", From: catA, To: catB})
	}

	merchA, merchB := finalMerchant(txn, a), finalMerchant(txn, b)
	if merchA != merchB {
		changes = append(changes, FieldChange{Field: "merchant", From: merchA, To: merchB})
	}

	incomeA, incomeB := finalIncome(txn, a), finalIncome(txn, b)
	if incomeA != incomeB {
		changes = append(changes, FieldChange{Field: "income_override", From: incomeA, To: incomeB})
	}

	exclA, exclB := finalExclude(txn, a), finalExclude(txn, b)
	if exclA != exclB {
		changes = append(changes, FieldChange{Field: "exclude_from_totals", From: exclA, To: exclB})
	}

	tagsA, tagsB := finalTags(txn, a), finalTags(txn, b)
	if tagsA != tagsB {
		changes = append(changes, FieldChange{Field: "tags", From: tagsA, To: tagsB})
	}

	return changes
}

func finalCategory(txn model.Transaction, acc *rules.Accumulator) string {
	if cat, set := acc.Category(); set {
		if cat == nil {
			return "<none>"
		}
		return fmt.Sprintf("%d", *cat)
	}
	if txn.CategoryID == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d", *txn.CategoryID)
}

func finalMerchant(txn model.Transaction, acc *rules.Accumulator) string {
	if merch, set := acc.Merchant(); set {
		if merch == nil {
			return ""
		}
		return *merch
	}
	return txn.MerchantName
}

func finalIncome(txn model.Transaction, acc *rules.Accumulator) string {
	if income, set := acc.Income(); set {
		return fmt.Sprintf("%t", *income)
	}
	if txn.IncomeOverride == nil {
		return "<unset>"
	}
	return fmt.Sprintf("%t", *txn.IncomeOverride)
}

func finalExclude(txn model.Transaction, acc *rules.Accumulator) string {
	if excl, set := acc.Exclude(); set {
		return fmt.Sprintf("%t", *excl)
	}
	return fmt.Sprintf("%t", txn.ExcludeFromTotals)
}

func finalTags(_ model.Transaction, acc *rules.Accumulator) string {
	// The accumulator is seeded from the stored tag set, so its view is the
	// final state whether or not any tag rule fired.
	sorted := acc.Tags()
	slices.Sort(sorted)
	return strings.Join(sorted, ",")
}
