package rules

import (
	"slices"

	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

// OverwritePolicy controls whether batch apply may replace categories a
// person assigned. Locked fields are immutable under every policy.
type OverwritePolicy string

// Overwrite policy constants.
const (
	// PolicyRespectManual never replaces a human-assigned category. Default.
	PolicyRespectManual OverwritePolicy = "respect_manual"
	// PolicyOverwriteAll lets rules replace human-assigned categories too.
	PolicyOverwriteAll OverwritePolicy = "overwrite_all"
)

// Accumulator collects the effects of matched rules for one transaction over
// one evaluation pass. Category, merchant, income-override and
// exclude-from-totals are first-write-wins: the highest-ranked rule to set a
// field owns it for the remainder of the pass. Tag actions are sequential
// and cumulative. Field locks on the transaction freeze a field before even
// the first write.
type Accumulator struct {
	category     *int64
	merchant     *string
	income       *bool
	exclude      *bool
	tags         []string
	MatchedRules []int64
	TxnID        string
	CategoryRule int64
	categorySet  bool
	merchantSet  bool
	incomeSet    bool
	excludeSet   bool
	tagsWritten  bool
	catFrozen    bool
	tagsFrozen   bool
	merchFrozen  bool
	Stopped      bool
}

// NewAccumulator seeds an accumulator from the transaction's current state.
// The lock check happens here so a locked field rejects the very first
// write, not just subsequent ones.
func NewAccumulator(txn model.Transaction, policy OverwritePolicy) *Accumulator {
	acc := &Accumulator{
		TxnID:       txn.ID,
		tags:        slices.Clone(txn.Tags),
		catFrozen:   txn.CategoryLocked,
		tagsFrozen:  txn.TagsLocked,
		merchFrozen: txn.MerchantLocked,
	}
	if policy != PolicyOverwriteAll && txn.HumanCategorized() {
		acc.catFrozen = true
	}
	return acc
}

// Apply merges one matched rule's actions into the accumulator.
func (a *Accumulator) Apply(rule *model.Rule) {
	a.MatchedRules = append(a.MatchedRules, rule.ID)

	if act := rule.Actions.Category; act != nil && !a.catFrozen && !a.categorySet {
		a.category = act.CategoryID
		a.categorySet = true
		a.CategoryRule = rule.ID
	}
	if act := rule.Actions.Merchant; act != nil && !a.merchFrozen && !a.merchantSet {
		a.merchant = act.Name
		a.merchantSet = true
	}
	if act := rule.Actions.Income; act != nil && !a.incomeSet {
		a.income = act
		a.incomeSet = true
	}
	if act := rule.Actions.Exclude; act != nil && !a.excludeSet {
		a.exclude = act
		a.excludeSet = true
	}
	if act := rule.Actions.Tags; act != nil && !a.tagsFrozen {
		a.applyTags(act)
	}

	if rule.StopProcessing {
		a.Stopped = true
	}
}

func (a *Accumulator) applyTags(act *model.TagAction) {
	a.tagsWritten = true
	switch act.Mode {
	case model.TagAppend:
		for _, tag := range act.Values {
			if !slices.Contains(a.tags, tag) {
				a.tags = append(a.tags, tag)
			}
		}
	case model.TagReplace:
		// Clears earlier appends for this pass, but rules after this one
		// still accumulate on top of the replaced set.
		a.tags = slices.Clone(act.Values)
	case model.TagRemove:
		a.tags = slices.DeleteFunc(a.tags, func(tag string) bool {
			return slices.Contains(act.Values, tag)
		})
	}
}

// Tags returns the accumulated tag set in application order.
func (a *Accumulator) Tags() []string {
	return slices.Clone(a.tags)
}

// Category returns the accumulated category and whether any rule set one.
func (a *Accumulator) Category() (*int64, bool) {
	return a.category, a.categorySet
}

// Merchant returns the accumulated merchant name and whether any rule set one.
func (a *Accumulator) Merchant() (*string, bool) {
	return a.merchant, a.merchantSet
}

// Income returns the accumulated income override and whether any rule set one.
func (a *Accumulator) Income() (*bool, bool) {
	return a.income, a.incomeSet
}

// Exclude returns the accumulated totals exclusion and whether any rule set one.
func (a *Accumulator) Exclude() (*bool, bool) {
	return a.exclude, a.excludeSet
}

// Mutation diffs the accumulated state against the transaction's stored
// state and returns only what actually changed. Re-deriving the same
// accumulator over unmodified input therefore produces an empty mutation,
// which is what makes batch apply idempotent.
func (a *Accumulator) Mutation(txn model.Transaction) service.TransactionMutation {
	m := service.TransactionMutation{TxnID: txn.ID}

	if a.categorySet {
		ruleID := a.CategoryRule
		provenanceChanged := txn.CategorySetBy == nil || *txn.CategorySetBy != ruleID
		if !equalInt64Ptr(a.category, txn.CategoryID) || provenanceChanged {
			m.SetCategory = true
			m.CategoryID = a.category
			m.CategorySetBy = &ruleID
		}
	}
	if a.merchantSet {
		current := txn.MerchantName
		desired := ""
		if a.merchant != nil {
			desired = *a.merchant
		}
		if desired != current {
			m.SetMerchant = true
			m.MerchantName = a.merchant
		}
	}
	if a.incomeSet && !equalBoolPtr(a.income, txn.IncomeOverride) {
		m.SetIncome = true
		m.IncomeOverride = a.income
	}
	if a.excludeSet && a.exclude != nil && *a.exclude != txn.ExcludeFromTotals {
		m.SetExclude = true
		m.Exclude = a.exclude
	}
	if a.tagsWritten && !slices.Equal(a.tags, txn.Tags) {
		m.SetTags = true
		m.Tags = a.Tags()
	}

	return m
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
