package model

import (
	"time"
)

// TextOperator describes how a text condition compares against a field.
type TextOperator string

// Text operator constants.
const (
	OperatorContains   TextOperator = "contains"
	OperatorEquals     TextOperator = "equals"
	OperatorStartsWith TextOperator = "starts_with"
	OperatorRegex      TextOperator = "regex"
)

// TextSemantics selects between literal matching and the normalized-token
// variant used by rules migrated from keyword-era data. Normalized matching
// folds whitespace and punctuation before comparing.
type TextSemantics string

// Text semantics constants.
const (
	SemanticsLiteral    TextSemantics = "literal"
	SemanticsNormalized TextSemantics = "normalized"
)

// TextCondition matches a transaction text field (description or merchant).
type TextCondition struct {
	Operator      TextOperator  `json:"operator"`
	Value         string        `json:"value"`
	Semantics     TextSemantics `json:"semantics"`
	CaseSensitive bool          `json:"case_sensitive"`
}

// AmountCondition matches the transaction amount, either exactly or within an
// inclusive [Min, Max] range. Exact comparison happens on rounded cents.
type AmountCondition struct {
	Exact *float64 `json:"exact,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// SignCondition restricts the sign of the transaction amount.
type SignCondition string

// Sign condition constants.
const (
	SignAny     SignCondition = "any"
	SignIncome  SignCondition = "income"  // amount > 0
	SignExpense SignCondition = "expense" // amount < 0
)

// Conditions is the full condition set of a rule. Every present condition
// must hold for the rule to match; absent conditions are vacuously true.
type Conditions struct {
	Description *TextCondition   `json:"description,omitempty"`
	Merchant    *TextCondition   `json:"merchant,omitempty"`
	Amount      *AmountCondition `json:"amount,omitempty"`
	Sign        SignCondition    `json:"sign,omitempty"`
	AccountIDs  []string         `json:"account_ids,omitempty"` // empty = all accounts
	DateFrom    *time.Time       `json:"date_from,omitempty"`   // inclusive
	DateTo      *time.Time       `json:"date_to,omitempty"`     // inclusive
}

// Empty reports whether no condition restricts matching at all. A rule with
// empty conditions matches every transaction.
func (c Conditions) Empty() bool {
	return c.Description == nil &&
		c.Merchant == nil &&
		c.Amount == nil &&
		(c.Sign == "" || c.Sign == SignAny) &&
		len(c.AccountIDs) == 0 &&
		c.DateFrom == nil &&
		c.DateTo == nil
}

// TagMode describes how a tag action combines with already-accumulated tags.
type TagMode string

// Tag mode constants.
const (
	TagAppend  TagMode = "append"
	TagReplace TagMode = "replace"
	TagRemove  TagMode = "remove"
)

// TagAction mutates the transaction tag set.
type TagAction struct {
	Mode   TagMode  `json:"mode"`
	Values []string `json:"values"`
}

// CategoryAction assigns a category. A nil CategoryID clears it.
type CategoryAction struct {
	CategoryID *int64 `json:"category_id"`
}

// MerchantAction sets the normalized merchant name. A nil Name clears it.
type MerchantAction struct {
	Name *string `json:"name"`
}

// Actions is the full action set of a rule. Nil fields mean "no action".
type Actions struct {
	Category *CategoryAction `json:"category,omitempty"`
	Tags     *TagAction      `json:"tags,omitempty"`
	Merchant *MerchantAction `json:"merchant,omitempty"`
	Income   *bool           `json:"income,omitempty"`
	Exclude  *bool           `json:"exclude,omitempty"`
}

// RuleSource indicates how a rule came to exist.
type RuleSource string

// Rule source constants.
const (
	SourceManual  RuleSource = "manual"
	SourceLearned RuleSource = "learned"
	SourceLegacy  RuleSource = "legacy"
)

// SourceRank returns the evaluation rank of a source; lower evaluates first.
func (s RuleSource) SourceRank() int {
	switch s {
	case SourceManual:
		return 0
	case SourceLearned:
		return 1
	case SourceLegacy:
		return 2
	}
	return 3
}

// RuleTier is the coarse precedence bucket a rule lives in. Tier dominates
// every other ordering dimension, and non-protected tiers are eligible for
// bulk cleanup.
type RuleTier string

// Rule tier constants, in evaluation order.
const (
	TierManualFix        RuleTier = "manual_fix"
	TierProtectedCore    RuleTier = "protected_core"
	TierGeneratedCurated RuleTier = "generated_curated"
	TierLegacyArchived   RuleTier = "legacy_archived"
	TierLegacyCompat     RuleTier = "legacy_compat" // bridge-mapped tag rules, after all first-class tiers
)

// TierRank returns the evaluation rank of a tier; lower evaluates first.
func (t RuleTier) TierRank() int {
	switch t {
	case TierManualFix:
		return 0
	case TierProtectedCore:
		return 1
	case TierGeneratedCurated:
		return 2
	case TierLegacyArchived:
		return 3
	case TierLegacyCompat:
		return 4
	}
	return 5
}

// Protected reports whether cleanup and bulk regeneration must leave rules in
// this tier alone.
func (t RuleTier) Protected() bool {
	return t == TierManualFix || t == TierProtectedCore
}

// Rule is the atomic policy unit: a condition set, an action set, and the
// behavior flags that place it in the evaluation order.
type Rule struct {
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Name           string     `json:"name"`
	Origin         string     `json:"origin"` // free-form provenance tag, e.g. "learn:<run-id>"
	Source         RuleSource `json:"source"`
	Tier           RuleTier   `json:"tier"`
	Conditions     Conditions `json:"conditions"`
	Actions        Actions    `json:"actions"`
	ID             int64      `json:"id"`
	RuleSetID      int64      `json:"rule_set_id"`
	Priority       int        `json:"priority"` // higher evaluates first within a tier
	UseCount       int        `json:"use_count"`
	OverrideCount  int        `json:"override_count"` // times a human re-categorized after this rule fired
	Confidence     float64    `json:"confidence"`     // meaningful for learned rules only
	Enabled        bool       `json:"enabled"`
	StopProcessing bool       `json:"stop_processing"`
}

// Specificity condition weights. More selective condition shapes score
// higher so narrow rules are tried before broad catch-alls at equal priority.
const (
	weightTextEquals     = 3
	weightTextRegex      = 2
	weightTextStartsWith = 2
	weightTextContains   = 1
	weightAmountExact    = 3
	weightAmountRange    = 2
	weightSign           = 1
	weightAccountList    = 2
	weightDateBound      = 1
)

// Specificity computes the derived specificity score of the rule's
// conditions. The formula is a weighted count of non-default conditions:
// each text condition contributes by operator (equals 3, regex 2,
// starts_with 2, contains 1), an exact amount 3, an amount range 2, a sign
// restriction 1, an account allow-list 2, and each present date bound 1.
// A rule with no conditions scores zero.
func (r *Rule) Specificity() int {
	score := 0
	score += textWeight(r.Conditions.Description)
	score += textWeight(r.Conditions.Merchant)
	if a := r.Conditions.Amount; a != nil {
		if a.Exact != nil {
			score += weightAmountExact
		} else if a.Min != nil || a.Max != nil {
			score += weightAmountRange
		}
	}
	if r.Conditions.Sign == SignIncome || r.Conditions.Sign == SignExpense {
		score += weightSign
	}
	if len(r.Conditions.AccountIDs) > 0 {
		score += weightAccountList
	}
	if r.Conditions.DateFrom != nil {
		score += weightDateBound
	}
	if r.Conditions.DateTo != nil {
		score += weightDateBound
	}
	return score
}

func textWeight(c *TextCondition) int {
	if c == nil {
		return 0
	}
	switch c.Operator {
	case OperatorEquals:
		return weightTextEquals
	case OperatorRegex:
		return weightTextRegex
	case OperatorStartsWith:
		return weightTextStartsWith
	case OperatorContains:
		return weightTextContains
	}
	return 0
}

// MatchesEverything reports whether the rule has no restricting conditions.
// Such rules are valid but dangerous; cleanup analysis flags them.
func (r *Rule) MatchesEverything() bool {
	return r.Conditions.Empty()
}
