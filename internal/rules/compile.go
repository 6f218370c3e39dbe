// Package rules implements the deterministic transaction classification
// engine: condition matching, conflict-resolving action application, total
// rule ordering, and single/batch evaluation.
package rules

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
)

// CompiledRule pairs a rule with its precompiled regex patterns and cached
// ordering fields. Compilation happens once per rule-set version, never in
// the per-transaction hot path.
type CompiledRule struct {
	descRe      *regexp.Regexp
	merchRe     *regexp.Regexp
	Rule        model.Rule
	specificity int
	descBroken  bool // malformed pattern: degrade to non-match, logged once
	merchBroken bool
}

// Compile prepares a rule for evaluation. A regex that fails to compile here
// was saved before validation existed (or hand-edited); the rule degrades to
// non-matching on that condition rather than aborting a batch.
func Compile(rule model.Rule) CompiledRule {
	c := CompiledRule{Rule: rule, specificity: rule.Specificity()}

	if cond := rule.Conditions.Description; cond != nil && cond.Operator == model.OperatorRegex {
		c.descRe, c.descBroken = compileTextRegex(rule.ID, "description", cond)
	}
	if cond := rule.Conditions.Merchant; cond != nil && cond.Operator == model.OperatorRegex {
		c.merchRe, c.merchBroken = compileTextRegex(rule.ID, "merchant", cond)
	}

	return c
}

// CompileAll compiles a slice of rules.
func CompileAll(ruleList []model.Rule) []CompiledRule {
	compiled := make([]CompiledRule, 0, len(ruleList))
	for _, r := range ruleList {
		compiled = append(compiled, Compile(r))
	}
	return compiled
}

func compileTextRegex(ruleID int64, field string, cond *model.TextCondition) (*regexp.Regexp, bool) {
	pattern := cond.Value
	if !cond.CaseSensitive {
		pattern = "(?i)" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("unparseable regex condition, rule will not match on it",
			"rule_id", ruleID, "field", field, "pattern", cond.Value)
		return nil, true
	}
	return re, false
}

// Validate checks a rule for configuration errors. It is called at rule-save
// and preview time so malformed rules never reach batch evaluation.
func Validate(rule *model.Rule) error {
	if rule == nil {
		return common.NewValidationError("rule", "cannot be nil")
	}
	if err := validateText("conditions.description", rule.Conditions.Description); err != nil {
		return err
	}
	if err := validateText("conditions.merchant", rule.Conditions.Merchant); err != nil {
		return err
	}
	if err := validateAmount(rule.Conditions.Amount); err != nil {
		return err
	}
	switch rule.Conditions.Sign {
	case "", model.SignAny, model.SignIncome, model.SignExpense:
	default:
		return common.NewValidationError("conditions.sign", fmt.Sprintf("unknown sign %q", rule.Conditions.Sign))
	}
	if from, to := rule.Conditions.DateFrom, rule.Conditions.DateTo; from != nil && to != nil && to.Before(*from) {
		return common.NewValidationError("conditions.date_to", "must not precede date_from")
	}
	if tags := rule.Actions.Tags; tags != nil {
		switch tags.Mode {
		case model.TagAppend, model.TagReplace, model.TagRemove:
		default:
			return common.NewValidationError("actions.tags.mode", fmt.Sprintf("unknown mode %q", tags.Mode))
		}
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return common.NewValidationError("confidence", "must be between 0 and 1")
	}
	if rule.Tier.TierRank() > model.TierLegacyCompat.TierRank() {
		return common.NewValidationError("tier", fmt.Sprintf("unknown tier %q", rule.Tier))
	}
	return nil
}

func validateText(field string, cond *model.TextCondition) error {
	if cond == nil {
		return nil
	}
	switch cond.Operator {
	case model.OperatorContains, model.OperatorEquals, model.OperatorStartsWith:
	case model.OperatorRegex:
		if _, err := regexp.Compile(cond.Value); err != nil {
			return common.NewValidationError(field, fmt.Sprintf("malformed regex: %v", err))
		}
	default:
		return common.NewValidationError(field, fmt.Sprintf("unknown operator %q", cond.Operator))
	}
	if cond.Value == "" {
		return common.NewValidationError(field, "value cannot be empty")
	}
	switch cond.Semantics {
	case "", model.SemanticsLiteral, model.SemanticsNormalized:
	default:
		return common.NewValidationError(field, fmt.Sprintf("unknown semantics %q", cond.Semantics))
	}
	return nil
}

func validateAmount(cond *model.AmountCondition) error {
	if cond == nil {
		return nil
	}
	if cond.Exact != nil && (cond.Min != nil || cond.Max != nil) {
		return common.NewValidationError("conditions.amount", "exact and range are mutually exclusive")
	}
	if cond.Exact == nil && cond.Min == nil && cond.Max == nil {
		return common.NewValidationError("conditions.amount", "requires exact or at least one bound")
	}
	if cond.Min != nil && cond.Max != nil && *cond.Max < *cond.Min {
		return common.NewValidationError("conditions.amount", "max must not be below min")
	}
	return nil
}
