package rules

import (
	"math"
	"regexp"
	"strings"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
)

// Matches evaluates the rule's condition set against a transaction. Every
// present condition must independently hold; absent conditions are ignored.
// Pure predicate, no side effects.
func (c *CompiledRule) Matches(txn model.Transaction) bool {
	cond := c.Rule.Conditions

	if !c.matchesText(cond.Description, txn.Description, c.descRe, c.descBroken) {
		return false
	}

	// The merchant condition targets the cleaned merchant name, falling back
	// to the raw description when no merchant was ever extracted.
	merchant := txn.MerchantName
	if merchant == "" {
		merchant = txn.Description
	}
	if !c.matchesText(cond.Merchant, merchant, c.merchRe, c.merchBroken) {
		return false
	}

	if !matchesAmount(cond.Amount, txn.Amount) {
		return false
	}
	if !matchesSign(cond.Sign, txn.Amount) {
		return false
	}
	if !matchesAccounts(cond.AccountIDs, txn.AccountID) {
		return false
	}
	if cond.DateFrom != nil && txn.Date.Before(*cond.DateFrom) {
		return false
	}
	if cond.DateTo != nil && txn.Date.After(*cond.DateTo) {
		return false
	}

	return true
}

func (c *CompiledRule) matchesText(cond *model.TextCondition, target string, re *regexp.Regexp, broken bool) bool {
	if cond == nil {
		return true
	}

	if cond.Operator == model.OperatorRegex {
		if broken || re == nil {
			return false
		}
		if cond.Semantics == model.SemanticsNormalized {
			target = common.NormalizeText(target)
		}
		return re.MatchString(target)
	}

	value := cond.Value
	if cond.Semantics == model.SemanticsNormalized {
		// Normalization lowercases, so the case flag is moot here.
		target = common.NormalizeText(target)
		value = common.NormalizeText(value)
	} else if !cond.CaseSensitive {
		target = strings.ToLower(target)
		value = strings.ToLower(value)
	}

	switch cond.Operator {
	case model.OperatorContains:
		return strings.Contains(target, value)
	case model.OperatorEquals:
		return target == value
	case model.OperatorStartsWith:
		return strings.HasPrefix(target, value)
	}

	return false
}

// matchesAmount compares on rounded cents so an exact condition is
// tolerance-free on currency values rather than raw float bits.
func matchesAmount(cond *model.AmountCondition, amount float64) bool {
	if cond == nil {
		return true
	}
	if cond.Exact != nil {
		return toCents(amount) == toCents(*cond.Exact)
	}
	if cond.Min != nil && toCents(amount) < toCents(*cond.Min) {
		return false
	}
	if cond.Max != nil && toCents(amount) > toCents(*cond.Max) {
		return false
	}
	return true
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func matchesSign(sign model.SignCondition, amount float64) bool {
	switch sign {
	case model.SignIncome:
		return amount > 0
	case model.SignExpense:
		return amount < 0
	}
	return true
}

func matchesAccounts(allowed []string, accountID string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, id := range allowed {
		if id == accountID {
			return true
		}
	}
	return false
}
