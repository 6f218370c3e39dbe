package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpecificity(t *testing.T) {
	now := time.Now()
	amount := 9.99
	minAmount := 5.0

	tests := []struct {
		name string
		rule Rule
		want int
	}{
		{
			name: "no conditions scores zero",
			rule: Rule{},
			want: 0,
		},
		{
			name: "text equals",
			rule: Rule{Conditions: Conditions{
				Merchant: &TextCondition{Operator: OperatorEquals, Value: "netflix"},
			}},
			want: 3,
		},
		{
			name: "text contains",
			rule: Rule{Conditions: Conditions{
				Description: &TextCondition{Operator: OperatorContains, Value: "coffee"},
			}},
			want: 1,
		},
		{
			name: "regex and starts_with weigh equally",
			rule: Rule{Conditions: Conditions{
				Description: &TextCondition{Operator: OperatorRegex, Value: "^UBER"},
				Merchant:    &TextCondition{Operator: OperatorStartsWith, Value: "uber"},
			}},
			want: 4,
		},
		{
			name: "exact amount outweighs range",
			rule: Rule{Conditions: Conditions{
				Amount: &AmountCondition{Exact: &amount},
			}},
			want: 3,
		},
		{
			name: "amount range",
			rule: Rule{Conditions: Conditions{
				Amount: &AmountCondition{Min: &minAmount},
			}},
			want: 2,
		},
		{
			name: "sign and accounts and date bounds",
			rule: Rule{Conditions: Conditions{
				Sign:       SignExpense,
				AccountIDs: []string{"checking"},
				DateFrom:   &now,
				DateTo:     &now,
			}},
			want: 5,
		},
		{
			name: "everything combined",
			rule: Rule{Conditions: Conditions{
				Description: &TextCondition{Operator: OperatorEquals, Value: "x"},
				Merchant:    &TextCondition{Operator: OperatorContains, Value: "y"},
				Amount:      &AmountCondition{Exact: &amount},
				Sign:        SignIncome,
				AccountIDs:  []string{"a"},
				DateFrom:    &now,
			}},
			want: 11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Specificity())
		})
	}
}

func TestTierRankOrder(t *testing.T) {
	tiers := []RuleTier{
		TierManualFix,
		TierProtectedCore,
		TierGeneratedCurated,
		TierLegacyArchived,
		TierLegacyCompat,
	}
	for i := 1; i < len(tiers); i++ {
		assert.Less(t, tiers[i-1].TierRank(), tiers[i].TierRank(),
			"%s must rank before %s", tiers[i-1], tiers[i])
	}
	assert.Greater(t, RuleTier("bogus").TierRank(), TierLegacyCompat.TierRank())
}

func TestTierProtected(t *testing.T) {
	assert.True(t, TierManualFix.Protected())
	assert.True(t, TierProtectedCore.Protected())
	assert.False(t, TierGeneratedCurated.Protected())
	assert.False(t, TierLegacyArchived.Protected())
	assert.False(t, TierLegacyCompat.Protected())
}

func TestSourceRankOrder(t *testing.T) {
	assert.Less(t, SourceManual.SourceRank(), SourceLearned.SourceRank())
	assert.Less(t, SourceLearned.SourceRank(), SourceLegacy.SourceRank())
}

func TestMatchesEverything(t *testing.T) {
	assert.True(t, (&Rule{}).MatchesEverything())
	assert.True(t, (&Rule{Conditions: Conditions{Sign: SignAny}}).MatchesEverything())
	assert.False(t, (&Rule{Conditions: Conditions{Sign: SignExpense}}).MatchesEverything())
	assert.False(t, (&Rule{Conditions: Conditions{
		Description: &TextCondition{Operator: OperatorContains, Value: "x"},
	}}).MatchesEverything())
}

func TestHumanCategorized(t *testing.T) {
	category := int64(4)
	ruleID := int64(12)

	assert.False(t, (&Transaction{}).HumanCategorized())
	assert.True(t, (&Transaction{CategoryID: &category}).HumanCategorized())
	assert.False(t, (&Transaction{CategoryID: &category, CategorySetBy: &ruleID}).HumanCategorized())
}
