// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/ledgermint/ledgermint/internal/model"
)

// TransactionFilter defines filtering options for transaction queries. An
// empty AccountIDs slice means all accounts; nil date bounds are open.
type TransactionFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	CategoryID    *int64
	AccountIDs    []string
	OnlyHuman     bool // only transactions whose category was set by a person
	Uncategorized bool
	Limit         int
	Offset        int
}

// TransactionMutation is the single-row write the engine commits back to the
// store after evaluating one transaction. Unset fields are left untouched.
type TransactionMutation struct {
	TxnID          string
	CategoryID     *int64
	CategorySetBy  *int64
	MerchantName   *string
	IncomeOverride *bool
	Exclude        *bool
	Tags           []string
	SetCategory    bool
	SetMerchant    bool
	SetIncome      bool
	SetExclude     bool
	SetTags        bool
}

// Empty reports whether the mutation would change nothing.
func (m TransactionMutation) Empty() bool {
	return !m.SetCategory && !m.SetMerchant && !m.SetIncome && !m.SetExclude && !m.SetTags
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	CountTransactions(ctx context.Context, filter TransactionFilter) (int, error)
	ApplyTransactionMutation(ctx context.Context, mutation TransactionMutation) error

	// Rule operations
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	GetRulesBySet(ctx context.Context, ruleSetID int64) ([]model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule) error
	DeleteRules(ctx context.Context, ids []int64) error
	SetRuleTier(ctx context.Context, id int64, tier model.RuleTier) error
	AddRuleUseCount(ctx context.Context, id int64, delta int) error
	IncrementRuleOverrideCount(ctx context.Context, id int64) error
	GetRulesByOrigin(ctx context.Context, ruleSetID int64, origin string) ([]model.Rule, error)

	// Rule set operations
	CreateRuleSet(ctx context.Context, set *model.RuleSet) error
	GetRuleSet(ctx context.Context, id int64) (*model.RuleSet, error)
	GetActiveRuleSet(ctx context.Context) (*model.RuleSet, error)
	GetRuleSets(ctx context.Context) ([]model.RuleSet, error)
	ActivateRuleSet(ctx context.Context, id int64) error
	CloneRuleSet(ctx context.Context, sourceID int64, name string) (*model.RuleSet, error)

	// Category operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, name string, isIncome bool) (*model.Category, error)

	// Learned suggestion operations
	SaveSuggestions(ctx context.Context, suggestions []model.LearnedSuggestion) error
	GetSuggestions(ctx context.Context, state model.SuggestionState) ([]model.LearnedSuggestion, error)
	GetSuggestionByID(ctx context.Context, id int64) (*model.LearnedSuggestion, error)
	SetSuggestionState(ctx context.Context, id int64, state model.SuggestionState) error

	// Legacy rule rows (read-time adapted by the legacy bridge)
	GetLegacyKeywordRules(ctx context.Context) ([]LegacyKeywordRule, error)
	GetLegacyTagRules(ctx context.Context) ([]LegacyTagRule, error)

	// Audit log
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	GetAuditEntries(ctx context.Context, limit int) ([]model.AuditEntry, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// LegacyKeywordRule is the oldest rule shape: one keyword, one category.
// Rows keep working without migration via the legacy bridge.
type LegacyKeywordRule struct {
	Keyword    string
	ID         int64
	CategoryID int64
}

// LegacyTagRule is the tag-append-only legacy rule shape.
type LegacyTagRule struct {
	Keyword string
	Tags    []string
	ID      int64
}

// TransactionSummary is the read-only view handed to an external suggestion
// provider.
type TransactionSummary struct {
	Date        time.Time
	ID          string
	Description string
	Merchant    string
	Amount      float64
}

// ProviderSuggestion is a review-only suggestion from an external AI
// provider. It is never applied directly; it flows through the same
// human-accept path as mined suggestions.
type ProviderSuggestion struct {
	TxnID        string
	CategoryName string
	Merchant     string
	Reasoning    string
	Tags         []string
	Confidence   float64
}

// SuggestionProvider is the optional external AI collaborator. The core never
// calls it automatically.
type SuggestionProvider interface {
	SuggestBatch(ctx context.Context, batch []TransactionSummary) ([]ProviderSuggestion, error)
}
