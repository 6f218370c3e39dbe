// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction represents a single financial transaction from any import source.
// The rule engine reads most fields and writes category, tags, merchant name,
// income override and totals exclusion, always recording provenance.
type Transaction struct {
	Date              time.Time
	ID                string
	Description       string // Raw transaction description from the bank export
	MerchantName      string // Cleaned merchant name, empty if never normalized
	AccountID         string
	Hash              string
	Tags              []string
	Amount            float64 // Signed: negative = expense, positive = income/credit
	CategoryID        *int64
	IncomeOverride    *bool
	CategorySetBy     *int64 // Rule that last set the category; nil = manual or unset
	ExcludeFromTotals bool
	CategoryLocked    bool
	TagsLocked        bool
	MerchantLocked    bool
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Description,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// HumanCategorized reports whether the category was assigned by a person
// rather than by rule evaluation.
func (t *Transaction) HumanCategorized() bool {
	return t.CategoryID != nil && t.CategorySetBy == nil
}

// HasTag reports whether the transaction currently carries the given tag.
func (t *Transaction) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}
