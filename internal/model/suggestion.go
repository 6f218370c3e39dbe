package model

import "time"

// SuggestionState tracks the review state of a learned suggestion.
type SuggestionState string

// Suggestion state constants.
const (
	SuggestionPending  SuggestionState = "pending"
	SuggestionAccepted SuggestionState = "accepted"
	SuggestionRejected SuggestionState = "rejected"
)

// SuggestionOrigin records which component proposed a suggestion.
type SuggestionOrigin string

// Suggestion origin constants.
const (
	OriginMiner    SuggestionOrigin = "miner"
	OriginProvider SuggestionOrigin = "provider" // external AI suggestion provider
)

// LearnedSuggestion is a proposed rule awaiting human review. It is not a
// rule until accepted; rejecting it leaves only an audit log entry behind.
type LearnedSuggestion struct {
	CreatedAt        time.Time        `json:"created_at"`
	RunID            string           `json:"run_id"`
	MerchantPattern  string           `json:"merchant_pattern"` // normalized merchant/description key
	Reason           string           `json:"reason"`
	State            SuggestionState  `json:"state"`
	Origin           SuggestionOrigin `json:"origin"`
	SampleTxnIDs     []string         `json:"sample_txn_ids"`
	ID               int64            `json:"id"`
	CategoryID       int64            `json:"category_id"`
	SampleCount      int              `json:"sample_count"`
	Confidence       float64          `json:"confidence"`
	ConsistencyRatio float64          `json:"consistency_ratio"`
}
