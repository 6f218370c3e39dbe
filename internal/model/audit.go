package model

import "time"

// AuditKind classifies an audit log entry.
type AuditKind string

// Audit kind constants.
const (
	AuditRuleSetActivated   AuditKind = "ruleset_activated"
	AuditSuggestionAccepted AuditKind = "suggestion_accepted"
	AuditSuggestionRejected AuditKind = "suggestion_rejected"
	AuditCleanupApplied     AuditKind = "cleanup_applied"
	AuditLearnReverted      AuditKind = "learn_reverted"
	AuditProtectedExtracted AuditKind = "protected_extracted"
	AuditLegacyImported     AuditKind = "legacy_imported"
)

// AuditEntry records a lifecycle operation for later review. Rejected
// suggestions leave no other persisted trace, so the audit log is the only
// record that they ever existed.
type AuditEntry struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"` // uuid
	Kind      AuditKind `json:"kind"`
	Detail    string    `json:"detail"`
	RunID     string    `json:"run_id,omitempty"`
	RuleID    *int64    `json:"rule_id,omitempty"`
	RuleSetID *int64    `json:"rule_set_id,omitempty"`
}
