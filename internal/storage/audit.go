package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/model"
)

// AppendAudit records a lifecycle event. An empty id gets a fresh uuid.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := validateString(string(entry.Kind), "kind"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, kind, detail, rule_id, rule_set_id, run_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Kind), entry.Detail, entry.RuleID,
		entry.RuleSetID, entry.RunID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// GetAuditEntries retrieves the most recent audit entries, newest first.
func (s *SQLiteStorage) GetAuditEntries(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, detail, rule_id, rule_set_id, run_id, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var kind string
		var ruleID, ruleSetID sql.NullInt64

		if err := rows.Scan(&entry.ID, &kind, &entry.Detail, &ruleID,
			&ruleSetID, &entry.RunID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Kind = model.AuditKind(kind)
		if ruleID.Valid {
			entry.RuleID = &ruleID.Int64
		}
		if ruleSetID.Valid {
			entry.RuleSetID = &ruleSetID.Int64
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
