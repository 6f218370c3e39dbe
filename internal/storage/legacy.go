package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgermint/ledgermint/internal/service"
)

// GetLegacyKeywordRules retrieves the old keyword-to-category rows. These are
// never migrated in place; the legacy bridge adapts them at read time.
func (s *SQLiteStorage) GetLegacyKeywordRules(ctx context.Context) ([]service.LegacyKeywordRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, keyword, category_id FROM legacy_keyword_rules ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy keyword rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []service.LegacyKeywordRule
	for rows.Next() {
		var r service.LegacyKeywordRule
		if err := rows.Scan(&r.ID, &r.Keyword, &r.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan legacy keyword rule: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy keyword rules: %w", err)
	}
	return result, nil
}

// GetLegacyTagRules retrieves the old keyword-to-tags rows.
func (s *SQLiteStorage) GetLegacyTagRules(ctx context.Context) ([]service.LegacyTagRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, keyword, tags FROM legacy_tag_rules ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy tag rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []service.LegacyTagRule
	for rows.Next() {
		var r service.LegacyTagRule
		var tags string
		if err := rows.Scan(&r.ID, &r.Keyword, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan legacy tag rule: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode legacy tags: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy tag rules: %w", err)
	}
	return result, nil
}
