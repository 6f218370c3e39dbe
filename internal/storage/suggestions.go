package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
)

// SaveSuggestions persists a batch of learned suggestions.
func (s *SQLiteStorage) SaveSuggestions(ctx context.Context, suggestions []model.LearnedSuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(suggestions) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO suggestions (
				run_id, merchant_pattern, category_id, confidence, consistency,
				sample_count, sample_txn_ids, state, origin, reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range suggestions {
			sug := &suggestions[i]
			if sug.State == "" {
				sug.State = model.SuggestionPending
			}
			if sug.Origin == "" {
				sug.Origin = model.OriginMiner
			}
			sampleIDs, err := json.Marshal(sug.SampleTxnIDs)
			if err != nil {
				return fmt.Errorf("failed to encode sample ids: %w", err)
			}

			result, err := stmt.ExecContext(ctx,
				sug.RunID, sug.MerchantPattern, sug.CategoryID, sug.Confidence,
				sug.ConsistencyRatio, sug.SampleCount, string(sampleIDs),
				string(sug.State), string(sug.Origin), sug.Reason)
			if err != nil {
				return fmt.Errorf("failed to save suggestion: %w", err)
			}
			if sug.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get suggestion id: %w", err)
			}
		}
		return nil
	})
}

// GetSuggestions retrieves suggestions in a given review state, highest
// confidence first.
func (s *SQLiteStorage) GetSuggestions(ctx context.Context, state model.SuggestionState) ([]model.LearnedSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, merchant_pattern, category_id, confidence,
			consistency, sample_count, sample_txn_ids, state, origin, reason,
			created_at
		FROM suggestions WHERE state = ?
		ORDER BY confidence DESC, merchant_pattern ASC`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []model.LearnedSuggestion
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		suggestions = append(suggestions, *sug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggestions: %w", err)
	}
	return suggestions, nil
}

// GetSuggestionByID retrieves a suggestion by id.
func (s *SQLiteStorage) GetSuggestionByID(ctx context.Context, id int64) (*model.LearnedSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	sug, err := scanSuggestion(s.db.QueryRowContext(ctx, `
		SELECT id, run_id, merchant_pattern, category_id, confidence,
			consistency, sample_count, sample_txn_ids, state, origin, reason,
			created_at
		FROM suggestions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("suggestion %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return sug, nil
}

// SetSuggestionState transitions a suggestion's review state.
func (s *SQLiteStorage) SetSuggestionState(ctx context.Context, id int64, state model.SuggestionState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE suggestions SET state = ? WHERE id = ?", string(state), id)
	if err != nil {
		return fmt.Errorf("failed to set suggestion state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("suggestion %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanSuggestion(row rowScanner) (*model.LearnedSuggestion, error) {
	var sug model.LearnedSuggestion
	var state, origin, sampleIDs string

	err := row.Scan(&sug.ID, &sug.RunID, &sug.MerchantPattern, &sug.CategoryID,
		&sug.Confidence, &sug.ConsistencyRatio, &sug.SampleCount, &sampleIDs,
		&state, &origin, &sug.Reason, &sug.CreatedAt)
	if err != nil {
		return nil, err
	}

	sug.State = model.SuggestionState(state)
	sug.Origin = model.SuggestionOrigin(origin)
	if err := json.Unmarshal([]byte(sampleIDs), &sug.SampleTxnIDs); err != nil {
		return nil, fmt.Errorf("failed to decode sample ids: %w", err)
	}
	return &sug, nil
}
