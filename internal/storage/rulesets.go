package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
)

// CreateRuleSet persists a new rule set, assigning its id. New sets always
// start life as drafts.
func (s *SQLiteStorage) CreateRuleSet(ctx context.Context, set *model.RuleSet) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(set.Name, "name"); err != nil {
		return err
	}

	if set.State == "" {
		set.State = model.RuleSetDraft
	}
	if set.State != model.RuleSetDraft {
		return common.NewValidationError("state", "new rule sets must be drafts")
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO rule_sets (name, state, cloned_from) VALUES (?, ?, ?)",
		set.Name, string(set.State), set.ClonedFrom)
	if err != nil {
		return fmt.Errorf("failed to create rule set: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule set id: %w", err)
	}
	set.ID = id
	set.Version = 0
	set.CreatedAt = time.Now()
	return nil
}

// GetRuleSet retrieves a rule set by id.
func (s *SQLiteStorage) GetRuleSet(ctx context.Context, id int64) (*model.RuleSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	set, err := scanRuleSet(s.db.QueryRowContext(ctx, `
		SELECT id, name, state, cloned_from, version, created_at, activated_at
		FROM rule_sets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule set %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}
	return set, nil
}

// GetActiveRuleSet retrieves the single active rule set. More than one active
// set means the single-active invariant has been violated and is reported as
// ErrMultipleActive rather than silently picking one.
func (s *SQLiteStorage) GetActiveRuleSet(ctx context.Context) (*model.RuleSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, state, cloned_from, version, created_at, activated_at
		FROM rule_sets WHERE state = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rule set: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var active []*model.RuleSet
	for rows.Next() {
		set, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		active = append(active, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}

	switch len(active) {
	case 0:
		return nil, common.ErrNoActiveRuleSet
	case 1:
		return active[0], nil
	default:
		return nil, fmt.Errorf("%d active rule sets: %w", len(active), common.ErrMultipleActive)
	}
}

// GetRuleSets retrieves all rule sets, newest first.
func (s *SQLiteStorage) GetRuleSets(ctx context.Context) ([]model.RuleSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, state, cloned_from, version, created_at, activated_at
		FROM rule_sets ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sets []model.RuleSet
	for rows.Next() {
		set, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		sets = append(sets, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}
	return sets, nil
}

// ActivateRuleSet supersedes the current active set and activates the target
// in one transaction. The partial unique index on state='active' makes a
// second concurrent activation fail rather than leave two active sets.
func (s *SQLiteStorage) ActivateRuleSet(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx,
			"SELECT state FROM rule_sets WHERE id = ?", id).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rule set %d: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read rule set state: %w", err)
		}
		if model.RuleSetState(state) != model.RuleSetDraft {
			return fmt.Errorf("rule set %d is %s: %w", id, state, common.ErrNotDraft)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE rule_sets SET state = 'superseded' WHERE state = 'active'"); err != nil {
			return fmt.Errorf("failed to supersede active rule set: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE rule_sets SET state = 'active', activated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to activate rule set: %w", err)
		}
		return nil
	})
}

// CloneRuleSet creates a draft copy of a rule set with all of its rules.
// Cloned rules start with fresh use and override counters.
func (s *SQLiteStorage) CloneRuleSet(ctx context.Context, sourceID int64, name string) (*model.RuleSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	var clone *model.RuleSet
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM rule_sets WHERE id = ?", sourceID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check source rule set: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("rule set %d: %w", sourceID, common.ErrNotFound)
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO rule_sets (name, state, cloned_from) VALUES (?, 'draft', ?)",
			name, sourceID)
		if err != nil {
			return fmt.Errorf("failed to create clone: %w", err)
		}
		cloneID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get clone id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rules (
				rule_set_id, name,
				desc_operator, desc_value, desc_case_sensitive, desc_semantics,
				merch_operator, merch_value, merch_case_sensitive, merch_semantics,
				amount_exact, amount_min, amount_max, sign, account_ids,
				date_from, date_to,
				has_category_action, set_category_id, tag_mode, tag_values,
				has_merchant_action, set_merchant, set_income, set_exclude,
				priority, enabled, stop_processing, source, confidence, tier, origin
			)
			SELECT
				?, name,
				desc_operator, desc_value, desc_case_sensitive, desc_semantics,
				merch_operator, merch_value, merch_case_sensitive, merch_semantics,
				amount_exact, amount_min, amount_max, sign, account_ids,
				date_from, date_to,
				has_category_action, set_category_id, tag_mode, tag_values,
				has_merchant_action, set_merchant, set_income, set_exclude,
				priority, enabled, stop_processing, source, confidence, tier, origin
			FROM rules WHERE rule_set_id = ?`, cloneID, sourceID); err != nil {
			return fmt.Errorf("failed to copy rules: %w", err)
		}

		src := sourceID
		clone = &model.RuleSet{
			ID:         cloneID,
			Name:       name,
			State:      model.RuleSetDraft,
			ClonedFrom: &src,
			CreatedAt:  time.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

func scanRuleSet(row rowScanner) (*model.RuleSet, error) {
	var set model.RuleSet
	var state string
	var clonedFrom sql.NullInt64
	var activatedAt sql.NullTime

	err := row.Scan(&set.ID, &set.Name, &state, &clonedFrom,
		&set.Version, &set.CreatedAt, &activatedAt)
	if err != nil {
		return nil, err
	}

	set.State = model.RuleSetState(state)
	if clonedFrom.Valid {
		set.ClonedFrom = &clonedFrom.Int64
	}
	if activatedAt.Valid {
		set.ActivatedAt = &activatedAt.Time
	}
	return &set, nil
}
