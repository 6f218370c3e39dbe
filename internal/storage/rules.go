package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/rules"
)

var ruleColumns = []string{
	"id", "rule_set_id", "name",
	"desc_operator", "desc_value", "desc_case_sensitive", "desc_semantics",
	"merch_operator", "merch_value", "merch_case_sensitive", "merch_semantics",
	"amount_exact", "amount_min", "amount_max", "sign", "account_ids",
	"date_from", "date_to",
	"has_category_action", "set_category_id", "tag_mode", "tag_values",
	"has_merchant_action", "set_merchant", "set_income", "set_exclude",
	"priority", "enabled", "stop_processing", "source", "confidence",
	"tier", "origin", "use_count", "override_count", "created_at", "updated_at",
}

// CreateRule validates and persists a new rule, assigning its id and bumping
// the owning rule set's version.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := rules.Validate(rule); err != nil {
		return err
	}
	if err := validateString(rule.Name, "name"); err != nil {
		return err
	}
	if err := s.verifyRuleCategory(ctx, rule); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		fields, args, err := ruleFields(rule)
		if err != nil {
			return err
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", ")
		query := fmt.Sprintf("INSERT INTO rules (%s) VALUES (%s)",
			strings.Join(fields, ", "), placeholders)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to create rule: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule id: %w", err)
		}
		rule.ID = id
		rule.CreatedAt = time.Now()
		rule.UpdatedAt = rule.CreatedAt

		return bumpRuleSetVersion(ctx, tx, rule.RuleSetID)
	})
}

// GetRule retrieves a rule by id.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM rules WHERE id = ?", strings.Join(ruleColumns, ", "))
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// GetRulesBySet retrieves all rules belonging to a rule set, id order.
func (s *SQLiteStorage) GetRulesBySet(ctx context.Context, ruleSetID int64) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, "rule_set_id = ?", ruleSetID)
}

// GetRulesByOrigin retrieves rules in a set carrying the given provenance
// tag, used by learn revert.
func (s *SQLiteStorage) GetRulesByOrigin(ctx context.Context, ruleSetID int64, origin string) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(origin, "origin"); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, "rule_set_id = ? AND origin = ?", ruleSetID, origin)
}

func (s *SQLiteStorage) queryRules(ctx context.Context, where string, args ...any) ([]model.Rule, error) {
	query := fmt.Sprintf("SELECT %s FROM rules WHERE %s ORDER BY id ASC",
		strings.Join(ruleColumns, ", "), where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ruleList []model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		ruleList = append(ruleList, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return ruleList, nil
}

// UpdateRule validates and persists changes to an existing rule.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := rules.Validate(rule); err != nil {
		return err
	}
	if err := validateString(rule.Name, "name"); err != nil {
		return err
	}
	if err := s.verifyRuleCategory(ctx, rule); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		fields, args, err := ruleFields(rule)
		if err != nil {
			return err
		}

		assignments := make([]string, len(fields))
		for i, field := range fields {
			assignments[i] = field + " = ?"
		}
		query := fmt.Sprintf(
			"UPDATE rules SET %s, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			strings.Join(assignments, ", "))
		args = append(args, rule.ID)

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("rule %d: %w", rule.ID, common.ErrNotFound)
		}

		return bumpRuleSetVersion(ctx, tx, rule.RuleSetID)
	})
}

// DeleteRules removes rules by id, bumping each affected set's version.
func (s *SQLiteStorage) DeleteRules(ctx context.Context, ids []int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		setIDs := make(map[int64]bool)
		for _, id := range ids {
			var setID int64
			err := tx.QueryRowContext(ctx,
				"SELECT rule_set_id FROM rules WHERE id = ?", id).Scan(&setID)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to resolve rule %d: %w", id, err)
			}
			setIDs[setID] = true

			if _, err := tx.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete rule %d: %w", id, err)
			}
		}

		for setID := range setIDs {
			if err := bumpRuleSetVersion(ctx, tx, setID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetRuleTier re-tiers a rule, bumping its set's version.
func (s *SQLiteStorage) SetRuleTier(ctx context.Context, id int64, tier model.RuleTier) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var setID int64
		err := tx.QueryRowContext(ctx,
			"SELECT rule_set_id FROM rules WHERE id = ?", id).Scan(&setID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve rule %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE rules SET tier = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			string(tier), id); err != nil {
			return fmt.Errorf("failed to set rule tier: %w", err)
		}

		return bumpRuleSetVersion(ctx, tx, setID)
	})
}

// AddRuleUseCount adds to a rule's hit counter. Use counts do not influence
// ordering, so the rule set version is left alone.
func (s *SQLiteStorage) AddRuleUseCount(ctx context.Context, id int64, delta int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE rules SET use_count = use_count + ? WHERE id = ?", delta, id)
	if err != nil {
		return fmt.Errorf("failed to add rule use count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// IncrementRuleOverrideCount records that a human re-categorized a
// transaction this rule had classified.
func (s *SQLiteStorage) IncrementRuleOverrideCount(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE rules SET override_count = override_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to increment rule override count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// verifyRuleCategory ensures a set-category action references an existing
// active category; a dangling reference is a configuration error.
func (s *SQLiteStorage) verifyRuleCategory(ctx context.Context, rule *model.Rule) error {
	act := rule.Actions.Category
	if act == nil || act.CategoryID == nil {
		return nil
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM categories WHERE id = ? AND is_active = 1",
		*act.CategoryID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to verify category: %w", err)
	}
	if count == 0 {
		return common.NewValidationError("actions.category",
			fmt.Sprintf("category %d does not exist or is inactive", *act.CategoryID))
	}
	return nil
}

func bumpRuleSetVersion(ctx context.Context, tx *sql.Tx, setID int64) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE rule_sets SET version = version + 1 WHERE id = ?", setID); err != nil {
		return fmt.Errorf("failed to bump rule set version: %w", err)
	}
	return nil
}

// ruleFields flattens a rule into column names and values for insert/update.
func ruleFields(rule *model.Rule) ([]string, []any, error) {
	accountIDs, err := json.Marshal(rule.Conditions.AccountIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode account ids: %w", err)
	}

	fields := []string{
		"rule_set_id", "name",
		"desc_operator", "desc_value", "desc_case_sensitive", "desc_semantics",
		"merch_operator", "merch_value", "merch_case_sensitive", "merch_semantics",
		"amount_exact", "amount_min", "amount_max", "sign", "account_ids",
		"date_from", "date_to",
		"has_category_action", "set_category_id", "tag_mode", "tag_values",
		"has_merchant_action", "set_merchant", "set_income", "set_exclude",
		"priority", "enabled", "stop_processing", "source", "confidence",
		"tier", "origin",
	}

	descOp, descVal, descCase, descSem := textFields(rule.Conditions.Description)
	merchOp, merchVal, merchCase, merchSem := textFields(rule.Conditions.Merchant)

	var amountExact, amountMin, amountMax *float64
	if a := rule.Conditions.Amount; a != nil {
		amountExact, amountMin, amountMax = a.Exact, a.Min, a.Max
	}

	sign := rule.Conditions.Sign
	if sign == "" {
		sign = model.SignAny
	}

	hasCategory := rule.Actions.Category != nil
	var setCategoryID *int64
	if hasCategory {
		setCategoryID = rule.Actions.Category.CategoryID
	}

	var tagMode, tagValues *string
	if t := rule.Actions.Tags; t != nil {
		mode := string(t.Mode)
		values, err := json.Marshal(t.Values)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode tag values: %w", err)
		}
		encoded := string(values)
		tagMode, tagValues = &mode, &encoded
	}

	hasMerchant := rule.Actions.Merchant != nil
	var setMerchant *string
	if hasMerchant {
		setMerchant = rule.Actions.Merchant.Name
	}

	args := []any{
		rule.RuleSetID, rule.Name,
		descOp, descVal, descCase, descSem,
		merchOp, merchVal, merchCase, merchSem,
		amountExact, amountMin, amountMax, string(sign), string(accountIDs),
		rule.Conditions.DateFrom, rule.Conditions.DateTo,
		hasCategory, setCategoryID, tagMode, tagValues,
		hasMerchant, setMerchant, rule.Actions.Income, rule.Actions.Exclude,
		rule.Priority, rule.Enabled, rule.StopProcessing, string(rule.Source),
		rule.Confidence, string(rule.Tier), rule.Origin,
	}

	return fields, args, nil
}

func textFields(cond *model.TextCondition) (op, value *string, caseSensitive bool, semantics *string) {
	if cond == nil {
		return nil, nil, false, nil
	}
	o := string(cond.Operator)
	sem := string(cond.Semantics)
	if sem == "" {
		sem = string(model.SemanticsLiteral)
	}
	return &o, &cond.Value, cond.CaseSensitive, &sem
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var rule model.Rule
	var descOp, descVal, descSem sql.NullString
	var merchOp, merchVal, merchSem sql.NullString
	var descCase, merchCase bool
	var amountExact, amountMin, amountMax sql.NullFloat64
	var sign, source, tier string
	var accountIDs string
	var dateFrom, dateTo sql.NullTime
	var hasCategory, hasMerchant bool
	var setCategoryID sql.NullInt64
	var tagMode, tagValues, setMerchant sql.NullString
	var setIncome, setExclude sql.NullBool

	err := row.Scan(
		&rule.ID, &rule.RuleSetID, &rule.Name,
		&descOp, &descVal, &descCase, &descSem,
		&merchOp, &merchVal, &merchCase, &merchSem,
		&amountExact, &amountMin, &amountMax, &sign, &accountIDs,
		&dateFrom, &dateTo,
		&hasCategory, &setCategoryID, &tagMode, &tagValues,
		&hasMerchant, &setMerchant, &setIncome, &setExclude,
		&rule.Priority, &rule.Enabled, &rule.StopProcessing, &source,
		&rule.Confidence, &tier, &rule.Origin, &rule.UseCount,
		&rule.OverrideCount, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Source = model.RuleSource(source)
	rule.Tier = model.RuleTier(tier)
	rule.Conditions.Sign = model.SignCondition(sign)
	rule.Conditions.Description = textCondition(descOp, descVal, descCase, descSem)
	rule.Conditions.Merchant = textCondition(merchOp, merchVal, merchCase, merchSem)

	if amountExact.Valid || amountMin.Valid || amountMax.Valid {
		cond := &model.AmountCondition{}
		if amountExact.Valid {
			cond.Exact = &amountExact.Float64
		}
		if amountMin.Valid {
			cond.Min = &amountMin.Float64
		}
		if amountMax.Valid {
			cond.Max = &amountMax.Float64
		}
		rule.Conditions.Amount = cond
	}

	if err := json.Unmarshal([]byte(accountIDs), &rule.Conditions.AccountIDs); err != nil {
		return nil, fmt.Errorf("failed to decode account ids: %w", err)
	}
	if dateFrom.Valid {
		rule.Conditions.DateFrom = &dateFrom.Time
	}
	if dateTo.Valid {
		rule.Conditions.DateTo = &dateTo.Time
	}

	if hasCategory {
		act := &model.CategoryAction{}
		if setCategoryID.Valid {
			act.CategoryID = &setCategoryID.Int64
		}
		rule.Actions.Category = act
	}
	if tagMode.Valid {
		var values []string
		if tagValues.Valid {
			if err := json.Unmarshal([]byte(tagValues.String), &values); err != nil {
				return nil, fmt.Errorf("failed to decode tag values: %w", err)
			}
		}
		rule.Actions.Tags = &model.TagAction{Mode: model.TagMode(tagMode.String), Values: values}
	}
	if hasMerchant {
		act := &model.MerchantAction{}
		if setMerchant.Valid {
			act.Name = &setMerchant.String
		}
		rule.Actions.Merchant = act
	}
	if setIncome.Valid {
		rule.Actions.Income = &setIncome.Bool
	}
	if setExclude.Valid {
		rule.Actions.Exclude = &setExclude.Bool
	}

	return &rule, nil
}

func textCondition(op, value sql.NullString, caseSensitive bool, semantics sql.NullString) *model.TextCondition {
	if !op.Valid {
		return nil
	}
	cond := &model.TextCondition{
		Operator:      model.TextOperator(op.String),
		Value:         value.String,
		CaseSensitive: caseSensitive,
	}
	if semantics.Valid {
		cond.Semantics = model.TextSemantics(semantics.String)
	}
	return cond
}
