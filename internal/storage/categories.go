package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
)

// GetCategories retrieves all active categories, alphabetical.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, is_income, is_active, created_at
		FROM categories WHERE is_active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.IsIncome,
			&c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

// GetCategoryByID retrieves a category by id.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var c model.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, is_income, is_active, created_at
		FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Color, &c.IsIncome, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("category %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// GetCategoryByName retrieves a category by name, case-insensitive.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	var c model.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, is_income, is_active, created_at
		FROM categories WHERE name = ? COLLATE NOCASE`, strings.TrimSpace(name)).
		Scan(&c.ID, &c.Name, &c.Color, &c.IsIncome, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("category %q: %w", name, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// CreateCategory creates a new category.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, name string, isIncome bool) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (name, is_income) VALUES (?, ?)", name, isIncome)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("category %q: %w", name, common.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category id: %w", err)
	}

	return &model.Category{
		ID:        id,
		Name:      name,
		IsIncome:  isIncome,
		IsActive:  true,
		CreatedAt: time.Now(),
	}, nil
}
