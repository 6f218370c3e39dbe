package model

import "time"

// Category represents a transaction category. The engine treats categories as
// read-only lookup data; whether a category counts as income matters to
// downstream totals logic, so the flag is carried here.
type Category struct {
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	ID        int64     `json:"id"`
	IsIncome  bool      `json:"is_income"`
	IsActive  bool      `json:"is_active"`
}
