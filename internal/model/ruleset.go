package model

import "time"

// RuleSetState is the lifecycle state of a rule set.
type RuleSetState string

// Rule set lifecycle constants. Draft sets may be shadow-compared against the
// active set before activation; superseded sets are retained for audit and
// rollback and are never evaluated live.
const (
	RuleSetDraft      RuleSetState = "draft"
	RuleSetActive     RuleSetState = "active"
	RuleSetSuperseded RuleSetState = "superseded"
)

// RuleSet is a named, versioned collection of rules. At most one rule set is
// active at any time; activation is an atomic swap.
type RuleSet struct {
	CreatedAt   time.Time    `json:"created_at"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	Name        string       `json:"name"`
	State       RuleSetState `json:"state"`
	ID          int64        `json:"id"`
	ClonedFrom  *int64       `json:"cloned_from,omitempty"`
	Version     int64        `json:"version"` // bumped on any rule membership or rank change
}
