// Package ruleset owns the rule set collection and its lifecycle: creation,
// atomic activation, shadow comparison, protected-rule extraction, and
// dead/shadowed rule cleanup.
package ruleset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/rules"
	"github.com/ledgermint/ledgermint/internal/service"
)

// Manager coordinates rule set lifecycle operations. Activation is the one
// operation that needs a true mutual-exclusion boundary; everything else is
// read-only and may run concurrently with live evaluation.
type Manager struct {
	store      service.Storage
	engine     *rules.Engine
	previews   map[int64]*CleanupReport
	activateMu sync.Mutex
	previewMu  sync.Mutex
}

// NewManager creates a rule set manager.
func NewManager(store service.Storage, engine *rules.Engine) *Manager {
	return &Manager{
		store:    store,
		engine:   engine,
		previews: make(map[int64]*CleanupReport),
	}
}

// Create creates a new draft rule set, optionally cloned from an existing
// one for shadow testing.
func (m *Manager) Create(ctx context.Context, name string, cloneFrom *int64) (*model.RuleSet, error) {
	if name == "" {
		return nil, common.NewValidationError("name", "cannot be empty")
	}

	if cloneFrom != nil {
		set, err := m.store.CloneRuleSet(ctx, *cloneFrom, name)
		if err != nil {
			return nil, fmt.Errorf("failed to clone rule set %d: %w", *cloneFrom, err)
		}
		return set, nil
	}

	set := &model.RuleSet{Name: name, State: model.RuleSetDraft}
	if err := m.store.CreateRuleSet(ctx, set); err != nil {
		return nil, fmt.Errorf("failed to create rule set: %w", err)
	}
	return set, nil
}

// Activate atomically swaps the active rule set: the current active set is
// superseded and the target becomes active in one storage transaction, so no
// observer ever sees zero or two active sets. The invariant is re-checked
// defensively after the swap; a violation is surfaced loudly, never
// silently repaired.
func (m *Manager) Activate(ctx context.Context, id int64) error {
	m.activateMu.Lock()
	defer m.activateMu.Unlock()

	set, err := m.store.GetRuleSet(ctx, id)
	if err != nil {
		return fmt.Errorf("cannot activate rule set %d: %w", id, err)
	}
	if set.State == model.RuleSetActive {
		return nil
	}
	if set.State == model.RuleSetSuperseded {
		return fmt.Errorf("%w: rule set %d is superseded", common.ErrNotDraft, id)
	}

	if err := m.store.ActivateRuleSet(ctx, id); err != nil {
		return fmt.Errorf("failed to activate rule set %d: %w", id, err)
	}

	// Defensive invariant check on every activation.
	if _, err := m.store.GetActiveRuleSet(ctx); err != nil {
		if errors.Is(err, common.ErrMultipleActive) {
			return err
		}
		return fmt.Errorf("post-activation check failed: %w", err)
	}

	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Kind:      model.AuditRuleSetActivated,
		Detail:    fmt.Sprintf("rule set %q (%d) activated", set.Name, set.ID),
		RuleSetID: &set.ID,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// ExtractProtectedParams tunes which rules count as stable enough to
// protect.
type ExtractProtectedParams struct {
	MinUseCount      int
	MaxOverrideCount int
}

// DefaultExtractParams are the thresholds used when none are given.
var DefaultExtractParams = ExtractProtectedParams{MinUseCount: 10, MaxOverrideCount: 1}

// ExtractProtected re-tiers stable, rarely-overridden generated rules into
// protected_core so bulk regeneration and cleanup will not touch them.
// Returns the ids of the promoted rules.
func (m *Manager) ExtractProtected(ctx context.Context, setID int64, params ExtractProtectedParams) ([]int64, error) {
	if params.MinUseCount <= 0 {
		params = DefaultExtractParams
	}

	ruleList, err := m.store.GetRulesBySet(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for set %d: %w", setID, err)
	}

	var promoted []int64
	for _, r := range ruleList {
		if r.Tier != model.TierGeneratedCurated {
			continue
		}
		if r.UseCount < params.MinUseCount || r.OverrideCount > params.MaxOverrideCount {
			continue
		}
		if err := m.store.SetRuleTier(ctx, r.ID, model.TierProtectedCore); err != nil {
			return promoted, fmt.Errorf("failed to re-tier rule %d: %w", r.ID, err)
		}
		promoted = append(promoted, r.ID)
	}

	if len(promoted) > 0 {
		entry := model.AuditEntry{
			ID:        uuid.NewString(),
			Kind:      model.AuditProtectedExtracted,
			Detail:    fmt.Sprintf("promoted %d rules to protected_core in set %d", len(promoted), setID),
			RuleSetID: &setID,
			CreatedAt: time.Now(),
		}
		if err := m.store.AppendAudit(ctx, entry); err != nil {
			return promoted, fmt.Errorf("failed to record audit entry: %w", err)
		}
	}

	return promoted, nil
}

// collect pages the transaction population used by shadow compare and
// cleanup analysis.
func (m *Manager) collect(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	const pageSize = 1000

	var population []model.Transaction
	for offset := 0; ; offset += pageSize {
		filter.Limit = pageSize
		filter.Offset = offset

		page, err := m.store.GetTransactions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to load transactions: %w", err)
		}
		population = append(population, page...)
		if len(page) < pageSize {
			return population, nil
		}
	}
}
