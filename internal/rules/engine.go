package rules

import (
	"context"
	"fmt"

	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

// LegacyProvider supplies legacy rule rows already translated into the
// canonical rule shape. The engine never special-cases legacy formats
// internally; the bridge adapts them at load time.
type LegacyProvider interface {
	BridgedRules(ctx context.Context) ([]model.Rule, error)
}

// Engine drives condition matching and action application over the ordered
// rules of a rule set. Evaluation of a single transaction is synchronous and
// single-pass; rule order is everything.
type Engine struct {
	store  service.Storage
	legacy LegacyProvider
	cache  *orderCache
}

// NewEngine creates an evaluation engine. legacy may be nil when no legacy
// rule rows exist.
func NewEngine(store service.Storage, legacy LegacyProvider) *Engine {
	return &Engine{
		store:  store,
		legacy: legacy,
		cache:  newOrderCache(),
	}
}

// OrderedRules returns the compiled, totally-ordered rules of a rule set,
// including bridged legacy rules, cached per rule-set version.
func (e *Engine) OrderedRules(ctx context.Context, set *model.RuleSet) ([]CompiledRule, error) {
	if ordered, ok := e.cache.get(set.ID, set.Version); ok {
		return ordered, nil
	}

	ruleList, err := e.store.GetRulesBySet(ctx, set.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for set %d: %w", set.ID, err)
	}

	if e.legacy != nil {
		bridged, bridgeErr := e.legacy.BridgedRules(ctx)
		if bridgeErr != nil {
			return nil, fmt.Errorf("failed to load legacy rules: %w", bridgeErr)
		}
		ruleList = append(ruleList, bridged...)
	}

	enabled := make([]model.Rule, 0, len(ruleList))
	for _, r := range ruleList {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	ordered := Order(CompileAll(enabled))
	e.cache.put(set.ID, set.Version, ordered)

	return ordered, nil
}

// Evaluate runs one transaction through an ordered rule list and returns the
// mutation accumulator. Pure computation: no storage access, no side
// effects. A matching rule with stop_processing halts iteration immediately;
// rules after it are never consulted for this transaction.
func Evaluate(txn model.Transaction, ordered []CompiledRule, policy OverwritePolicy) *Accumulator {
	acc := NewAccumulator(txn, policy)

	for i := range ordered {
		rule := &ordered[i]
		if !rule.Matches(txn) {
			continue
		}

		acc.Apply(&rule.Rule)
		if acc.Stopped {
			break
		}
	}

	return acc
}

// EvaluateOne evaluates a single transaction against the active rule set and
// returns the resulting mutation without committing it.
func (e *Engine) EvaluateOne(ctx context.Context, txn model.Transaction) (service.TransactionMutation, error) {
	set, err := e.store.GetActiveRuleSet(ctx)
	if err != nil {
		return service.TransactionMutation{}, err
	}

	ordered, err := e.OrderedRules(ctx, set)
	if err != nil {
		return service.TransactionMutation{}, err
	}

	acc := Evaluate(txn, ordered, PolicyRespectManual)
	return acc.Mutation(txn), nil
}

// PreviewResult reports how a candidate rule would match a transaction
// sample. Preview never applies actions and never writes.
type PreviewResult struct {
	Samples    []model.Transaction
	MatchCount int
	Scanned    int
}

// previewPageSize bounds each storage read during preview scans.
const previewPageSize = 500

// Preview runs a candidate (possibly unsaved) rule's conditions over the
// stored transaction population and returns the match count plus a bounded
// sample. Validation errors surface here with the offending field named.
func (e *Engine) Preview(ctx context.Context, candidate *model.Rule, sampleLimit int) (*PreviewResult, error) {
	if err := Validate(candidate); err != nil {
		return nil, err
	}
	if sampleLimit <= 0 {
		sampleLimit = 10
	}

	compiled := Compile(*candidate)

	// Let the store narrow the scan by the conditions it indexes.
	filter := service.TransactionFilter{
		StartDate:  candidate.Conditions.DateFrom,
		EndDate:    candidate.Conditions.DateTo,
		AccountIDs: candidate.Conditions.AccountIDs,
	}

	result := &PreviewResult{}
	for offset := 0; ; offset += previewPageSize {
		filter.Limit = previewPageSize
		filter.Offset = offset

		page, err := e.store.GetTransactions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transactions: %w", err)
		}
		if len(page) == 0 {
			break
		}

		result.Scanned += len(page)
		for _, txn := range page {
			if !compiled.Matches(txn) {
				continue
			}
			result.MatchCount++
			if len(result.Samples) < sampleLimit {
				result.Samples = append(result.Samples, txn)
			}
		}

		if len(page) < previewPageSize {
			break
		}
	}

	return result, nil
}
