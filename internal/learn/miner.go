// Package learn mines categorization history for recurring patterns and
// proposes rule candidates for human review. The miner never writes rules
// directly; everything it produces flows through the suggestion inbox.
package learn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

// Params tunes a mining run.
type Params struct {
	Since          *time.Time
	MinSamples     int     // minimum transactions sharing a pattern
	MinConsistency float64 // minimum share of the dominant category
	MaxSuggestions int     // safety cap per run, bounds reviewer burden
}

// DefaultParams are the thresholds used when a field is unset.
var DefaultParams = Params{
	MinSamples:     5,
	MinConsistency: 0.8,
	MaxSuggestions: 20,
}

// maxSampleIDs bounds how many supporting transaction ids a suggestion
// carries.
const maxSampleIDs = 5

// Miner analyzes already-categorized transactions and proposes rules.
type Miner struct {
	store service.Storage
}

// NewMiner creates an auto-learn miner over the given store.
func NewMiner(store service.Storage) *Miner {
	return &Miner{store: store}
}

type patternGroup struct {
	categories map[int64]int
	sampleIDs  []string
	total      int
}

// Learn mines human-categorized transactions for merchant patterns that map
// to a single category with high consistency, and saves one pending
// suggestion per qualifying pattern. Read-only with respect to transactions
// and rules.
func (m *Miner) Learn(ctx context.Context, params Params) ([]model.LearnedSuggestion, error) {
	if params.MinSamples <= 0 {
		params.MinSamples = DefaultParams.MinSamples
	}
	if params.MinConsistency <= 0 {
		params.MinConsistency = DefaultParams.MinConsistency
	}
	if params.MaxSuggestions <= 0 {
		params.MaxSuggestions = DefaultParams.MaxSuggestions
	}

	groups, err := m.collectGroups(ctx, params.Since)
	if err != nil {
		return nil, err
	}

	covered, err := m.coveredPatterns(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	var suggestions []model.LearnedSuggestion

	for pattern, group := range groups {
		if group.total < params.MinSamples || covered[pattern] {
			continue
		}

		categoryID, dominant := dominantCategory(group.categories)
		ratio := float64(dominant) / float64(group.total)
		if ratio < params.MinConsistency {
			continue
		}

		suggestions = append(suggestions, model.LearnedSuggestion{
			RunID:            runID,
			MerchantPattern:  pattern,
			CategoryID:       categoryID,
			Confidence:       confidence(ratio, group.total),
			ConsistencyRatio: ratio,
			SampleCount:      group.total,
			SampleTxnIDs:     group.sampleIDs,
			State:            model.SuggestionPending,
			Origin:           model.OriginMiner,
			Reason: fmt.Sprintf("%d of %d transactions matching %q share one category",
				dominant, group.total, pattern),
			CreatedAt: time.Now(),
		})
	}

	// Highest confidence first; pattern text breaks ties so the cap is
	// deterministic.
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].MerchantPattern < suggestions[j].MerchantPattern
	})
	if len(suggestions) > params.MaxSuggestions {
		suggestions = suggestions[:params.MaxSuggestions]
	}

	if len(suggestions) > 0 {
		if err := m.store.SaveSuggestions(ctx, suggestions); err != nil {
			return nil, fmt.Errorf("failed to save suggestions: %w", err)
		}
	}

	return suggestions, nil
}

func (m *Miner) collectGroups(ctx context.Context, since *time.Time) (map[string]*patternGroup, error) {
	const pageSize = 1000

	groups := make(map[string]*patternGroup)
	filter := service.TransactionFilter{StartDate: since, OnlyHuman: true}

	for offset := 0; ; offset += pageSize {
		filter.Limit = pageSize
		filter.Offset = offset

		page, err := m.store.GetTransactions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to load categorized transactions: %w", err)
		}

		for _, txn := range page {
			pattern := patternKey(txn)
			if pattern == "" || txn.CategoryID == nil {
				continue
			}

			group := groups[pattern]
			if group == nil {
				group = &patternGroup{categories: make(map[int64]int)}
				groups[pattern] = group
			}
			group.total++
			group.categories[*txn.CategoryID]++
			if len(group.sampleIDs) < maxSampleIDs {
				group.sampleIDs = append(group.sampleIDs, txn.ID)
			}
		}

		if len(page) < pageSize {
			return groups, nil
		}
	}
}

// coveredPatterns returns the normalized merchant patterns already handled
// by an enabled rule in the active set, so the miner does not re-propose
// them. No active set means nothing is covered yet.
func (m *Miner) coveredPatterns(ctx context.Context) (map[string]bool, error) {
	covered := make(map[string]bool)

	set, err := m.store.GetActiveRuleSet(ctx)
	if err != nil {
		if errors.Is(err, common.ErrNoActiveRuleSet) {
			return covered, nil
		}
		return nil, err
	}

	ruleList, err := m.store.GetRulesBySet(ctx, set.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	for _, r := range ruleList {
		if !r.Enabled {
			continue
		}
		if cond := r.Conditions.Merchant; cond != nil && cond.Operator == model.OperatorEquals {
			covered[common.NormalizeText(cond.Value)] = true
		}
	}

	return covered, nil
}

// patternKey is the grouping key: the normalized merchant name, falling back
// to the normalized description, the same folding rule matching uses.
func patternKey(txn model.Transaction) string {
	if txn.MerchantName != "" {
		return common.NormalizeText(txn.MerchantName)
	}
	return common.NormalizeText(txn.Description)
}

func dominantCategory(counts map[int64]int) (int64, int) {
	var bestID int64
	best := 0
	for id, count := range counts {
		if count > best || (count == best && id < bestID) {
			bestID = id
			best = count
		}
	}
	return bestID, best
}

// confidence combines consistency with sample volume: a perfect ratio on
// three samples scores below a slightly weaker ratio on thirty.
func confidence(ratio float64, samples int) float64 {
	volume := float64(samples) / float64(samples+3)
	return ratio * volume
}
