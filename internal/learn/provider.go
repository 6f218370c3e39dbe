package learn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

// ImportProviderSuggestions asks an external AI provider for review-only
// suggestions over a transaction batch and files them into the same pending
// inbox mined suggestions use. Nothing is ever applied automatically; the
// accept path is identical to Apply.
func (m *Miner) ImportProviderSuggestions(ctx context.Context, provider service.SuggestionProvider, filter service.TransactionFilter, limit int) ([]model.LearnedSuggestion, error) {
	if provider == nil {
		return nil, errors.New("no suggestion provider configured")
	}
	if limit <= 0 {
		limit = 100
	}

	filter.Limit = limit
	transactions, err := m.store.GetTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(transactions) == 0 {
		return nil, nil
	}

	batch := make([]service.TransactionSummary, 0, len(transactions))
	for _, txn := range transactions {
		batch = append(batch, service.TransactionSummary{
			ID:          txn.ID,
			Date:        txn.Date,
			Description: txn.Description,
			Merchant:    txn.MerchantName,
			Amount:      txn.Amount,
		})
	}

	providerSuggestions, err := provider.SuggestBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("suggestion provider failed: %w", err)
	}

	runID := uuid.NewString()
	var suggestions []model.LearnedSuggestion

	for _, ps := range providerSuggestions {
		category, err := m.store.GetCategoryByName(ctx, ps.CategoryName)
		if err != nil {
			slog.Warn("provider suggested unknown category, skipping",
				"category", ps.CategoryName, "txn_id", ps.TxnID)
			continue
		}

		pattern := common.NormalizeText(ps.Merchant)
		if pattern == "" {
			continue
		}

		suggestions = append(suggestions, model.LearnedSuggestion{
			RunID:           runID,
			MerchantPattern: pattern,
			CategoryID:      category.ID,
			Confidence:      ps.Confidence,
			SampleCount:     1,
			SampleTxnIDs:    []string{ps.TxnID},
			State:           model.SuggestionPending,
			Origin:          model.OriginProvider,
			Reason:          ps.Reasoning,
			CreatedAt:       time.Now(),
		})
	}

	if len(suggestions) > 0 {
		if err := m.store.SaveSuggestions(ctx, suggestions); err != nil {
			return nil, fmt.Errorf("failed to save provider suggestions: %w", err)
		}
	}

	return suggestions, nil
}
