package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ledgermint/ledgermint/internal/model"
	"github.com/ledgermint/ledgermint/internal/service"
)

// BatchResult summarizes one batch apply run. Errored counts transactions
// whose evaluation or commit failed; they never abort the batch, and the run
// is safe to repeat because evaluation re-derives the same accumulator.
type BatchResult struct {
	Total   int
	Matched int
	Updated int
	Errored int
}

// BatchOptions tunes a batch apply run.
type BatchOptions struct {
	Progress  func(done, total int)
	Policy    OverwritePolicy
	ChunkSize int
	Workers   int
}

const (
	defaultChunkSize = 200
	defaultWorkers   = 4
)

// ApplyBatch evaluates the active rule set over every transaction matched by
// the filter and commits the resulting mutations, one transaction at a time.
// Transactions within a chunk are evaluated in parallel; each commit is a
// single-row write, so a partially-written record is never observable.
// Re-running with the same filter produces zero additional changes.
func (e *Engine) ApplyBatch(ctx context.Context, filter service.TransactionFilter, opts BatchOptions) (*BatchResult, error) {
	set, err := e.store.GetActiveRuleSet(ctx)
	if err != nil {
		return nil, err
	}

	ordered, err := e.OrderedRules(ctx, set)
	if err != nil {
		return nil, err
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRespectManual
	}

	// Snapshot the population first: mutations may move transactions out of
	// the filter (e.g. a category filter), which would corrupt paging.
	population, err := e.collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Total: len(population)}

	var mu sync.Mutex
	useCounts := make(map[int64]int)
	done := 0

	for start := 0; start < len(population); start += opts.ChunkSize {
		// Cancellation stops accepting new chunks; in-flight writes complete.
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := min(start+opts.ChunkSize, len(population))
		chunk := population[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)

		for _, txn := range chunk {
			g.Go(func() error {
				acc := Evaluate(txn, ordered, opts.Policy)
				mutation := acc.Mutation(txn)

				updated := false
				commitErr := error(nil)
				if !mutation.Empty() {
					commitErr = e.store.ApplyTransactionMutation(gctx, mutation)
					updated = commitErr == nil
				}

				mu.Lock()
				defer mu.Unlock()
				done++
				if len(acc.MatchedRules) > 0 {
					result.Matched++
					for _, ruleID := range acc.MatchedRules {
						useCounts[ruleID]++
					}
				}
				if commitErr != nil {
					result.Errored++
					slog.Warn("transaction commit failed", "txn_id", txn.ID, "error", commitErr)
				} else if updated {
					result.Updated++
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return result, err
		}

		if opts.Progress != nil {
			opts.Progress(done, result.Total)
		}
	}

	e.recordUseCounts(ctx, useCounts)

	return result, nil
}

// collect pages through the store until the filtered population is fully
// materialized.
func (e *Engine) collect(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	const pageSize = 1000

	var population []model.Transaction
	for offset := 0; ; offset += pageSize {
		filter.Limit = pageSize
		filter.Offset = offset

		page, err := e.store.GetTransactions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to load transactions: %w", err)
		}
		population = append(population, page...)
		if len(page) < pageSize {
			return population, nil
		}
	}
}

// recordUseCounts persists aggregated rule hit counts. Bookkeeping only:
// failures are logged, never surfaced as batch errors.
func (e *Engine) recordUseCounts(ctx context.Context, useCounts map[int64]int) {
	for ruleID, count := range useCounts {
		if err := e.store.AddRuleUseCount(ctx, ruleID, count); err != nil {
			slog.Debug("failed to record rule use count", "rule_id", ruleID, "error", err)
		}
	}
}
