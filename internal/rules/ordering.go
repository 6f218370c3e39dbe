package rules

import (
	"sort"
	"sync"
)

// Order sorts compiled rules into the total evaluation order. Sort key, most
// to least significant: tier rank ascending, priority descending,
// specificity descending, source rank ascending, rule id ascending. The id
// tie-break makes the order invariant under any input permutation.
func Order(compiled []CompiledRule) []CompiledRule {
	ordered := make([]CompiledRule, len(compiled))
	copy(ordered, compiled)

	sort.Slice(ordered, func(i, j int) bool {
		return less(&ordered[i], &ordered[j])
	})

	return ordered
}

func less(a, b *CompiledRule) bool {
	if ta, tb := a.Rule.Tier.TierRank(), b.Rule.Tier.TierRank(); ta != tb {
		return ta < tb
	}
	if a.Rule.Priority != b.Rule.Priority {
		return a.Rule.Priority > b.Rule.Priority
	}
	if a.specificity != b.specificity {
		return a.specificity > b.specificity
	}
	if sa, sb := a.Rule.Source.SourceRank(), b.Rule.Source.SourceRank(); sa != sb {
		return sa < sb
	}
	return a.Rule.ID < b.Rule.ID
}

// orderCache caches the compiled, ordered rules of a rule set keyed by its
// version, so batch evaluation sorts once per version instead of once per
// transaction. Any rule mutation bumps the set version and invalidates the
// entry naturally.
type orderCache struct {
	entries map[int64]orderEntry
	mu      sync.Mutex
}

type orderEntry struct {
	ordered []CompiledRule
	version int64
}

func newOrderCache() *orderCache {
	return &orderCache{entries: make(map[int64]orderEntry)}
}

func (c *orderCache) get(setID, version int64) ([]CompiledRule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[setID]
	if !ok || entry.version != version {
		return nil, false
	}
	return entry.ordered, true
}

func (c *orderCache) put(setID, version int64, ordered []CompiledRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[setID] = orderEntry{version: version, ordered: ordered}
}
