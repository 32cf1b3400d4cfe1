package guest

import "github.com/Natural-Highs/live-sub000/internal/services/identity/storage"

const (
	// sameSessionFixedOps reserves the account write and the guest write:
	// the claim in earlier batches, the converted marker in the last.
	sameSessionFixedOps = 2
	// pendingFixedOps also reserves the pending-conversion delete.
	pendingFixedOps = 3
)

// span is a half-open range of event indexes carried by one batch.
type span struct {
	start, end int
}

// planBatches splits n events into batches that leave fixedOps slots free in
// every batch. There is always at least one batch so the account and marker
// writes have a home when n is zero.
func planBatches(n, fixedOps int) []span {
	capacity := storage.MaxBatchWrites - fixedOps
	count := max(1, (n+capacity-1)/capacity)
	spans := make([]span, 0, count)
	for i := 0; i < count; i++ {
		start := i * capacity
		spans = append(spans, span{start: start, end: min(start+capacity, n)})
	}
	return spans
}
