package ltm

import "context"

// FactStore remembers short personal facts per conversation and retrieves
// the ones most relevant to a query. Implementations deduplicate results
// while preserving rank order.
type FactStore interface {
	AddFact(ctx context.Context, conversationID, fact string) error
	SearchFacts(ctx context.Context, conversationID, query string, k int) ([]string, error)
}
