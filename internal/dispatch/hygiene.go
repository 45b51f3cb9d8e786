package dispatch

import (
	"context"
	"log"

	"reminderd/internal/gateway"
)

// pruneInvalid removes tokens the gateway classified as permanently invalid
// from the user's set in one update. Best-effort: a failure to persist the
// removal is logged, not escalated; the tokens will simply be reported
// invalid again on the next delivery.
func (s *Sweeper) pruneInvalid(ctx context.Context, userID string, res *gateway.Result) {
	invalid := res.InvalidTokens()
	if len(invalid) == 0 {
		return
	}
	if err := s.tokens.Remove(ctx, userID, invalid); err != nil {
		log.Printf("Failed to remove %d invalid tokens for user %s: %v", len(invalid), userID, err)
		return
	}
	log.Printf("Removed %d invalid tokens for user %s", len(invalid), userID)
}
