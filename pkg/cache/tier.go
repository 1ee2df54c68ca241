package cache

import (
	"context"
	"time"

	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
)

// Tier is the contract for the distributed cache backing store. The core
// depends on nothing else about tier 2: a get, a set with TTL, and a close.
// Implementations must be safe for concurrent use. Errors signal an
// unavailable backend and are handled by the two-tier cache, never by the
// request path.
type Tier interface {
	Get(ctx context.Context, key decision.Key) (domain.PolicyDecision, bool, error)
	Set(ctx context.Context, key decision.Key, dec domain.PolicyDecision, ttl time.Duration) error
	Close() error
}
