package pricing

import (
	"context"
	"fmt"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// ProviderLimiter is the narrow view of the cross-process (Redis-backed)
// rate limiter this package needs, letting call sites outside this package
// decide how quota is shared across replicas (§5 "per-provider call rates
// are governed by a token bucket").
type ProviderLimiter interface {
	Allow(ctx context.Context, providerTag string) (bool, error)
}

// RateLimited wraps an Adapter with a cross-process quota check performed
// before every FetchComps call, in addition to the in-process per-tag
// token bucket applied by FetchAll/Limiters.
type RateLimited struct {
	Adapter
	limiter ProviderLimiter
}

func NewRateLimited(a Adapter, limiter ProviderLimiter) *RateLimited {
	return &RateLimited{Adapter: a, limiter: limiter}
}

func (r *RateLimited) FetchComps(ctx context.Context, query string, windowDays int) ([]models.Comp, error) {
	allowed, err := r.limiter.Allow(ctx, r.Tag())
	if err != nil {
		return nil, fmt.Errorf("pricing: rate limit check for %s: %w", r.Tag(), err)
	}
	if !allowed {
		return nil, fmt.Errorf("pricing: adapter %s: rate limited", r.Tag())
	}
	return r.Adapter.FetchComps(ctx, query, windowDays)
}
