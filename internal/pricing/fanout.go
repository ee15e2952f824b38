package pricing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiters maps an adapter tag to its token-bucket rate limiter (§5
// "per-provider call rates are governed by a token bucket whose tokens
// refill at a configured rate"). Safe for concurrent use.
type Limiters struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	ratePerS float64
	burst    int
}

// NewLimiters builds a Limiters set with a shared default rate/burst,
// lazily creating one bucket per adapter tag on first use.
func NewLimiters(ratePerS float64, burst int) *Limiters {
	return &Limiters{buckets: make(map[string]*rate.Limiter), ratePerS: ratePerS, burst: burst}
}

func (l *Limiters) for_(tag string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[tag]; ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(l.ratePerS), l.burst)
	l.buckets[tag] = b
	return b
}

// FetchAll queries every adapter concurrently with a per-call timeout and a
// per-adapter token bucket, and never lets one adapter's failure abort the
// others — each outcome is recorded independently (§4.4).
func FetchAll(ctx context.Context, adapters []Adapter, limiters *Limiters, query string, windowDays int, perCallTimeout time.Duration) []AdapterResult {
	results := make([]AdapterResult, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			results[i] = fetchOne(ctx, a, limiters, query, windowDays, perCallTimeout)
		}(i, a)
	}
	wg.Wait()

	return results
}

func fetchOne(ctx context.Context, a Adapter, limiters *Limiters, query string, windowDays int, timeout time.Duration) AdapterResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if limiters != nil {
		if err := limiters.for_(a.Tag()).Wait(callCtx); err != nil {
			return AdapterResult{Tag: a.Tag(), Outcome: OutcomeFailed, Err: err}
		}
	}

	comps, err := a.FetchComps(callCtx, query, windowDays)
	if err != nil {
		return AdapterResult{Tag: a.Tag(), Outcome: OutcomeFailed, Err: err}
	}
	if len(comps) == 0 {
		return AdapterResult{Tag: a.Tag(), Outcome: OutcomeEmpty}
	}
	return AdapterResult{Tag: a.Tag(), Outcome: OutcomeOK, Comps: comps}
}
