package pricing

import (
	"sort"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// RateTable converts a currency code to the canonical currency (e.g. "USD").
// Unknown currencies are dropped with a counter increment (DroppedUnknownCurrency).
type RateTable map[string]float64

// FusionStats reports counters useful for diagnosing a fusion run. It is
// returned alongside the PricingResult and is not part of the persisted
// Snapshot.
type FusionStats struct {
	AdaptersQueried         int
	AdaptersReturningData   int
	DroppedUnknownCurrency  int
	DroppedOutliers         int
}

// Fuse reconciles all adapter results into a PricingResult per §4.4. It is
// pure and deterministic given identical inputs, satisfying the
// "aggregate idempotence" law in §8.
func Fuse(results []AdapterResult, rates RateTable, windowDays int) (models.PricingResult, FusionStats) {
	stats := FusionStats{AdaptersQueried: len(results)}

	type priced struct {
		price     float64
		sourceTag string
		soldAt    int64
	}

	var all []priced
	for _, r := range results {
		if r.Outcome != OutcomeOK {
			continue
		}
		stats.AdaptersReturningData++
		for _, c := range r.Comps {
			rate, ok := rates[c.Currency]
			if !ok {
				stats.DroppedUnknownCurrency++
				continue
			}
			all = append(all, priced{price: c.Price * rate, sourceTag: c.SourceTag, soldAt: c.SoldAt.Unix()})
		}
	}

	if len(all) == 0 {
		return noData(windowDays), stats
	}

	rawPrices := make([]float64, len(all))
	for i, p := range all {
		rawPrices[i] = p.price
	}
	rawMedian := percentile(rawPrices, 0.5)

	lowBound := 0.05 * rawMedian
	highBound := 20 * rawMedian

	// Deterministic tie-break for comps sharing a timestamp: sort by
	// (sourceTag, price) ascending before trimming/percentile math, per the
	// Open Question decision recorded in DESIGN.md.
	sort.Slice(all, func(i, j int) bool {
		if all[i].soldAt != all[j].soldAt {
			return all[i].soldAt < all[j].soldAt
		}
		if all[i].sourceTag != all[j].sourceTag {
			return all[i].sourceTag < all[j].sourceTag
		}
		return all[i].price < all[j].price
	})

	var trimmed []priced
	for _, p := range all {
		if p.price < lowBound || p.price > highBound {
			stats.DroppedOutliers++
			continue
		}
		trimmed = append(trimmed, p)
	}

	if len(trimmed) == 0 {
		return noData(windowDays), stats
	}

	prices := make([]float64, len(trimmed))
	var sources []string
	seen := map[string]bool{}
	for i, p := range trimmed {
		prices[i] = p.price
		if !seen[p.sourceTag] {
			seen[p.sourceTag] = true
			sources = append(sources, p.sourceTag)
		}
	}

	median := percentile(prices, 0.5)
	low := percentile(prices, 0.25)
	high := percentile(prices, 0.75)

	confidence := minF(1, float64(len(trimmed))/20) * (float64(stats.AdaptersReturningData) / float64(maxInt(1, stats.AdaptersQueried)))

	return models.PricingResult{
		ValueLow:    &low,
		ValueMedian: &median,
		ValueHigh:   &high,
		CompsCount:  len(trimmed),
		WindowDays:  windowDays,
		Confidence:  confidence,
		Sources:     sources,
	}, stats
}

func noData(windowDays int) models.PricingResult {
	return models.PricingResult{
		CompsCount: 0,
		WindowDays: windowDays,
		Confidence: 0,
		Sources:    []string{},
	}
}

// percentile computes the p-th percentile (0<=p<=1) of an unsorted slice
// using linear interpolation between closest ranks, then returns it. It
// sorts a copy; the input slice is left unchanged.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
