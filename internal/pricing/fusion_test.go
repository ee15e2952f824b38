package pricing

import (
	"testing"
	"time"

	"github.com/cardvault/valuation-engine/pkg/models"
)

func comp(price float64, tag string) models.Comp {
	return models.Comp{Price: price, Currency: "USD", SoldAt: time.Unix(1000, 0), SourceTag: tag}
}

func TestFusePricingDegradedScenario(t *testing.T) {
	// Adapter A returns 5 comps, B times out (failed), C returns empty.
	results := []AdapterResult{
		{Tag: "A", Outcome: OutcomeOK, Comps: []models.Comp{
			comp(350, "A"), comp(400, "A"), comp(450, "A"), comp(500, "A"), comp(550, "A"),
		}},
		{Tag: "B", Outcome: OutcomeFailed},
		{Tag: "C", Outcome: OutcomeEmpty},
	}

	result, _ := Fuse(results, RateTable{"USD": 1.0}, 30)

	if result.ValueMedian == nil || *result.ValueMedian != 450 {
		t.Errorf("expected median 450, got %v", result.ValueMedian)
	}
	if result.ValueLow == nil || *result.ValueLow != 400 {
		t.Errorf("expected low 400, got %v", result.ValueLow)
	}
	if result.ValueHigh == nil || *result.ValueHigh != 500 {
		t.Errorf("expected high 500, got %v", result.ValueHigh)
	}
	if result.CompsCount != 5 {
		t.Errorf("expected compsCount 5, got %d", result.CompsCount)
	}
	wantConfidence := (5.0 / 20.0) * (1.0 / 3.0)
	if diff := result.Confidence - wantConfidence; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected confidence ~%.5f, got %v", wantConfidence, result.Confidence)
	}
	if len(result.Sources) != 1 || result.Sources[0] != "A" {
		t.Errorf("expected sources [A], got %v", result.Sources)
	}
}

func TestFuseNoCompsAfterTrimIsNoData(t *testing.T) {
	results := []AdapterResult{{Tag: "A", Outcome: OutcomeFailed}, {Tag: "B", Outcome: OutcomeEmpty}}
	result, _ := Fuse(results, RateTable{"USD": 1.0}, 30)

	if result.Confidence != 0 {
		t.Errorf("expected confidence 0, got %v", result.Confidence)
	}
	if result.ValueLow != nil || result.ValueMedian != nil || result.ValueHigh != nil {
		t.Error("expected nil value fields on a no-data result")
	}
	if result.CompsCount != 0 {
		t.Errorf("expected compsCount 0, got %d", result.CompsCount)
	}
}

func TestFuseDropsUnknownCurrency(t *testing.T) {
	results := []AdapterResult{{Tag: "A", Outcome: OutcomeOK, Comps: []models.Comp{
		comp(100, "A"),
		{Price: 200, Currency: "XYZ", SoldAt: time.Unix(1000, 0), SourceTag: "A"},
	}}}
	result, stats := Fuse(results, RateTable{"USD": 1.0}, 30)

	if stats.DroppedUnknownCurrency != 1 {
		t.Errorf("expected 1 dropped-unknown-currency, got %d", stats.DroppedUnknownCurrency)
	}
	if result.CompsCount != 1 {
		t.Errorf("expected 1 surviving comp, got %d", result.CompsCount)
	}
}

func TestFuseDropsOutliers(t *testing.T) {
	comps := []models.Comp{
		comp(100, "A"), comp(105, "A"), comp(95, "A"), comp(110, "A"),
		comp(100000, "A"), // 1000x median, dropped
	}
	results := []AdapterResult{{Tag: "A", Outcome: OutcomeOK, Comps: comps}}
	result, stats := Fuse(results, RateTable{"USD": 1.0}, 30)

	if stats.DroppedOutliers != 1 {
		t.Errorf("expected 1 dropped outlier, got %d", stats.DroppedOutliers)
	}
	if result.CompsCount != 4 {
		t.Errorf("expected 4 surviving comps, got %d", result.CompsCount)
	}
}

func TestFuseIdempotentOnFrozenInputs(t *testing.T) {
	results := []AdapterResult{{Tag: "A", Outcome: OutcomeOK, Comps: []models.Comp{
		comp(350, "A"), comp(400, "A"), comp(450, "A"), comp(500, "A"), comp(550, "A"),
	}}}

	r1, _ := Fuse(results, RateTable{"USD": 1.0}, 30)
	r2, _ := Fuse(results, RateTable{"USD": 1.0}, 30)

	if *r1.ValueMedian != *r2.ValueMedian || *r1.ValueLow != *r2.ValueLow || *r1.ValueHigh != *r2.ValueHigh {
		t.Error("expected bitwise-equal numeric fields across reruns with frozen inputs")
	}
}
