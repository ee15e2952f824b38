// Package pricing implements the pricing adapters and fusion stage (C4, C5):
// fan out to N external marketplaces in parallel, tolerate partial failure,
// and reconcile the surviving comps into a single {low, median, high,
// confidence} tuple.
package pricing

import (
	"context"
	"time"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// Adapter fetches comparable sales from one external marketplace. Adapters
// are a closed, tagged set (§9 "dynamic provider variants") — adding a new
// marketplace means adding a new Adapter implementation and constructor, not
// extending this interface.
type Adapter interface {
	// Tag is the adapter's stable sourceTag, used for fusion's sources list
	// and as the deterministic comp tie-break order (§9 Open Questions).
	Tag() string
	FetchComps(ctx context.Context, query string, windowDays int) ([]models.Comp, error)
}

// Outcome enumerates how an adapter call settled.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeEmpty  Outcome = "empty"
	OutcomeFailed Outcome = "failed"
)

// AdapterResult records one adapter's outcome for observability and for the
// confidence calculation in Fuse.
type AdapterResult struct {
	Tag     string
	Outcome Outcome
	Comps   []models.Comp
	Err     error
}
