// Package orchestrator drives the C9 state machine:
//
//	Extract --success--> Parallel{Pricing, Authenticity} --both-settled--> Aggregate --success--> Done
//
// with retries, branch-level fallback, a hard execution deadline, and a
// dead-letter handoff on terminal Error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cardvault/valuation-engine/internal/aggregator"
	"github.com/cardvault/valuation-engine/internal/pricing"
	"github.com/cardvault/valuation-engine/internal/reasoner"
	"github.com/cardvault/valuation-engine/internal/refstore"
	"github.com/cardvault/valuation-engine/internal/signals"
	"github.com/cardvault/valuation-engine/internal/vision"
	"github.com/cardvault/valuation-engine/pkg/models"
)

// ErrExecutionFailed is returned when the execution terminates in the Error
// state; the caller is expected to inspect the Execution Record for detail.
var ErrExecutionFailed = errors.New("orchestrator: execution failed")

// ExecutionStore persists Execution Records (§4.8 error handler requirement).
type ExecutionStore interface {
	Put(ctx context.Context, rec models.ExecutionRecord) error
}

// DeadLetterSink receives a copy of every terminally-failed execution.
type DeadLetterSink interface {
	Publish(ctx context.Context, rec models.ExecutionRecord) error
}

// ProgressSink is notified of state transitions, used to drive the
// execution-progress websocket (supplemented feature, SPEC_FULL.md §4).
type ProgressSink interface {
	Notify(executionID, state string)
}

// NoopProgressSink discards transitions.
type NoopProgressSink struct{}

func (NoopProgressSink) Notify(string, string) {}

// Deps bundles every collaborator the orchestrator drives.
type Deps struct {
	Extractor    *vision.Extractor
	RefStore     *refstore.Store
	Reasoner     *reasoner.Reasoner
	Adapters     []pricing.Adapter
	Limiters     *pricing.Limiters
	Rates        pricing.RateTable
	Aggregator   *aggregator.Aggregator
	Executions   ExecutionStore
	DeadLetter   DeadLetterSink
	Progress     ProgressSink
	Log          zerolog.Logger

	PricingAdapterTimeout time.Duration
	HardDeadline          time.Duration
}

// Orchestrator implements C9.
type Orchestrator struct{ d Deps }

func New(d Deps) *Orchestrator {
	if d.Progress == nil {
		d.Progress = NoopProgressSink{}
	}
	if d.PricingAdapterTimeout == 0 {
		d.PricingAdapterTimeout = 10 * time.Second
	}
	if d.HardDeadline == 0 {
		d.HardDeadline = 180 * time.Second
	}
	return &Orchestrator{d: d}
}

// Input describes one card revaluation request.
type Input struct {
	ExecutionID string // optional; generated if empty, so gateways can report it before Run starts
	Subject     string
	CardID      string
	FrontKey    string
	BackKey     string
	Expected    *models.ExpectedAttributes
	WindowDays  int
}

// Run executes the full pipeline synchronously for one card. Callers that
// want "launch and poll" semantics (§4.9 revalue) should call Run from a
// goroutine and track state via ExecutionStore/ProgressSink.
func (o *Orchestrator) Run(ctx context.Context, in Input) (models.Snapshot, error) {
	executionID := in.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	startedAt := time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, o.d.HardDeadline)
	defer cancel()

	rec := models.ExecutionRecord{ExecutionID: executionID, CardID: in.CardID, Subject: in.Subject, State: models.StateExtract, StartedAt: startedAt}
	o.record(ctx, rec)
	o.d.Progress.Notify(executionID, models.StateExtract)

	envelope, err := o.d.Extractor.Extract(ctx, in.FrontKey, in.BackKey)
	if err != nil {
		return o.fail(ctx, rec, fmt.Errorf("extract: %w", err))
	}

	rec.State = models.StateParallel
	o.record(ctx, rec)
	o.d.Progress.Notify(executionID, models.StateParallel)

	var (
		pricingResult     models.PricingResult
		allAdaptersFailed bool
		authResult        models.AuthenticityResult
		sig               models.AuthenticitySignals
	)

	// Neither branch returns an error to the group — each applies its own
	// §4.6/§4.4 fallback internally — so errgroup here is pure concurrent
	// wait-group coordination, never triggering its shared-cancellation.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pricingResult, allAdaptersFailed = o.runPricingBranch(gctx, in)
		return nil
	})
	g.Go(func() error {
		authResult, sig = o.runAuthenticityBranch(gctx, envelope, in.Expected)
		return nil
	})
	_ = g.Wait()

	pricingFellBack := pricingResult.CompsCount == 0
	if pricingFellBack && authResult.Degraded && allAdaptersFailed {
		return o.fail(ctx, rec, fmt.Errorf("parallel: both branches fell back and all pricing adapters failed"))
	}

	rec.State = models.StateAggregate
	o.record(ctx, rec)
	o.d.Progress.Notify(executionID, models.StateAggregate)

	snap, err := o.d.Aggregator.Aggregate(ctx, in.Subject, in.CardID, pricingResult, authResult, sig, startedAt)
	if err != nil {
		return o.fail(ctx, rec, fmt.Errorf("aggregate: %w", err))
	}

	rec.State = models.StateDone
	ended := time.Now().UTC()
	rec.EndedAt = &ended
	o.record(ctx, rec)
	o.d.Progress.Notify(executionID, models.StateDone)

	return snap, nil
}

// runPricingBranch fetches comps from every enabled adapter and fuses them.
// It reports whether every adapter outcome was "failed" (as opposed to
// merely empty), which feeds the Parallel double-fallback failure rule.
func (o *Orchestrator) runPricingBranch(ctx context.Context, in Input) (models.PricingResult, bool) {
	windowDays := in.WindowDays
	if windowDays < 1 {
		windowDays = 30
	}

	query := in.Expected.Query()
	results := pricing.FetchAll(ctx, o.d.Adapters, o.d.Limiters, query, windowDays, o.d.PricingAdapterTimeout)

	allFailed := len(results) > 0
	for _, r := range results {
		if r.Outcome != pricing.OutcomeFailed {
			allFailed = false
			break
		}
	}

	result, _ := pricing.Fuse(results, o.d.Rates, windowDays)
	return result, allFailed
}

// runAuthenticityBranch loads references, computes signals, and calls the
// reasoner (which applies its own §4.6 fallback internally).
func (o *Orchestrator) runAuthenticityBranch(ctx context.Context, envelope models.FeatureEnvelope, expected *models.ExpectedAttributes) (models.AuthenticityResult, models.AuthenticitySignals) {
	var refs []models.ReferenceHash
	if o.d.RefStore != nil && expected != nil && expected.Name != "" {
		loaded, err := o.d.RefStore.LoadReferences(ctx, expected.Name)
		if err == nil {
			refs = loaded
		}
	}

	sig := signals.Compute(envelope, refs, expected)
	result := o.d.Reasoner.Score(ctx, envelope, sig, expected)
	return result, sig
}

func (o *Orchestrator) fail(ctx context.Context, rec models.ExecutionRecord, err error) (models.Snapshot, error) {
	rec.State = models.StateError
	rec.LastError = err.Error()
	ended := time.Now().UTC()
	rec.EndedAt = &ended

	o.record(ctx, rec)
	o.d.Progress.Notify(rec.ExecutionID, models.StateError)

	if o.d.DeadLetter != nil {
		dlqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if pubErr := o.d.DeadLetter.Publish(dlqCtx, rec); pubErr != nil {
			o.d.Log.Error().Err(pubErr).Str("executionId", rec.ExecutionID).Msg("failed to publish to dead-letter sink")
		}
	}

	return models.Snapshot{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
}

func (o *Orchestrator) record(ctx context.Context, rec models.ExecutionRecord) {
	if o.d.Executions == nil {
		return
	}
	if err := o.d.Executions.Put(ctx, rec); err != nil {
		o.d.Log.Error().Err(err).Str("executionId", rec.ExecutionID).Msg("failed to persist execution record")
	}
}
