// Package events defines the domain event surface (§6) emitted by the
// aggregator, and a minimal callback-as-publisher abstraction so a
// production deployment can swap in a real message bus without touching
// the aggregator.
package events

import (
	"context"
	"time"
)

// CardValuationUpdated is emitted after every successful Aggregate step.
type CardValuationUpdated struct {
	Subject     string    `json:"subject"`
	CardID      string    `json:"cardId"`
	Timestamp   time.Time `json:"timestamp"`
	ValueMedian *float64  `json:"valueMedian"`
	ValueLow    *float64  `json:"valueLow"`
	ValueHigh   *float64  `json:"valueHigh"`
	Confidence  float64   `json:"confidence"`
	Sources     []string  `json:"sources"`
}

// AuthenticityFlagged is additionally emitted when the authenticity score
// falls below the configured threshold.
type AuthenticityFlagged struct {
	Subject           string    `json:"subject"`
	CardID            string    `json:"cardId"`
	Timestamp         time.Time `json:"timestamp"`
	AuthenticityScore float64   `json:"authenticityScore"`
	Rationale         string    `json:"rationale"`
}

// Publisher emits domain events to an abstract bus. Emission failure is
// logged by the caller, never surfaced as a pipeline failure (§4.7).
type Publisher interface {
	PublishCardValuationUpdated(ctx context.Context, e CardValuationUpdated) error
	PublishAuthenticityFlagged(ctx context.Context, e AuthenticityFlagged) error
}

// InProcessPublisher fans events out to registered in-process subscriber
// callbacks; the default wiring for a single-process deployment and for
// tests. A production deployment swaps this for an SNS/SQS-backed
// Publisher without touching the aggregator.
type InProcessPublisher struct {
	onValuation   []func(CardValuationUpdated)
	onAuthFlagged []func(AuthenticityFlagged)
}

func NewInProcessPublisher() *InProcessPublisher { return &InProcessPublisher{} }

func (p *InProcessPublisher) OnValuationUpdated(fn func(CardValuationUpdated)) {
	p.onValuation = append(p.onValuation, fn)
}

func (p *InProcessPublisher) OnAuthenticityFlagged(fn func(AuthenticityFlagged)) {
	p.onAuthFlagged = append(p.onAuthFlagged, fn)
}

func (p *InProcessPublisher) PublishCardValuationUpdated(ctx context.Context, e CardValuationUpdated) error {
	for _, fn := range p.onValuation {
		fn(e)
	}
	return nil
}

func (p *InProcessPublisher) PublishAuthenticityFlagged(ctx context.Context, e AuthenticityFlagged) error {
	for _, fn := range p.onAuthFlagged {
		fn(e)
	}
	return nil
}
