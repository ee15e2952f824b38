// Package models holds the domain types shared across the valuation
// pipeline: gateway, orchestrator, scoring packages, and the persistence
// layer all speak these structs rather than provider-specific schemas.
package models

import "time"

// Card is a mutable per-subject record describing a physical trading card
// and caching its latest valuation.
type Card struct {
	CardID    string `json:"cardId"`
	Subject   string `json:"subject"`
	FrontKey  string `json:"frontKey"`
	BackKey   string `json:"backKey,omitempty"`

	Name              string `json:"name,omitempty"`
	Set               string `json:"set,omitempty"`
	Number            string `json:"number,omitempty"`
	Rarity            string `json:"rarity,omitempty"`
	Type              string `json:"type,omitempty"`
	ConditionEstimate string `json:"conditionEstimate,omitempty"`

	ValueLow            *float64             `json:"valueLow,omitempty"`
	ValueMedian         *float64             `json:"valueMedian,omitempty"`
	ValueHigh           *float64             `json:"valueHigh,omitempty"`
	AuthenticityScore   *float64             `json:"authenticityScore,omitempty"`
	AuthenticitySignals *AuthenticitySignals `json:"authenticitySignals,omitempty"`

	Deleted bool `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is an immutable, time-stamped valuation record attached to a Card.
type Snapshot struct {
	Subject   string    `json:"subject"`
	CardID    string    `json:"cardId"`
	Timestamp time.Time `json:"timestamp"`

	ValueLow    *float64 `json:"valueLow"`
	ValueMedian *float64 `json:"valueMedian"`
	ValueHigh   *float64 `json:"valueHigh"`
	CompsCount  int      `json:"compsCount"`
	WindowDays  int      `json:"windowDays"`
	Confidence  float64  `json:"confidence"`

	AuthenticityScore   float64             `json:"authenticityScore"`
	AuthenticitySignals AuthenticitySignals `json:"authenticitySignals"`
	Sources             []string            `json:"sources"`
	Rationale           string              `json:"rationale,omitempty"`
	Degraded            bool                `json:"degraded,omitempty"`
}

// OCRBlock is a single detected text region.
type OCRBlock struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	BoundingBox [4]float64 `json:"boundingBox"` // x, y, w, h, normalized [0,1]
}

// Borders captures measured card-border geometry.
type Borders struct {
	Top      float64 `json:"top"`
	Bottom   float64 `json:"bottom"`
	Left     float64 `json:"left"`
	Right    float64 `json:"right"`
	Symmetry float64 `json:"symmetry"`
}

// FontMetrics captures measured print-font characteristics.
type FontMetrics struct {
	Kerning          []float64 `json:"kerning"`
	Alignment        float64   `json:"alignment"`
	FontSizeVariance float64   `json:"fontSizeVariance"`
}

// Quality captures image-quality signals unrelated to authenticity but
// useful for diagnosing poor extraction results.
type Quality struct {
	Blur  float64 `json:"blur"`
	Glare float64 `json:"glare"`
}

// ImageMeta captures raw raster dimensions.
type ImageMeta struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FeatureEnvelope is the provider-independent container produced by the
// feature extractor (C6) and consumed by the signal computer (C2) and the
// authenticity reasoner (C7). It never carries a provider's native schema.
type FeatureEnvelope struct {
	OCR         []OCRBlock  `json:"ocr"`
	Borders     Borders     `json:"borders"`
	HoloVariance float64    `json:"holoVariance"`
	FontMetrics FontMetrics `json:"fontMetrics"`
	Quality     Quality     `json:"quality"`
	ImageMeta   ImageMeta   `json:"imageMeta"`
	FrontHash   string      `json:"frontHash"`
	BackHash    string      `json:"backHash,omitempty"`
}

// AuthenticitySignals are the five sub-scores computed by the signal
// computer (C2), each clamped to [0,1].
type AuthenticitySignals struct {
	VisualHashConfidence  float64 `json:"visualHashConfidence"`
	TextMatchConfidence   float64 `json:"textMatchConfidence"`
	HoloPatternConfidence float64 `json:"holoPatternConfidence"`
	BorderConsistency     float64 `json:"borderConsistency"`
	FontValidation        float64 `json:"fontValidation"`
}

// ExpectedAttributes are the caller-supplied descriptive fields used by the
// signal computer as a comparison baseline (e.g. is this card expected to be
// holo, what name should OCR find).
type ExpectedAttributes struct {
	Name   string
	Rarity string
	Set    string
	Number string
}

// Query builds the marketplace search string pricing adapters fan out with.
// A nil receiver (no expected attributes supplied) yields an empty query.
func (e *ExpectedAttributes) Query() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{e.Name, e.Set, e.Number, e.Rarity} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	q := ""
	for i, p := range parts {
		if i > 0 {
			q += " "
		}
		q += p
	}
	return q
}

// ReferenceHash is one authentic reference fingerprint for a named card.
type ReferenceHash struct {
	CardName string `json:"cardName"`
	Hash     string `json:"hash"`
	Variant  string `json:"variant,omitempty"`
	Set      string `json:"set,omitempty"`
}

// Comp is a single normalized comparable sale returned by a pricing adapter.
type Comp struct {
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Condition string    `json:"condition,omitempty"`
	SoldAt    time.Time `json:"soldAt"`
	SourceTag string    `json:"sourceTag"`
	URL       string    `json:"url,omitempty"`
}

// PricingResult is the fused output of C5, or a no-data result when no
// comps survive trimming.
type PricingResult struct {
	ValueLow    *float64 `json:"valueLow"`
	ValueMedian *float64 `json:"valueMedian"`
	ValueHigh   *float64 `json:"valueHigh"`
	CompsCount  int      `json:"compsCount"`
	WindowDays  int      `json:"windowDays"`
	Confidence  float64  `json:"confidence"`
	Sources     []string `json:"sources"`
}

// AuthenticityResult is the output of C7 (or its §4.6 fallback).
type AuthenticityResult struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	Degraded  bool    `json:"degraded"`
}

// IdempotencyToken binds a caller-supplied key to the outcome of a prior
// mutating operation, scoped per subject.
type IdempotencyToken struct {
	Subject   string    `json:"subject"`
	Key       string    `json:"key"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"` // "in-progress" | "completed"
	ResultBody []byte   `json:"resultBody,omitempty"`
	ResultStatus int    `json:"resultStatus,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

const (
	TokenStatusInProgress = "in-progress"
	TokenStatusCompleted  = "completed"
)

// RevalueLock marks a card as having an in-progress revalue execution,
// rejecting a second concurrent revalue for the same (subject, cardId)
// regardless of Idempotency-Key (§5 backpressure).
type RevalueLock struct {
	Subject     string    `json:"subject"`
	CardID      string    `json:"cardId"`
	ExecutionID string    `json:"executionId"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ExecutionRecord is the durable trace of a single orchestrator run.
type ExecutionRecord struct {
	ExecutionID string     `json:"executionId"`
	CardID      string     `json:"cardId"`
	Subject     string     `json:"subject"`
	State       string     `json:"state"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Execution states (§4.8).
const (
	StateExtract   = "EXTRACT"
	StateParallel  = "PARALLEL"
	StateAggregate = "AGGREGATE"
	StateDone      = "DONE"
	StateError     = "ERROR"
)
