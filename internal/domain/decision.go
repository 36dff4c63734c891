package domain

import (
	"time"

	id "kopa/pkg/domain"
)

// FeatureContribution is one rule's signed input into the repayment score.
// Importance is the absolute magnitude; contributions are ranked by it for
// explainability.
type FeatureContribution struct {
	Feature      string
	Contribution float64
	Importance   float64
}

// ModelDecision is the immutable output of the scoring model for one feature
// vector. Referenced by exactly one offer.
type ModelDecision struct {
	ID               id.DecisionID
	ModelName        string
	ModelVersion     string
	CreatedAt        time.Time
	Features         FeatureVector
	PRepay           float64 // [0,1]
	Confidence       float64 // [0.5,0.95]
	RecommendedLimit float64
	Contributions    []FeatureContribution // sorted by descending importance
}
