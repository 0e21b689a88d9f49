package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies whose risk is being scored
type EntityType string

const (
	EntityTypeEmployer EntityType = "employer"
	EntityTypeEmployee EntityType = "employee"
)

// ParseEntityType converts a path/query value into an EntityType
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityTypeEmployer, EntityTypeEmployee:
		return EntityType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}
}

// Rating is the letter grade derived from a risk score
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
)

// Label returns the human readable risk label for a rating
func (r Rating) Label() string {
	switch r {
	case RatingA:
		return "Low Risk"
	case RatingB:
		return "Medium Risk"
	case RatingC:
		return "High Risk"
	case RatingD:
		return "Very High Risk"
	default:
		return "Not Scored"
	}
}

// ScoreSource records how a snapshot came to be
type ScoreSource string

const (
	SourceComputed ScoreSource = "computed"
	SourceOverride ScoreSource = "override"
	SourceCascade  ScoreSource = "cascade"
)

// FactorScores holds factor ratings keyed by category, then factor key.
// Ratings are 1-5 in the admin UI but any value in [0,5] is accepted.
type FactorScores map[string]map[string]float64

// Clone returns a deep copy so snapshots never share maps with callers
func (f FactorScores) Clone() FactorScores {
	if f == nil {
		return nil
	}
	out := make(FactorScores, len(f))
	for category, factors := range f {
		inner := make(map[string]float64, len(factors))
		for key, score := range factors {
			inner[key] = score
		}
		out[category] = inner
	}
	return out
}

// EntityScoreSnapshot is one immutable scoring result for an employer or employee.
// Each save appends a new snapshot; the newest one is the entity's current score.
type EntityScoreSnapshot struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	EntityID   uuid.UUID  `json:"entity_id" db:"entity_id"`
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	EmployerID *uuid.UUID `json:"employer_id,omitempty" db:"employer_id"` // employees only

	// Inputs and breakdown
	FactorScores   FactorScores       `json:"factor_scores" db:"factor_scores"`
	CategoryScores map[string]float64 `json:"category_scores" db:"category_scores"`
	CompositeScore float64            `json:"composite_score" db:"composite_score"`

	// Cross-entity blend (employees only)
	EmployerCompositeScore *float64 `json:"employer_composite_score,omitempty" db:"employer_composite_score"`
	NetWeightedScore       *float64 `json:"net_weighted_score,omitempty" db:"net_weighted_score"`

	// Effective score: composite for employers, net weighted for employees,
	// or the admin supplied value for overrides.
	RiskScore     float64 `json:"risk_score" db:"risk_score"`
	Rating        Rating  `json:"risk_rating" db:"risk_rating"`
	FeePercentage float64 `json:"fee_percentage" db:"fee_percentage"`

	// Audit
	SchemaVersion  string      `json:"schema_version" db:"schema_version"`
	Source         ScoreSource `json:"source" db:"source"`
	ReviewerReason string      `json:"reviewer_reason,omitempty" db:"reviewer_reason"`
	ReviewedBy     string      `json:"reviewed_by,omitempty" db:"reviewed_by"`
	LastVerifiedAt *time.Time  `json:"last_verified_at,omitempty" db:"last_verified_at"`
	ComputedAt     time.Time   `json:"computed_at" db:"computed_at"`
}

// RatingLabel returns the label of the snapshot's rating
func (s *EntityScoreSnapshot) RatingLabel() string {
	return s.Rating.Label()
}

// RiskScoreSummary is the lean view returned to other services
type RiskScoreSummary struct {
	EntityID      uuid.UUID  `json:"entity_id"`
	EntityType    EntityType `json:"entity_type"`
	RiskScore     float64    `json:"risk_score"`
	Rating        Rating     `json:"risk_rating"`
	RatingLabel   string     `json:"risk_label"`
	FeePercentage float64    `json:"fee_percentage"`
	ComputedAt    time.Time  `json:"computed_at"`
}

// ToSummary converts a snapshot into its summary view
func (s *EntityScoreSnapshot) ToSummary() *RiskScoreSummary {
	return &RiskScoreSummary{
		EntityID:      s.EntityID,
		EntityType:    s.EntityType,
		RiskScore:     s.RiskScore,
		Rating:        s.Rating,
		RatingLabel:   s.Rating.Label(),
		FeePercentage: s.FeePercentage,
		ComputedAt:    s.ComputedAt,
	}
}
