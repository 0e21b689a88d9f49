package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScoreEmployerRequest carries an admin's factor ratings for an employer
type ScoreEmployerRequest struct {
	FactorScores   FactorScores `json:"factor_scores" validate:"required"`
	Industry       string       `json:"industry,omitempty" validate:"omitempty,max=64"`
	LastVerifiedAt *time.Time   `json:"last_verified_at,omitempty"`
}

// ScoreEmployeeRequest carries an admin's factor ratings for an employee.
// EmployerID selects whose composite is blended into the net score.
type ScoreEmployeeRequest struct {
	FactorScores   FactorScores `json:"factor_scores" validate:"required"`
	EmployerID     uuid.UUID    `json:"employer_id"`
	LastVerifiedAt *time.Time   `json:"last_verified_at,omitempty"`
}

// OverrideRiskScoreRequest is the admin PATCH body. When RiskFactors is set the
// score is recomputed from them, otherwise RiskScore replaces the effective score.
type OverrideRiskScoreRequest struct {
	RiskScore      *float64     `json:"risk_score,omitempty" validate:"omitempty,min=0,max=5"`
	RiskFactors    FactorScores `json:"risk_factors,omitempty"`
	Reason         string       `json:"reason" validate:"required,max=500"`
	EmployerID     *uuid.UUID   `json:"employer_id,omitempty"`
	LastVerifiedAt *time.Time   `json:"last_verified_at,omitempty"`
}

// AdvanceQuoteRequest asks what an advance would cost an employee
type AdvanceQuoteRequest struct {
	EmployeeID uuid.UUID       `json:"employee_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// AdvanceQuote is the fee breakdown for a requested advance
type AdvanceQuote struct {
	EmployeeID    uuid.UUID       `json:"employee_id"`
	Amount        decimal.Decimal `json:"amount"`
	RiskScore     float64         `json:"risk_score"`
	Rating        Rating          `json:"risk_rating"`
	FeePercentage float64         `json:"fee_percentage"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Scored        bool            `json:"scored"`
}
