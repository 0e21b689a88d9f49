package scoring

import (
	"fmt"

	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/domain"
)

// Engine runs the full scoring pipeline:
// factor scores -> category scores -> composite -> (blend) -> fee and rating.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	strictPresence bool
}

// Result is the complete output of one scoring run
type Result struct {
	EntityType     domain.EntityType  `json:"entity_type"`
	CategoryScores map[string]float64 `json:"category_scores"`
	CompositeScore float64            `json:"composite_score"`

	// Employees only
	EmployerCompositeScore *float64 `json:"employer_composite_score,omitempty"`
	NetWeightedScore       *float64 `json:"net_weighted_score,omitempty"`

	// FinalScore drives the fee and rating: the composite for employers,
	// the net weighted score for employees.
	FinalScore     float64        `json:"final_score"`
	Classification Classification `json:"classification"`
	FeePercentage  float64        `json:"fee_percentage"`
	SchemaVersion  string         `json:"schema_version"`
}

// NewEngine creates a scoring engine. A nil config uses lenient defaults.
func NewEngine(cfg *config.ScoringConfig) *Engine {
	e := &Engine{}
	if cfg != nil {
		e.strictPresence = cfg.StrictPresence
	}
	return e
}

// ScoreEmployer scores an employer from its factor ratings
func (e *Engine) ScoreEmployer(scores domain.FactorScores) (*Result, error) {
	res, err := e.composite(domain.EntityTypeEmployer, scores)
	if err != nil {
		return nil, err
	}
	return e.finish(res, res.CompositeScore)
}

// ScoreEmployee scores an employee and blends in the employer's current
// composite. employerComposite may be nil when the employer is unscored.
func (e *Engine) ScoreEmployee(scores domain.FactorScores, employerComposite *float64) (*Result, error) {
	if employerComposite != nil {
		if err := checkScore(*employerComposite); err != nil {
			return nil, fmt.Errorf("employer composite: %w", err)
		}
	}

	res, err := e.composite(domain.EntityTypeEmployee, scores)
	if err != nil {
		return nil, err
	}

	net := NetWeightedScore(res.CompositeScore, employerComposite)
	res.NetWeightedScore = &net
	if employerComposite != nil {
		employer := *employerComposite
		res.EmployerCompositeScore = &employer
	}
	return e.finish(res, net)
}

// Score dispatches on entity type
func (e *Engine) Score(entityType domain.EntityType, scores domain.FactorScores, employerComposite *float64) (*Result, error) {
	switch entityType {
	case domain.EntityTypeEmployer:
		return e.ScoreEmployer(scores)
	case domain.EntityTypeEmployee:
		return e.ScoreEmployee(scores, employerComposite)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEntityType, entityType)
	}
}

// Reblend recomputes an employee result for a new employer composite without
// touching the employee's own factor ratings.
func (e *Engine) Reblend(employeeComposite float64, employerComposite *float64) (*Result, error) {
	if err := checkScore(employeeComposite); err != nil {
		return nil, fmt.Errorf("employee composite: %w", err)
	}
	if employerComposite != nil {
		if err := checkScore(*employerComposite); err != nil {
			return nil, fmt.Errorf("employer composite: %w", err)
		}
	}

	net := NetWeightedScore(employeeComposite, employerComposite)
	res := &Result{
		EntityType:       domain.EntityTypeEmployee,
		CompositeScore:   employeeComposite,
		NetWeightedScore: &net,
	}
	if employerComposite != nil {
		employer := *employerComposite
		res.EmployerCompositeScore = &employer
	}
	return e.finish(res, net)
}

func (e *Engine) composite(entityType domain.EntityType, scores domain.FactorScores) (*Result, error) {
	schema, err := Factors(entityType)
	if err != nil {
		return nil, err
	}
	if e.strictPresence {
		if err := checkPresence(schema, scores); err != nil {
			return nil, err
		}
	}

	composite, err := CompositeScore(schema, scores)
	if err != nil {
		return nil, err
	}
	categories, err := CategoryScores(schema, scores)
	if err != nil {
		return nil, err
	}

	return &Result{
		EntityType:     entityType,
		CategoryScores: categories,
		CompositeScore: composite,
	}, nil
}

func (e *Engine) finish(res *Result, final float64) (*Result, error) {
	fee, err := FeePercentage(final)
	if err != nil {
		return nil, err
	}
	res.FinalScore = final
	res.Classification = Classify(final)
	res.FeePercentage = fee
	res.SchemaVersion = SchemaVersion
	return res, nil
}
