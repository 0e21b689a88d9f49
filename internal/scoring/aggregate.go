package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/banking/ewa-risk-service/internal/domain"
)

const (
	// DefaultFactorScore is used for any factor the caller did not rate
	DefaultFactorScore = 3.0

	MinScore = 0.0
	MaxScore = 5.0
)

// checkScore rejects NaN, infinities and anything outside [0,5]
func checkScore(score float64) error {
	if math.IsNaN(score) || score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: %v", domain.ErrScoreOutOfRange, score)
	}
	return nil
}

// weightedSum accumulates Σ(score × weight) and Σ(weight) in decimal so the
// result does not depend on iteration order.
type weightedSum struct {
	scores  decimal.Decimal
	weights decimal.Decimal
}

func (w *weightedSum) add(score, weight float64) {
	dw := decimal.NewFromFloat(weight)
	w.scores = w.scores.Add(decimal.NewFromFloat(score).Mul(dw))
	w.weights = w.weights.Add(dw)
}

func (w *weightedSum) mean() (float64, bool) {
	if !w.weights.IsPositive() {
		return 0, false
	}
	return w.scores.Div(w.weights).InexactFloat64(), true
}

// CategoryScore is the weighted mean of one category's factors, using the
// factors' weights relative to the category total. Missing factors count as
// DefaultFactorScore.
func CategoryScore(factors []Factor, scores map[string]float64) (float64, error) {
	var sum weightedSum
	for _, f := range factors {
		score, ok := scores[f.Key]
		if !ok {
			score = DefaultFactorScore
		}
		if err := checkScore(score); err != nil {
			return 0, fmt.Errorf("factor %s: %w", f.Key, err)
		}
		sum.add(score, f.Weight)
	}

	mean, ok := sum.mean()
	if !ok {
		return 0, domain.ErrDegenerateCategory
	}
	return mean, nil
}

// CompositeScore is the weighted mean of every factor of every category using
// absolute weights. It works directly over factors instead of combining
// category scores. Missing factors count as DefaultFactorScore; unknown
// categories or factor keys are rejected.
func CompositeScore(schema Schema, scores domain.FactorScores) (float64, error) {
	if err := checkKnownFactors(schema, scores); err != nil {
		return 0, err
	}

	var sum weightedSum
	for _, c := range schema.Categories {
		given := scores[c.Name]
		for _, f := range c.Factors {
			score, ok := given[f.Key]
			if !ok {
				score = DefaultFactorScore
			}
			if err := checkScore(score); err != nil {
				return 0, fmt.Errorf("factor %s.%s: %w", c.Name, f.Key, err)
			}
			sum.add(score, f.Weight)
		}
	}

	mean, ok := sum.mean()
	if !ok {
		return 0, fmt.Errorf("%s schema: %w", schema.EntityType, domain.ErrDegenerateCategory)
	}
	return mean, nil
}

// CategoryScores computes every category score of the schema
func CategoryScores(schema Schema, scores domain.FactorScores) (map[string]float64, error) {
	out := make(map[string]float64, len(schema.Categories))
	for _, c := range schema.Categories {
		score, err := CategoryScore(c.Factors, scores[c.Name])
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", c.Name, err)
		}
		out[c.Name] = score
	}
	return out, nil
}

func checkKnownFactors(schema Schema, scores domain.FactorScores) error {
	for categoryName, factors := range scores {
		category, ok := schema.Category(categoryName)
		if !ok {
			return fmt.Errorf("%w: category %q for %s", domain.ErrUnknownFactor, categoryName, schema.EntityType)
		}
		for key := range factors {
			if !hasFactor(category, key) {
				return fmt.Errorf("%w: %s.%s for %s", domain.ErrUnknownFactor, categoryName, key, schema.EntityType)
			}
		}
	}
	return nil
}

// checkPresence requires a rating for every factor of the schema
func checkPresence(schema Schema, scores domain.FactorScores) error {
	for _, c := range schema.Categories {
		for _, f := range c.Factors {
			if _, ok := scores[c.Name][f.Key]; !ok {
				return fmt.Errorf("%w: %s.%s", domain.ErrMissingFactor, c.Name, f.Key)
			}
		}
	}
	return nil
}

func hasFactor(c Category, key string) bool {
	for _, f := range c.Factors {
		if f.Key == key {
			return true
		}
	}
	return false
}
