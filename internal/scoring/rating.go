package scoring

import "github.com/banking/ewa-risk-service/internal/domain"

// Rating band lower bounds
const (
	ratingAThreshold = 4.0
	ratingBThreshold = 3.0
	ratingCThreshold = 2.6
)

// Classification is a rating with its label
type Classification struct {
	Rating domain.Rating `json:"rating"`
	Label  string        `json:"label"`
}

// Classify maps a score to a letter rating. It is total: stored scores that
// fall outside [0,5] use the same bands (anything below 2.6 is D, anything
// at or above 4.0 is A).
func Classify(score float64) Classification {
	var rating domain.Rating
	switch {
	case score >= ratingAThreshold:
		rating = domain.RatingA
	case score >= ratingBThreshold:
		rating = domain.RatingB
	case score >= ratingCThreshold:
		rating = domain.RatingC
	default:
		rating = domain.RatingD
	}
	return Classification{Rating: rating, Label: rating.Label()}
}

// RatingThresholds returns the lower bound of each rating band
func RatingThresholds() map[domain.Rating]float64 {
	return map[domain.Rating]float64{
		domain.RatingA: ratingAThreshold, // 4.0+
		domain.RatingB: ratingBThreshold, // 3.0-3.99
		domain.RatingC: ratingCThreshold, // 2.6-2.99
		domain.RatingD: 0,                // below 2.6
	}
}
