package scoring_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/ewa-risk-service/internal/domain"
	"github.com/banking/ewa-risk-service/internal/scoring"
)

func TestFeePercentage(t *testing.T) {
	tests := []struct {
		score float64
		want  float64
	}{
		{0, 6.5},
		{5, 3.5},
		{3.5, 4.4},
		{3.0, 4.7},
		{4.2, 3.98},
		{1.0, 5.9},
	}

	for _, tt := range tests {
		fee, err := scoring.FeePercentage(tt.score)
		require.NoError(t, err)
		assert.Equal(t, tt.want, fee, "score %v", tt.score)
	}
}

func TestFeePercentage_OutOfRange(t *testing.T) {
	for _, score := range []float64{-0.01, 5.01, math.NaN(), math.Inf(1)} {
		_, err := scoring.FeePercentage(score)
		assert.ErrorIs(t, err, domain.ErrScoreOutOfRange, "score %v", score)
	}
}

func TestAdvanceFee(t *testing.T) {
	fee, net := scoring.AdvanceFee(decimal.NewFromInt(10000), 4.4)
	assert.True(t, decimal.NewFromInt(440).Equal(fee), "fee %s", fee)
	assert.True(t, decimal.NewFromInt(9560).Equal(net), "net %s", net)

	fee, net = scoring.AdvanceFee(decimal.RequireFromString("1234.56"), 3.98)
	assert.Equal(t, "49.14", fee.StringFixed(2))
	assert.Equal(t, "1185.42", net.StringFixed(2))
}

func TestNetWeightedScore(t *testing.T) {
	employer := 4.0
	assert.Equal(t, 2.8, scoring.NetWeightedScore(2.0, &employer))

	employer = 3.0
	assert.Equal(t, 4.2, scoring.NetWeightedScore(5.0, &employer))

	// unscored employer counts as neutral
	assert.Equal(t, 4.2, scoring.NetWeightedScore(5.0, nil))
	assert.Equal(t, 3.0, scoring.NetWeightedScore(3.0, nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Rating
	}{
		{4.0, domain.RatingA},
		{5.0, domain.RatingA},
		{3.999, domain.RatingB},
		{3.0, domain.RatingB},
		{2.999, domain.RatingC},
		{2.6, domain.RatingC},
		{2.599, domain.RatingD},
		{0, domain.RatingD},
		// stored scores outside [0,5] still classify
		{5.3, domain.RatingA},
		{-0.2, domain.RatingD},
	}

	for _, tt := range tests {
		got := scoring.Classify(tt.score)
		assert.Equal(t, tt.want, got.Rating, "score %v", tt.score)
		assert.Equal(t, tt.want.Label(), got.Label)
	}
}

func TestRating_Label(t *testing.T) {
	assert.Equal(t, "Low Risk", domain.RatingA.Label())
	assert.Equal(t, "Medium Risk", domain.RatingB.Label())
	assert.Equal(t, "High Risk", domain.RatingC.Label())
	assert.Equal(t, "Very High Risk", domain.RatingD.Label())
	assert.Equal(t, "Not Scored", domain.Rating("").Label())
}
