package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/ewa-risk-service/internal/domain"
)

func snapshot(entityType domain.EntityType, id uuid.UUID, score float64) *domain.EntityScoreSnapshot {
	return &domain.EntityScoreSnapshot{
		ID:         uuid.New(),
		EntityID:   id,
		EntityType: entityType,
		RiskScore:  score,
		ComputedAt: time.Now(),
	}
}

func TestSnapshotRepository_LatestAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository()
	id := uuid.New()

	_, err := repo.Latest(ctx, domain.EntityTypeEmployer, id)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	for _, score := range []float64{2.0, 3.0, 4.0} {
		require.NoError(t, repo.Save(ctx, snapshot(domain.EntityTypeEmployer, id, score)))
	}

	latest, err := repo.Latest(ctx, domain.EntityTypeEmployer, id)
	require.NoError(t, err)
	assert.Equal(t, 4.0, latest.RiskScore)

	history, err := repo.History(ctx, domain.EntityTypeEmployer, id, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4.0, history[0].RiskScore)
	assert.Equal(t, 3.0, history[1].RiskScore)

	// same id, other entity type
	_, err = repo.Latest(ctx, domain.EntityTypeEmployee, id)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestSnapshotRepository_SaveCopiesFactorScores(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository()
	id := uuid.New()

	s := snapshot(domain.EntityTypeEmployer, id, 3)
	s.FactorScores = domain.FactorScores{"operational": {"churn_rate": 2}}
	require.NoError(t, repo.Save(ctx, s))

	s.FactorScores["operational"]["churn_rate"] = 5

	latest, err := repo.Latest(ctx, domain.EntityTypeEmployer, id)
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.FactorScores["operational"]["churn_rate"])
}

func TestSnapshotRepository_LatestEmployeesByEmployer(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository()
	employerA, employerB := uuid.New(), uuid.New()
	moved, stayed := uuid.New(), uuid.New()

	first := snapshot(domain.EntityTypeEmployee, moved, 3)
	first.EmployerID = &employerA
	require.NoError(t, repo.Save(ctx, first))

	// employee moved to employer B
	second := snapshot(domain.EntityTypeEmployee, moved, 3.5)
	second.EmployerID = &employerB
	require.NoError(t, repo.Save(ctx, second))

	other := snapshot(domain.EntityTypeEmployee, stayed, 4)
	other.EmployerID = &employerA
	require.NoError(t, repo.Save(ctx, other))

	got, err := repo.LatestEmployeesByEmployer(ctx, employerA)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stayed, got[0].EntityID)

	got, err = repo.LatestEmployeesByEmployer(ctx, employerB)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, moved, got[0].EntityID)
}
