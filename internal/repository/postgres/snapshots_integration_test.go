//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/banking/ewa-risk-service/internal/domain"
)

func setupRepository(t *testing.T) *SnapshotRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ewa_risk_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(dsn))
	// applying twice is a no-op
	require.NoError(t, RunMigrations(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewSnapshotRepository(pool)
}

func employeeSnapshot(entityID, employerID uuid.UUID, source domain.ScoreSource, at time.Time) *domain.EntityScoreSnapshot {
	employerScore, net := 3.0, 3.6
	return &domain.EntityScoreSnapshot{
		ID:                     uuid.New(),
		EntityID:               entityID,
		EntityType:             domain.EntityTypeEmployee,
		EmployerID:             &employerID,
		FactorScores:           domain.FactorScores{"financial_health": {"account_verification": 4}},
		CategoryScores:         map[string]float64{"financial_health": 4},
		CompositeScore:         4,
		EmployerCompositeScore: &employerScore,
		NetWeightedScore:       &net,
		RiskScore:              net,
		Rating:                 domain.RatingB,
		FeePercentage:          4.34,
		SchemaVersion:          "v1",
		Source:                 source,
		ComputedAt:             at,
	}
}

func TestSnapshotRepository_SaveAndLatest(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	_, err := repo.Latest(ctx, domain.EntityTypeEmployer, uuid.New())
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	employerID := uuid.New()
	employer := &domain.EntityScoreSnapshot{
		ID:             uuid.New(),
		EntityID:       employerID,
		EntityType:     domain.EntityTypeEmployer,
		FactorScores:   domain.FactorScores{"operational": {"churn_rate": 2}},
		CategoryScores: map[string]float64{"operational": 2},
		CompositeScore: 2,
		RiskScore:      2,
		Rating:         domain.RatingD,
		FeePercentage:  5.3,
		SchemaVersion:  "v1",
		Source:         domain.SourceComputed,
		ComputedAt:     base,
	}
	require.NoError(t, repo.Save(ctx, employer))

	verified := base.Add(-24 * time.Hour)
	override := *employer
	override.ID = uuid.New()
	override.RiskScore = 3.5
	override.Rating = domain.RatingB
	override.Source = domain.SourceOverride
	override.ReviewerReason = "audited financials"
	override.ReviewedBy = "admin-7"
	override.LastVerifiedAt = &verified
	override.ComputedAt = base.Add(time.Second)
	require.NoError(t, repo.Save(ctx, &override))

	got, err := repo.Latest(ctx, domain.EntityTypeEmployer, employerID)
	require.NoError(t, err)
	assert.Equal(t, override.ID, got.ID)
	assert.Equal(t, domain.EntityTypeEmployer, got.EntityType)
	assert.Nil(t, got.EmployerID)
	assert.Nil(t, got.EmployerCompositeScore)
	assert.Nil(t, got.NetWeightedScore)
	assert.Equal(t, 3.5, got.RiskScore)
	assert.Equal(t, domain.RatingB, got.Rating)
	assert.Equal(t, domain.SourceOverride, got.Source)
	assert.Equal(t, "audited financials", got.ReviewerReason)
	assert.Equal(t, "admin-7", got.ReviewedBy)
	require.NotNil(t, got.LastVerifiedAt)
	assert.True(t, verified.Equal(*got.LastVerifiedAt))
	assert.True(t, override.ComputedAt.Equal(got.ComputedAt))
	assert.Equal(t, employer.FactorScores, got.FactorScores)
	assert.Equal(t, employer.CategoryScores, got.CategoryScores)

	// same id under the other entity type is a different entity
	_, err = repo.Latest(ctx, domain.EntityTypeEmployee, employerID)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestSnapshotRepository_History(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	entityID, employerID := uuid.New(), uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		s := employeeSnapshot(entityID, employerID, domain.SourceComputed, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Save(ctx, s))
		ids = append(ids, s.ID)
	}

	history, err := repo.History(ctx, domain.EntityTypeEmployee, entityID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[3], history[0].ID)
	assert.Equal(t, ids[2], history[1].ID)
	require.NotNil(t, history[0].EmployerID)
	assert.Equal(t, employerID, *history[0].EmployerID)
	require.NotNil(t, history[0].NetWeightedScore)
	assert.Equal(t, 3.6, *history[0].NetWeightedScore)

	for _, limit := range []int{0, -1} {
		history, err = repo.History(ctx, domain.EntityTypeEmployee, entityID, limit)
		require.NoError(t, err)
		assert.Len(t, history, 4)
	}

	history, err = repo.History(ctx, domain.EntityTypeEmployee, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSnapshotRepository_LatestEmployeesByEmployer(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	employerID, otherEmployer := uuid.New(), uuid.New()
	stays, moved, overridden := uuid.New(), uuid.New(), uuid.New()

	save := func(s *domain.EntityScoreSnapshot) *domain.EntityScoreSnapshot {
		require.NoError(t, repo.Save(ctx, s))
		return s
	}

	save(employeeSnapshot(stays, employerID, domain.SourceComputed, base))
	staysLatest := save(employeeSnapshot(stays, employerID, domain.SourceCascade, base.Add(time.Minute)))

	// moved away: its current score belongs to another employer
	save(employeeSnapshot(moved, employerID, domain.SourceComputed, base))
	save(employeeSnapshot(moved, otherEmployer, domain.SourceComputed, base.Add(time.Minute)))

	save(employeeSnapshot(overridden, employerID, domain.SourceComputed, base))
	overrideLatest := save(employeeSnapshot(overridden, employerID, domain.SourceOverride, base.Add(time.Minute)))

	employees, err := repo.LatestEmployeesByEmployer(ctx, employerID)
	require.NoError(t, err)
	require.Len(t, employees, 2)

	byEntity := map[uuid.UUID]*domain.EntityScoreSnapshot{}
	for _, e := range employees {
		byEntity[e.EntityID] = e
	}
	require.Contains(t, byEntity, stays)
	require.Contains(t, byEntity, overridden)
	assert.NotContains(t, byEntity, moved)
	assert.Equal(t, staysLatest.ID, byEntity[stays].ID)
	assert.Equal(t, overrideLatest.ID, byEntity[overridden].ID)
	assert.Equal(t, domain.SourceOverride, byEntity[overridden].Source)

	employees, err = repo.LatestEmployeesByEmployer(ctx, otherEmployer)
	require.NoError(t, err)
	require.Len(t, employees, 1)
	assert.Equal(t, moved, employees[0].EntityID)
}
