package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banking/ewa-risk-service/internal/domain"
)

const snapshotColumns = `
	id, entity_id, entity_type, employer_id, factor_scores, category_scores,
	composite_score, employer_composite_score, net_weighted_score,
	risk_score, risk_rating, fee_percentage, schema_version, source,
	COALESCE(reviewer_reason, ''), COALESCE(reviewed_by, ''),
	last_verified_at, computed_at`

// SnapshotRepository stores score snapshots in PostgreSQL
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a repository on an existing pool
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Save inserts a snapshot. Snapshots are never updated in place.
func (r *SnapshotRepository) Save(ctx context.Context, s *domain.EntityScoreSnapshot) error {
	factors, err := json.Marshal(s.FactorScores)
	if err != nil {
		return fmt.Errorf("marshal factor scores: %w", err)
	}
	categories, err := json.Marshal(s.CategoryScores)
	if err != nil {
		return fmt.Errorf("marshal category scores: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO risk_score_snapshots (
			id, entity_id, entity_type, employer_id, factor_scores, category_scores,
			composite_score, employer_composite_score, net_weighted_score,
			risk_score, risk_rating, fee_percentage, schema_version, source,
			reviewer_reason, reviewed_by, last_verified_at, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			NULLIF($15, ''), NULLIF($16, ''), $17, $18)
	`,
		s.ID, s.EntityID, string(s.EntityType), s.EmployerID, factors, categories,
		s.CompositeScore, s.EmployerCompositeScore, s.NetWeightedScore,
		s.RiskScore, string(s.Rating), s.FeePercentage, s.SchemaVersion, string(s.Source),
		s.ReviewerReason, s.ReviewedBy, s.LastVerifiedAt, s.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot for an entity
func (r *SnapshotRepository) Latest(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM risk_score_snapshots
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`, string(entityType), entityID)

	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	return s, err
}

// History returns up to limit snapshots, newest first. A limit of zero or
// less returns the full history.
func (r *SnapshotRepository) History(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, limit int) ([]*domain.EntityScoreSnapshot, error) {
	// LIMIT NULL is no limit
	var rowLimit *int
	if limit > 0 {
		rowLimit = &limit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM risk_score_snapshots
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY computed_at DESC, id DESC
		LIMIT $3
	`, string(entityType), entityID, rowLimit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectSnapshots(rows)
}

// LatestEmployeesByEmployer returns the current snapshot of every employee
// whose latest score was blended with the given employer.
func (r *SnapshotRepository) LatestEmployeesByEmployer(ctx context.Context, employerID uuid.UUID) ([]*domain.EntityScoreSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM (
			SELECT DISTINCT ON (entity_id) *
			FROM risk_score_snapshots
			WHERE entity_type = 'employee'
			  AND entity_id IN (
				SELECT entity_id FROM risk_score_snapshots
				WHERE entity_type = 'employee' AND employer_id = $1
			  )
			ORDER BY entity_id, computed_at DESC, id DESC
		) latest
		WHERE employer_id = $1
		ORDER BY entity_id
	`, employerID)
	if err != nil {
		return nil, fmt.Errorf("query employees by employer: %w", err)
	}
	return collectSnapshots(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.EntityScoreSnapshot, error) {
	var (
		s                  domain.EntityScoreSnapshot
		entityType, rating string
		source             string
		factors            []byte
		categories         []byte
	)

	err := row.Scan(
		&s.ID, &s.EntityID, &entityType, &s.EmployerID, &factors, &categories,
		&s.CompositeScore, &s.EmployerCompositeScore, &s.NetWeightedScore,
		&s.RiskScore, &rating, &s.FeePercentage, &s.SchemaVersion, &source,
		&s.ReviewerReason, &s.ReviewedBy, &s.LastVerifiedAt, &s.ComputedAt,
	)
	if err != nil {
		return nil, err
	}

	s.EntityType = domain.EntityType(entityType)
	s.Rating = domain.Rating(rating)
	s.Source = domain.ScoreSource(source)

	if err := json.Unmarshal(factors, &s.FactorScores); err != nil {
		return nil, fmt.Errorf("unmarshal factor scores: %w", err)
	}
	if err := json.Unmarshal(categories, &s.CategoryScores); err != nil {
		return nil, fmt.Errorf("unmarshal category scores: %w", err)
	}
	return &s, nil
}

func collectSnapshots(rows pgx.Rows) ([]*domain.EntityScoreSnapshot, error) {
	defer rows.Close()

	var out []*domain.EntityScoreSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
