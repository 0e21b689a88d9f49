package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/banking/ewa-risk-service/internal/domain"
)

type entityKey struct {
	entityType domain.EntityType
	entityID   uuid.UUID
}

// SnapshotRepository keeps score history in process memory.
// Used for local runs (database.driver=memory) and tests.
type SnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[entityKey][]*domain.EntityScoreSnapshot
}

// NewSnapshotRepository creates an empty repository
func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{
		snapshots: make(map[entityKey][]*domain.EntityScoreSnapshot),
	}
}

// Save appends a snapshot to the entity's history
func (r *SnapshotRepository) Save(_ context.Context, s *domain.EntityScoreSnapshot) error {
	stored := *s
	stored.FactorScores = s.FactorScores.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := entityKey{entityType: s.EntityType, entityID: s.EntityID}
	r.snapshots[key] = append(r.snapshots[key], &stored)
	return nil
}

// Latest returns the newest snapshot for an entity
func (r *SnapshotRepository) Latest(_ context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.snapshots[entityKey{entityType: entityType, entityID: entityID}]
	if len(history) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}
	latest := *history[len(history)-1]
	return &latest, nil
}

// History returns up to limit snapshots, newest first
func (r *SnapshotRepository) History(_ context.Context, entityType domain.EntityType, entityID uuid.UUID, limit int) ([]*domain.EntityScoreSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.snapshots[entityKey{entityType: entityType, entityID: entityID}]
	out := make([]*domain.EntityScoreSnapshot, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		s := *history[i]
		out = append(out, &s)
	}
	return out, nil
}

// LatestEmployeesByEmployer returns the current snapshot of every employee
// whose latest score was blended with the given employer.
func (r *SnapshotRepository) LatestEmployeesByEmployer(_ context.Context, employerID uuid.UUID) ([]*domain.EntityScoreSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.EntityScoreSnapshot
	for key, history := range r.snapshots {
		if key.entityType != domain.EntityTypeEmployee || len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		if latest.EmployerID != nil && *latest.EmployerID == employerID {
			s := *latest
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID.String() < out[j].EntityID.String() })
	return out, nil
}
