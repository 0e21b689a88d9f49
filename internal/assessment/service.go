package assessment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/banking/ewa-risk-service/internal/cache"
	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/domain"
	"github.com/banking/ewa-risk-service/internal/metrics"
	"github.com/banking/ewa-risk-service/internal/pkg/logger"
	"github.com/banking/ewa-risk-service/internal/pkg/telemetry"
	"github.com/banking/ewa-risk-service/internal/scoring"
)

// SnapshotRepository stores the append-only score history
type SnapshotRepository interface {
	Save(ctx context.Context, s *domain.EntityScoreSnapshot) error
	Latest(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error)
	History(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, limit int) ([]*domain.EntityScoreSnapshot, error)
	LatestEmployeesByEmployer(ctx context.Context, employerID uuid.UUID) ([]*domain.EntityScoreSnapshot, error)
}

// ScoreCache holds current snapshots. Get returns cache.ErrMiss when absent.
type ScoreCache interface {
	Get(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error)
	Set(ctx context.Context, s *domain.EntityScoreSnapshot) error
	Delete(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) error
}

// EventPublisher announces new current scores
type EventPublisher interface {
	Publish(ctx context.Context, s *domain.EntityScoreSnapshot) error
	Topic() string
}

// CascadeSummary reports the employee re-blend triggered by an employer change
type CascadeSummary struct {
	Updated  int    `json:"updated"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Duration int64  `json:"duration_ms"`
	Error    string `json:"error,omitempty"`
}

// Service runs risk assessments: it scores entities with the engine,
// stores snapshots, keeps the cache warm and publishes events.
type Service struct {
	engine    *scoring.Engine
	repo      SnapshotRepository
	cache     ScoreCache
	publisher EventPublisher
	metrics   *metrics.Metrics

	cfg    *config.ScoringConfig
	log    *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates an assessment service. cache may be nil.
func NewService(
	engine *scoring.Engine,
	repo SnapshotRepository,
	scoreCache ScoreCache,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg *config.ScoringConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		engine:    engine,
		repo:      repo,
		cache:     scoreCache,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		log:       log.Named("assessment"),
		tracer:    telemetry.Tracer("ewa-risk-service/assessment"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ScoreEmployer scores an employer, stores the snapshot and re-blends every
// employee currently attached to it.
func (s *Service) ScoreEmployer(ctx context.Context, employerID uuid.UUID, req *domain.ScoreEmployerRequest) (snap *domain.EntityScoreSnapshot, cascade *CascadeSummary, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "assessment.ScoreEmployer",
		trace.WithAttributes(attribute.String("employer.id", employerID.String())))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveDuration("score_employer", start)
	}()

	factors := withIndustry(req.FactorScores, req.Industry)

	res, err := s.engine.ScoreEmployer(factors)
	if err != nil {
		return nil, nil, err
	}

	snap = s.newSnapshot(domain.EntityTypeEmployer, employerID, factors, res, domain.SourceComputed)
	snap.LastVerifiedAt = req.LastVerifiedAt
	if err := s.store(ctx, snap); err != nil {
		return nil, nil, err
	}

	cascade = s.cascade(ctx, employerID, snap.RiskScore)
	return snap, cascade, nil
}

// ScoreEmployee scores an employee and blends in the current score of the
// employer named in the request. An unscored employer counts as neutral.
func (s *Service) ScoreEmployee(ctx context.Context, employeeID uuid.UUID, req *domain.ScoreEmployeeRequest) (snap *domain.EntityScoreSnapshot, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "assessment.ScoreEmployee",
		trace.WithAttributes(
			attribute.String("employee.id", employeeID.String()),
			attribute.String("employer.id", req.EmployerID.String()),
		))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveDuration("score_employee", start)
	}()

	if req.EmployerID == uuid.Nil {
		return nil, domain.ErrEmployerRequired
	}

	employerScore, err := s.employerScore(ctx, req.EmployerID)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.ScoreEmployee(req.FactorScores, employerScore)
	if err != nil {
		return nil, err
	}

	snap = s.newSnapshot(domain.EntityTypeEmployee, employeeID, req.FactorScores, res, domain.SourceComputed)
	employerID := req.EmployerID
	snap.EmployerID = &employerID
	snap.LastVerifiedAt = req.LastVerifiedAt
	if err := s.store(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Override applies an admin's manual correction. With risk factors the entity
// is fully rescored; otherwise the given score replaces the effective score.
// Employer overrides cascade to employees like a regular rescore.
func (s *Service) Override(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, reviewer string, req *domain.OverrideRiskScoreRequest) (snap *domain.EntityScoreSnapshot, cascade *CascadeSummary, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "assessment.Override",
		trace.WithAttributes(
			attribute.String("entity.type", string(entityType)),
			attribute.String("entity.id", entityID.String()),
		))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.ObserveDuration("override", start)
	}()

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, nil, domain.ErrReasonRequired
	}
	if req.RiskScore == nil && len(req.RiskFactors) == 0 {
		return nil, nil, domain.ErrOverrideEmpty
	}

	previous, err := s.repo.Latest(ctx, entityType, entityID)
	if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		return nil, nil, fmt.Errorf("load current score: %w", err)
	}

	var employerID *uuid.UUID
	if entityType == domain.EntityTypeEmployee {
		employerID = req.EmployerID
		if employerID == nil && previous != nil {
			employerID = previous.EmployerID
		}
	}

	if len(req.RiskFactors) > 0 {
		snap, err = s.rescore(ctx, entityType, entityID, employerID, req.RiskFactors)
	} else {
		snap, err = s.manualScore(entityType, entityID, previous, *req.RiskScore)
	}
	if err != nil {
		return nil, nil, err
	}

	snap.EmployerID = employerID
	snap.Source = domain.SourceOverride
	snap.ReviewerReason = reason
	snap.ReviewedBy = reviewer
	snap.LastVerifiedAt = req.LastVerifiedAt
	if snap.LastVerifiedAt == nil && previous != nil {
		snap.LastVerifiedAt = previous.LastVerifiedAt
	}

	if err := s.store(ctx, snap); err != nil {
		return nil, nil, err
	}

	var previousScore float64
	if previous != nil {
		previousScore = previous.RiskScore
	}
	s.log.WithContext(ctx).ScoreOverridden(string(entityType), entityID.String(), reviewer, previousScore, snap.RiskScore, reason)

	if entityType == domain.EntityTypeEmployer {
		cascade = s.cascade(ctx, entityID, snap.RiskScore)
	}
	return snap, cascade, nil
}

// Current returns an entity's latest snapshot, served from cache when possible
func (s *Service) Current(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) (*domain.EntityScoreSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Current",
		trace.WithAttributes(
			attribute.String("entity.type", string(entityType)),
			attribute.String("entity.id", entityID.String()),
		))
	defer span.End()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, entityType, entityID)
		switch {
		case err == nil:
			s.metrics.CacheRequests.WithLabelValues("hit").Inc()
			return cached, nil
		case errors.Is(err, cache.ErrMiss):
			s.metrics.CacheRequests.WithLabelValues("miss").Inc()
		default:
			s.metrics.CacheRequests.WithLabelValues("error").Inc()
			s.log.WithContext(ctx).CacheFailure("get", cache.Key(entityType, entityID), err)
		}
	}

	snap, err := s.repo.Latest(ctx, entityType, entityID)
	if err != nil {
		if !errors.Is(err, domain.ErrSnapshotNotFound) {
			telemetry.RecordError(span, err)
		}
		return nil, err
	}

	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// History returns past snapshots newest first. limit is capped by scoring.history_limit.
func (s *Service) History(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, limit int) ([]*domain.EntityScoreSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "assessment.History")
	defer span.End()

	if capped := s.cfg.HistoryLimit; capped > 0 && (limit <= 0 || limit > capped) {
		limit = capped
	}

	history, err := s.repo.History(ctx, entityType, entityID, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load history: %w", err)
	}
	if history == nil {
		history = []*domain.EntityScoreSnapshot{}
	}
	return history, nil
}

// QuoteAdvance prices an advance from the employee's effective score.
// An employee without a score is quoted at the neutral score.
func (s *Service) QuoteAdvance(ctx context.Context, req *domain.AdvanceQuoteRequest) (quote *domain.AdvanceQuote, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.QuoteAdvance",
		trace.WithAttributes(attribute.String("employee.id", req.EmployeeID.String())))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	score, scored := scoring.DefaultFactorScore, false
	current, err := s.Current(ctx, domain.EntityTypeEmployee, req.EmployeeID)
	switch {
	case err == nil:
		score, scored = current.RiskScore, true
	case !errors.Is(err, domain.ErrSnapshotNotFound):
		return nil, err
	}

	feePct, err := scoring.FeePercentage(score)
	if err != nil {
		return nil, err
	}
	fee, net := scoring.AdvanceFee(req.Amount, feePct)

	quote = &domain.AdvanceQuote{
		EmployeeID:    req.EmployeeID,
		Amount:        req.Amount,
		RiskScore:     score,
		Rating:        scoring.Classify(score).Rating,
		FeePercentage: feePct,
		FeeAmount:     fee,
		NetAmount:     net,
		Scored:        scored,
	}

	s.log.WithContext(ctx).AdvanceQuoted(req.EmployeeID.String(), req.Amount.StringFixed(2), feePct, scored)
	return quote, nil
}

// cascade re-blends every employee whose current snapshot references the
// employer. Failures are logged and counted; they never fail the caller.
// Employees whose current score is an admin override are left alone.
func (s *Service) cascade(ctx context.Context, employerID uuid.UUID, employerScore float64) *CascadeSummary {
	start := time.Now()
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "assessment.cascade",
		trace.WithAttributes(attribute.String("employer.id", employerID.String())))
	defer span.End()

	log := s.log.WithContext(ctx)
	summary := &CascadeSummary{}

	employees, err := s.repo.LatestEmployeesByEmployer(ctx, employerID)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("cascade lookup failed", logger.StringField("employer_id", employerID.String()), logger.ErrorField(err))
		summary.Error = err.Error()
		return summary
	}

	var updated, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if workers := s.cfg.CascadeWorkers; workers > 0 {
		g.SetLimit(workers)
	}

	log.Debug("cascade started",
		logger.StringField("employer_id", employerID.String()),
		logger.IntField("employees", len(employees)),
		logger.Float64Field("employer_score", employerScore))

	for _, employee := range employees {
		if employee.Source == domain.SourceOverride {
			skipped.Add(1)
			s.metrics.CascadeEmployees.WithLabelValues("skipped").Inc()
			continue
		}

		g.Go(func() error {
			done, err := s.reblend(gctx, employee, employerScore)
			switch {
			case err != nil:
				failed.Add(1)
				s.metrics.CascadeEmployees.WithLabelValues("failed").Inc()
				log.WithEntity(string(domain.EntityTypeEmployee), employee.EntityID.String()).
					Warn("cascade reblend failed", logger.ErrorField(err))
			case !done:
				skipped.Add(1)
				s.metrics.CascadeEmployees.WithLabelValues("skipped").Inc()
			default:
				updated.Add(1)
				s.metrics.CascadeEmployees.WithLabelValues("updated").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Updated = int(updated.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = int(skipped.Load())
	summary.Duration = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("cascade.updated", summary.Updated),
		attribute.Int("cascade.failed", summary.Failed),
	)
	log.CascadeCompleted(employerID.String(), summary.Updated, summary.Failed, time.Since(start))
	return summary
}

// reblend re-reads the employee's current snapshot and re-blends it with the
// new employer score. It reports false when the employee changed since the
// cascade listed it: a newer score, an override or a different employer.
func (s *Service) reblend(ctx context.Context, listed *domain.EntityScoreSnapshot, employerScore float64) (bool, error) {
	current, err := s.repo.Latest(ctx, domain.EntityTypeEmployee, listed.EntityID)
	if err != nil {
		return false, fmt.Errorf("load employee score: %w", err)
	}
	if current.ID != listed.ID || current.Source == domain.SourceOverride {
		return false, nil
	}

	res, err := s.engine.Reblend(current.CompositeScore, &employerScore)
	if err != nil {
		return false, err
	}

	snap := s.newSnapshot(domain.EntityTypeEmployee, current.EntityID, current.FactorScores, res, domain.SourceCascade)
	snap.CategoryScores = current.CategoryScores
	snap.EmployerID = current.EmployerID
	snap.LastVerifiedAt = current.LastVerifiedAt
	if err := s.store(ctx, snap); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) rescore(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID, employerID *uuid.UUID, factors domain.FactorScores) (*domain.EntityScoreSnapshot, error) {
	var employerScore *float64
	if entityType == domain.EntityTypeEmployee && employerID != nil {
		var err error
		if employerScore, err = s.employerScore(ctx, *employerID); err != nil {
			return nil, err
		}
	}

	res, err := s.engine.Score(entityType, factors, employerScore)
	if err != nil {
		return nil, err
	}
	return s.newSnapshot(entityType, entityID, factors, res, domain.SourceOverride), nil
}

// manualScore keeps the previous breakdown for audit and replaces only the
// effective score and what derives from it.
func (s *Service) manualScore(entityType domain.EntityType, entityID uuid.UUID, previous *domain.EntityScoreSnapshot, score float64) (*domain.EntityScoreSnapshot, error) {
	feePct, err := scoring.FeePercentage(score)
	if err != nil {
		return nil, err
	}

	snap := &domain.EntityScoreSnapshot{
		ID:            uuid.New(),
		EntityID:      entityID,
		EntityType:    entityType,
		RiskScore:     score,
		Rating:        scoring.Classify(score).Rating,
		FeePercentage: feePct,
		SchemaVersion: scoring.SchemaVersion,
		ComputedAt:    s.now(),
	}
	if previous != nil {
		snap.FactorScores = previous.FactorScores.Clone()
		snap.CategoryScores = previous.CategoryScores
		snap.CompositeScore = previous.CompositeScore
		snap.EmployerCompositeScore = previous.EmployerCompositeScore
		snap.NetWeightedScore = previous.NetWeightedScore
	}
	return snap, nil
}

// employerScore returns the employer's effective score, or nil if it was never scored
func (s *Service) employerScore(ctx context.Context, employerID uuid.UUID) (*float64, error) {
	employer, err := s.Current(ctx, domain.EntityTypeEmployer, employerID)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load employer score: %w", err)
	}
	score := employer.RiskScore
	return &score, nil
}

func (s *Service) newSnapshot(entityType domain.EntityType, entityID uuid.UUID, factors domain.FactorScores, res *scoring.Result, source domain.ScoreSource) *domain.EntityScoreSnapshot {
	return &domain.EntityScoreSnapshot{
		ID:                     uuid.New(),
		EntityID:               entityID,
		EntityType:             entityType,
		FactorScores:           factors.Clone(),
		CategoryScores:         res.CategoryScores,
		CompositeScore:         res.CompositeScore,
		EmployerCompositeScore: res.EmployerCompositeScore,
		NetWeightedScore:       res.NetWeightedScore,
		RiskScore:              res.FinalScore,
		Rating:                 res.Classification.Rating,
		FeePercentage:          res.FeePercentage,
		SchemaVersion:          res.SchemaVersion,
		Source:                 source,
		ComputedAt:             s.now(),
	}
}

// store persists a snapshot, then refreshes the cache and publishes the
// event. Only the repository write can fail the operation.
func (s *Service) store(ctx context.Context, snap *domain.EntityScoreSnapshot) error {
	if err := s.repo.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	log := s.log.WithContext(ctx)
	s.metrics.ObserveSnapshot(string(snap.EntityType), string(snap.Source), string(snap.Rating))
	log.ScoreComputed(string(snap.EntityType), snap.EntityID.String(), string(snap.Source), snap.RiskScore, string(snap.Rating), snap.FeePercentage)

	s.cacheSnapshot(ctx, snap)

	if err := s.publisher.Publish(ctx, snap); err != nil {
		s.metrics.EventsPublished.WithLabelValues("failed").Inc()
		log.PublishFailure(s.publisher.Topic(), snap.EntityID.String(), err)
	} else {
		s.metrics.EventsPublished.WithLabelValues("ok").Inc()
	}
	return nil
}

// cacheSnapshot makes snap the cached current score. When the write fails the
// key is evicted so readers fall back to the repository instead of an older entry.
func (s *Service) cacheSnapshot(ctx context.Context, snap *domain.EntityScoreSnapshot) {
	if s.cache == nil {
		return
	}
	key := cache.Key(snap.EntityType, snap.EntityID)
	err := s.cache.Set(ctx, snap)
	if err == nil {
		return
	}

	log := s.log.WithContext(ctx)
	log.CacheFailure("set", key, err)
	if err := s.cache.Delete(ctx, snap.EntityType, snap.EntityID); err != nil {
		s.metrics.CacheRequests.WithLabelValues("evict_failed").Inc()
		log.CacheFailure("delete", key, err)
	}
}

// withIndustry fills sector_exposure.industry_risk from the industry table
// when the admin left it unrated. Unknown industries are ignored.
func withIndustry(factors domain.FactorScores, industry string) domain.FactorScores {
	out := factors.Clone()
	if industry == "" {
		return out
	}
	score, ok := scoring.IndustryRiskScore(strings.ToLower(strings.TrimSpace(industry)))
	if !ok {
		return out
	}
	if out == nil {
		out = domain.FactorScores{}
	}
	sector := out["sector_exposure"]
	if sector == nil {
		sector = map[string]float64{}
		out["sector_exposure"] = sector
	}
	if _, rated := sector["industry_risk"]; !rated {
		sector["industry_risk"] = score
	}
	return out
}
