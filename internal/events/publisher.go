package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/domain"
)

// EventTypeRiskScoreUpdated is set on every event this service emits
const EventTypeRiskScoreUpdated = "risk_score.updated"

// RiskScoreUpdated is published whenever a new snapshot becomes an entity's current score
type RiskScoreUpdated struct {
	EventID       uuid.UUID          `json:"event_id"`
	EventType     string             `json:"event_type"`
	SnapshotID    uuid.UUID          `json:"snapshot_id"`
	EntityID      uuid.UUID          `json:"entity_id"`
	EntityType    domain.EntityType  `json:"entity_type"`
	EmployerID    *uuid.UUID         `json:"employer_id,omitempty"`
	RiskScore     float64            `json:"risk_score"`
	Rating        domain.Rating      `json:"risk_rating"`
	FeePercentage float64            `json:"fee_percentage"`
	Source        domain.ScoreSource `json:"source"`
	SchemaVersion string             `json:"schema_version"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// NewRiskScoreUpdated builds the event for a stored snapshot
func NewRiskScoreUpdated(s *domain.EntityScoreSnapshot) RiskScoreUpdated {
	return RiskScoreUpdated{
		EventID:       uuid.New(),
		EventType:     EventTypeRiskScoreUpdated,
		SnapshotID:    s.ID,
		EntityID:      s.EntityID,
		EntityType:    s.EntityType,
		EmployerID:    s.EmployerID,
		RiskScore:     s.RiskScore,
		Rating:        s.Rating,
		FeePercentage: s.FeePercentage,
		Source:        s.Source,
		SchemaVersion: s.SchemaVersion,
		OccurredAt:    s.ComputedAt,
	}
}

// KafkaPublisher sends risk events through a sarama SyncProducer guarded by
// a circuit breaker, so a dead broker fails fast instead of stalling requests.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *gobreaker.CircuitBreaker
}

// NewKafkaProducer creates a sync producer from config
func NewKafkaProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher wraps a producer. The breaker opens after
// cfg.BreakerFailures consecutive failures and half-opens after cfg.BreakerTimeout.
func NewKafkaPublisher(producer sarama.SyncProducer, cfg *config.KafkaConfig) *KafkaPublisher {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kafka-" + cfg.RiskEventsTopic,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})

	return &KafkaPublisher{
		producer: producer,
		topic:    cfg.RiskEventsTopic,
		breaker:  breaker,
	}
}

// Topic returns the destination topic
func (p *KafkaPublisher) Topic() string {
	return p.topic
}

// Publish sends a RiskScoreUpdated event keyed by entity id
func (p *KafkaPublisher) Publish(ctx context.Context, s *domain.EntityScoreSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(NewRiskScoreUpdated(s))
	if err != nil {
		return fmt.Errorf("marshal risk event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(s.EntityID.String()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(EventTypeRiskScoreUpdated)},
			{Key: []byte("entity_type"), Value: []byte(s.EntityType)},
		},
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		_, _, err := p.producer.SendMessage(msg)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Noop discards events. Used when kafka.enabled is false.
type Noop struct{}

// Publish does nothing
func (Noop) Publish(context.Context, *domain.EntityScoreSnapshot) error { return nil }

// Topic returns an empty topic name
func (Noop) Topic() string { return "" }

// Close does nothing
func (Noop) Close() error { return nil }
