package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return Wrap(zap.New(core), "test"), logs
}

func TestNew(t *testing.T) {
	l, err := New("ewa-risk-service", "production", false)
	require.NoError(t, err)
	assert.NotNil(t, l.Named("scoring"))
}

func TestWithContext(t *testing.T) {
	l, logs := observed()

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, ReviewerKey, "admin-7")
	l.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "admin-7", fields["reviewer_id"])
}

func TestDomainEvents(t *testing.T) {
	l, logs := observed()

	l.ScoreComputed("employer", "e-1", "computed", 3.5, "B", 4.4)
	l.ScoreOverridden("employee", "e-2", "admin", 2.1, 3.0, "docs verified")
	l.CascadeCompleted("e-1", 3, 1, time.Second)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "risk score computed", entries[0].Message)
	assert.Equal(t, 3.5, entries[0].ContextMap()["risk_score"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(1), entries[2].ContextMap()["failed"])
}
