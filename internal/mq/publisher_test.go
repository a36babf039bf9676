package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/breaker"
	"safeguard/internal/config"
	"safeguard/internal/model"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (m *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memWriter) Close() error { return nil }

func TestPublishKeysByDevice(t *testing.T) {
	scores, alerts := &memWriter{}, &memWriter{}
	p := NewPublisherWithWriters(scores, alerts, nil, nil)

	a := model.Assessment{ID: "a1", DeviceID: "band-3", Score: model.ScoreResult{SafetyScore: 55}}
	require.NoError(t, p.PublishAssessment(context.Background(), a))
	rec := model.AlertRecord{ID: "r1", DeviceID: "band-3", Alert: model.Alert{Type: "device_alert", Severity: model.SeverityMedium}}
	require.NoError(t, p.PublishAlert(context.Background(), rec))

	require.Len(t, scores.msgs, 1)
	assert.Equal(t, "band-3", string(scores.msgs[0].Key))
	got, err := ParseMessageJSON[model.Assessment](scores.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, 55, got.Score.SafetyScore)

	require.Len(t, alerts.msgs, 1)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(alerts.msgs[0].Value, &raw))
	assert.Equal(t, "device_alert", raw["type"])
	assert.Equal(t, "r1", raw["id"])
}

func TestPublisherBreakerFailsFast(t *testing.T) {
	down := &memWriter{err: errors.New("broker unreachable")}
	br := breaker.New("test-kafka", config.BreakerConfig{MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 2}, nil)
	p := NewPublisherWithWriters(down, down, br, nil)

	for i := 0; i < 2; i++ {
		assert.Error(t, p.PublishAssessment(context.Background(), model.Assessment{DeviceID: "d"}))
	}
	err := p.PublishAssessment(context.Background(), model.Assessment{DeviceID: "d"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
