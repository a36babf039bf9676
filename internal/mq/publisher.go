package mq

import (
	"context"
	"errors"
	"log/slog"

	"safeguard/internal/breaker"
	"safeguard/internal/config"
	"safeguard/internal/model"
)

// Publisher writes assessments and alerts to their topics, keyed by
// device id. Writes go through a circuit breaker so a down cluster fails
// fast instead of stalling the workers.
type Publisher struct {
	scores  MessageWriter
	alerts  MessageWriter
	breaker *breaker.Breaker
	logger  *slog.Logger
}

func NewPublisher(cfg config.OutputKafkaConfig, br config.BreakerConfig, logger *slog.Logger) *Publisher {
	return NewPublisherWithWriters(
		NewWriter(cfg.Brokers, cfg.ScoresTopic),
		NewWriter(cfg.Brokers, cfg.AlertsTopic),
		breaker.New("kafka-output", br, logger),
		logger,
	)
}

func NewPublisherWithWriters(scores, alerts MessageWriter, br *breaker.Breaker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{scores: scores, alerts: alerts, breaker: br, logger: logger}
}

func (p *Publisher) PublishAssessment(ctx context.Context, a model.Assessment) error {
	return p.write(ctx, p.scores, a.DeviceID, a)
}

func (p *Publisher) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	return p.write(ctx, p.alerts, rec.DeviceID, rec)
}

func (p *Publisher) write(ctx context.Context, w MessageWriter, key string, payload any) error {
	msg, err := EncodeJSON(key, payload)
	if err != nil {
		return err
	}
	send := func() error { return w.WriteMessages(ctx, msg) }
	if p.breaker == nil {
		return send()
	}
	return p.breaker.Do(send)
}

func (p *Publisher) Close() error {
	return errors.Join(p.scores.Close(), p.alerts.Close())
}
