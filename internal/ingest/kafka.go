package ingest

import (
	"context"
	"log/slog"
	"time"

	"safeguard/internal/config"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
	"safeguard/internal/mq"
)

const sourceKafka = "kafka"

func StartKafka(ctx context.Context, cfg *config.Manager, emit *Emitter, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		logger.Info("kafka ingest disabled")
		return
	}
	logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	reader := mq.NewReader(current.Brokers, current.Topic, current.GroupID)
	parser := NewParser()
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka read error", "error", err)
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			emit.Line(ctx, parser, string(m.Value), sourceKafka)
		}
	}()
}

// ZoneApplier receives administrative zone changes.
type ZoneApplier interface {
	Apply(events ...model.ZoneEvent) error
	Len() int
}

// StartZoneFeed consumes zone add/update/remove events and folds each
// into the live index. Malformed or invalid events are logged and skipped.
func StartZoneFeed(ctx context.Context, cfg *config.Manager, zones ZoneApplier, logger *slog.Logger) {
	current := cfg.Get().Zones.Feed
	if !current.Enabled {
		logger.Info("zone feed disabled")
		return
	}
	logger.Info("zone feed enabled", "brokers", current.Brokers, "topic", current.Topic)
	reader := mq.NewReader(current.Brokers, current.Topic, current.GroupID)
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("zone feed read error", "error", err)
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			ev, err := mq.ParseMessageJSON[model.ZoneEvent](m)
			if err != nil {
				logger.Warn("zone feed decode error", "offset", m.Offset, "error", err)
				continue
			}
			if err := zones.Apply(ev); err != nil {
				logger.Warn("zone event rejected", "op", ev.Op, "zone_id", ev.Zone.ID, "error", err)
				continue
			}
			metrics.ZonesLoaded.Set(float64(zones.Len()))
		}
	}()
}
