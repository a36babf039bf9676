// Package ingest feeds telemetry into the engine channel from REST, Kafka,
// TCP line streams and tailed files, and keeps the geofence index in sync
// with its zone sources.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"safeguard/internal/config"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
	"safeguard/internal/normalize"
)

var (
	ErrBackpressure = errors.New("sample channel full")
	errNoHeader     = errors.New("csv row before header")
)

// Emitter normalizes parsed records and hands them to the engine.
type Emitter struct {
	cfg    *config.Manager
	out    chan<- model.TelemetrySample
	logger *slog.Logger
}

func NewEmitter(cfg *config.Manager, out chan<- model.TelemetrySample, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{cfg: cfg, out: out, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, fields *normalize.Fields, source string) error {
	s, err := normalize.Normalize(*fields, e.cfg.Get())
	if err != nil {
		metrics.SamplesDropped.WithLabelValues(source, "invalid").Inc()
		e.logger.Warn("normalize error", "source", source, "error", err)
		return err
	}
	s.Source = source
	if !SendNonBlocking(ctx, e.out, s, e.logger) {
		return ErrBackpressure
	}
	return nil
}

// Line parses and emits one raw line. Blank lines and CSV headers are
// skipped silently.
func (e *Emitter) Line(ctx context.Context, p *Parser, line, source string) {
	fields, err := p.ParseLine(line)
	if err != nil {
		metrics.SamplesDropped.WithLabelValues(source, "parse").Inc()
		e.logger.Debug("unparseable line", "source", source, "error", err)
		return
	}
	if fields == nil {
		return
	}
	_ = e.Emit(ctx, fields, source)
}

func SendNonBlocking(ctx context.Context, out chan<- model.TelemetrySample, s model.TelemetrySample, logger *slog.Logger) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.SamplesDropped.WithLabelValues(s.Source, "backpressure").Inc()
		if logger != nil {
			logger.Warn("sample channel full, dropping sample", "device_id", s.DeviceID, "timestamp", s.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
