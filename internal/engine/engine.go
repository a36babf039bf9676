package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"safeguard/internal/alerts"
	"safeguard/internal/config"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
)

// ErrDuplicate reports a redelivered sample inside the dedupe window.
var ErrDuplicate = errors.New("duplicate sample")

// Sink persists assessments and alerts for audit.
type Sink interface {
	SaveAssessment(ctx context.Context, a model.Assessment) error
	SaveAlert(ctx context.Context, rec model.AlertRecord) error
}

// Publisher fans results out to downstream consumers.
type Publisher interface {
	PublishAssessment(ctx context.Context, a model.Assessment) error
	PublishAlert(ctx context.Context, rec model.AlertRecord) error
}

type Engine struct {
	logger    *slog.Logger
	pipeline  *Pipeline
	metrics   *metrics.Store
	alerts    *alerts.Store
	sink      Sink
	publisher Publisher
	cfg       atomic.Value
	devices   map[string]*DeviceState
	mu        sync.Mutex
	started   time.Time
	cooldown  atomic.Pointer[Cooldown]
	deDupe    atomic.Pointer[DedupeCache]
}

// DeviceState holds the rolling windows of one device.
type DeviceState struct {
	mu      sync.Mutex
	id      string
	windows map[int]*WindowState
}

func NewEngine(cfg *config.Config, logger *slog.Logger, pipeline *Pipeline, metricsStore *metrics.Store, alertsStore *alerts.Store, sink Sink, publisher Publisher) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		logger:    logger,
		pipeline:  pipeline,
		metrics:   metricsStore,
		alerts:    alertsStore,
		sink:      sink,
		publisher: publisher,
		devices:   make(map[string]*DeviceState),
		started:   time.Now().UTC(),
	}
	e.cooldown.Store(NewCooldown())
	e.deDupe.Store(NewDedupeCache())
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) Pipeline() *Pipeline {
	return e.pipeline
}

// Start consumes in with cfg.Ingest.Workers goroutines. Samples are
// sharded by device so each device is processed in arrival order. The
// returned channel closes once every worker has drained.
func (e *Engine) Start(ctx context.Context, in <-chan model.TelemetrySample) <-chan struct{} {
	workers := e.config().Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	shards := make([]chan model.TelemetrySample, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan model.TelemetrySample, 64)
		wg.Add(1)
		go func(ch <-chan model.TelemetrySample) {
			defer wg.Done()
			for s := range ch {
				_, _ = e.ProcessSample(ctx, s)
			}
		}(shards[i])
	}
	done := make(chan struct{})
	go func() {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
			wg.Wait()
			close(done)
		}()
		for {
			select {
			case s, ok := <-in:
				if !ok {
					return
				}
				select {
				case shards[shardOf(s.DeviceID, workers)] <- s:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func shardOf(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

// ProcessSample scores one sample and records the outcome. Sink and
// publisher failures are logged and counted but never fail the call.
func (e *Engine) ProcessSample(ctx context.Context, s model.TelemetrySample) (model.Assessment, error) {
	cfg := e.config()
	now := time.Now().UTC()
	s.Timestamp = clampTimestamp(s.Timestamp, now, cfg.Detection.MaxClockSkew, cfg.Detection.MaxFutureSkew)
	if s.DeviceID == "" {
		s.DeviceID = cfg.Ingest.Parser.DefaultDeviceID
	}

	key, dup := e.isDuplicate(s, cfg.Detection.DedupeWindow)
	if dup {
		metrics.SamplesDuplicate.Inc()
		return model.Assessment{}, ErrDuplicate
	}

	start := time.Now()
	res, err := e.pipeline.Score(s)
	if err != nil {
		// A failed sample may be retried or redelivered.
		if key != "" {
			e.deDupe.Load().Forget(key)
		}
		metrics.RecordScoringError(err)
		lvl := slog.LevelWarn
		if errors.Is(err, model.ErrFeatureSchemaMismatch) {
			lvl = slog.LevelError
		}
		e.logger.Log(ctx, lvl, "scoring failed",
			"device_id", s.DeviceID,
			"source", s.Source,
			"error", err,
		)
		return model.Assessment{}, err
	}
	metrics.RecordScore(s.Source, res.Score.SafetyScore, time.Since(start))

	assessment := model.Assessment{
		ID:        uuid.NewString(),
		DeviceID:  s.DeviceID,
		SubjectID: s.SubjectID,
		Timestamp: s.Timestamp,
		Source:    s.Source,
		Score:     res.Score,
		Alerts:    res.Alerts,
	}

	records := make([]model.AlertRecord, 0, len(res.Alerts))
	for _, a := range res.Alerts {
		rec := model.AlertRecord{
			ID:        uuid.NewString(),
			Timestamp: s.Timestamp,
			DeviceID:  s.DeviceID,
			SubjectID: s.SubjectID,
			Alert:     a,
		}
		records = append(records, rec)
		if e.alerts != nil {
			e.alerts.Add(rec)
		}
		metrics.RecordAlert(a)
		e.logger.Warn("alert raised",
			"device_id", rec.DeviceID,
			"type", a.Type,
			"severity", a.Severity,
			"message", a.Message,
		)
	}

	e.updateWindows(cfg, s, res)
	e.persist(ctx, assessment, records)
	e.publish(ctx, cfg, assessment, records)
	return assessment, nil
}

func (e *Engine) updateWindows(cfg *config.Config, s model.TelemetrySample, res Result) {
	dev := e.getDevice(s.DeviceID, cfg)
	entry := ScoreEntry{
		Timestamp: s.Timestamp,
		Score:     res.Score.SafetyScore,
		Anomaly:   res.Anomaly.IsAnomaly,
		Alerts:    len(res.Alerts),
	}
	dev.mu.Lock()
	list := make([]model.DeviceWindow, 0, len(dev.windows))
	for _, window := range dev.sortedWindows() {
		window.Evict(s.Timestamp.Add(-window.duration))
		window.Add(entry)
		list = append(list, window.Summary())
	}
	dev.mu.Unlock()
	if e.metrics != nil && len(list) > 0 {
		e.metrics.Update(s.DeviceID, list)
	}
}

func (e *Engine) persist(ctx context.Context, a model.Assessment, records []model.AlertRecord) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveAssessment(ctx, a); err != nil {
		metrics.SinkErrors.WithLabelValues("storage").Inc()
		e.logger.Error("persist assessment failed", "device_id", a.DeviceID, "error", err)
	}
	for _, rec := range records {
		if err := e.sink.SaveAlert(ctx, rec); err != nil {
			metrics.SinkErrors.WithLabelValues("storage").Inc()
			e.logger.Error("persist alert failed", "device_id", rec.DeviceID, "type", rec.Type, "error", err)
		}
	}
}

// publish sends the assessment and every alert not suppressed by the
// per (device, type, severity) cooldown.
func (e *Engine) publish(ctx context.Context, cfg *config.Config, a model.Assessment, records []model.AlertRecord) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishAssessment(ctx, a); err != nil {
		metrics.SinkErrors.WithLabelValues("kafka").Inc()
		e.logger.Error("publish assessment failed", "device_id", a.DeviceID, "error", err)
	}
	cd := e.cooldown.Load()
	for _, rec := range records {
		key := rec.DeviceID + "|" + rec.Type + "|" + string(rec.Severity)
		if !cd.AllowKey(key, cfg.Detection.AlertCooldown) {
			continue
		}
		if err := e.publisher.PublishAlert(ctx, rec); err != nil {
			metrics.SinkErrors.WithLabelValues("kafka").Inc()
			e.logger.Error("publish alert failed", "device_id", rec.DeviceID, "type", rec.Type, "error", err)
		}
	}
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.devices = make(map[string]*DeviceState)
	e.mu.Unlock()
	e.cooldown.Store(NewCooldown())
	e.deDupe.Store(NewDedupeCache())
}

func (e *Engine) getDevice(deviceID string, cfg *config.Config) *DeviceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[deviceID]
	if !ok {
		d = &DeviceState{id: deviceID, windows: make(map[int]*WindowState)}
		e.devices[deviceID] = d
	}
	d.mu.Lock()
	for _, win := range cfg.Detection.Windows {
		sec := int(win.Seconds())
		if _, exists := d.windows[sec]; !exists {
			d.windows[sec] = NewWindowState(win)
		}
	}
	d.mu.Unlock()
	return d
}

func (d *DeviceState) sortedWindows() []*WindowState {
	keys := make([]int, 0, len(d.windows))
	for k := range d.windows {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]*WindowState, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.windows[k])
	}
	return out
}

// isDuplicate claims the sample's hash and returns it, or reports that it
// was already claimed inside the window. The key is empty when dedupe is off.
func (e *Engine) isDuplicate(s model.TelemetrySample, dedupeWindow time.Duration) (string, bool) {
	if dedupeWindow <= 0 {
		return "", false
	}
	key := hashSample(s)
	return key, e.deDupe.Load().Seen(key, time.Now().UTC(), dedupeWindow)
}

// hashSample keys a sample by device, timestamp and payload.
func hashSample(s model.TelemetrySample) string {
	h := sha256.New()
	h.Write([]byte(s.DeviceID))
	h.Write([]byte{'|'})
	h.Write([]byte(s.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	if payload, err := json.Marshal(s); err == nil {
		h.Write(payload)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}
