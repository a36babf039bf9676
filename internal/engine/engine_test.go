package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/alerts"
	"safeguard/internal/config"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
	"safeguard/internal/registry"
	"safeguard/internal/training"
)

var (
	modelsOnce sync.Once
	models     *registry.Models
	modelsErr  error
)

func trainedModels(t *testing.T) *registry.Models {
	t.Helper()
	modelsOnce.Do(func() {
		opts := training.SmallOptions()
		am, err := training.TrainAnomaly(opts)
		if err != nil {
			modelsErr = err
			return
		}
		rm, err := training.TrainRisk(opts)
		if err != nil {
			modelsErr = err
			return
		}
		models, modelsErr = registry.FromModels(am, rm, 1)
	})
	require.NoError(t, modelsErr)
	return models
}

type staticModels struct {
	m   *registry.Models
	err error
}

func (s staticModels) Current() (*registry.Models, error) { return s.m, s.err }

type fixedZones struct {
	mu    sync.Mutex
	zones []model.RiskZone
	calls int
}

func (f *fixedZones) Violations(lat, lon float64) []model.RiskZone {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.zones
}

type recorder struct {
	mu          sync.Mutex
	assessments []model.Assessment
	alerts      []model.AlertRecord
	err         error
}

func (r *recorder) SaveAssessment(_ context.Context, a model.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments = append(r.assessments, a)
	return r.err
}

func (r *recorder) SaveAlert(_ context.Context, rec model.AlertRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, rec)
	return r.err
}

func (r *recorder) PublishAssessment(ctx context.Context, a model.Assessment) error {
	return r.SaveAssessment(ctx, a)
}

func (r *recorder) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	return r.SaveAlert(ctx, rec)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assessments), len(r.alerts)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.Windows = []time.Duration{time.Minute, 10 * time.Minute}
	cfg.Detection.AlertCooldown = 0
	cfg.Detection.DedupeWindow = 0
	cfg.Ingest.Workers = 3
	return cfg
}

func walkSample(deviceID string, ts time.Time) model.TelemetrySample {
	return model.TelemetrySample{
		DeviceID:            deviceID,
		Timestamp:           ts,
		Hour:                12,
		SpeedKmh:            3,
		DistanceFromEntryKm: 4,
		BatteryLevel:        85,
		GPSAccuracyM:        10,
		RiskZoneDistanceKm:  4,
		DaysSinceEntry:      2,
		Vitals:              calmVitals(),
	}
}

func newEngineForTest(t *testing.T, cfg *config.Config, sink Sink, pub Publisher) *Engine {
	p := NewPipeline(staticModels{m: trainedModels(t)}, &fixedZones{})
	return NewEngine(cfg, nil, p, metrics.NewStore(100), alerts.NewStore(100), sink, pub)
}

func TestPipelineScoresSample(t *testing.T) {
	p := NewPipeline(staticModels{m: trainedModels(t)}, &fixedZones{})
	s := walkSample("dev-1", time.Now())
	s.Vitals.HeartRate = 190

	res, err := p.Score(s)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Score.SafetyScore, 0)
	assert.LessOrEqual(t, res.Score.SafetyScore, 100)
	assert.Len(t, res.Score.RiskProbabilities, 4)

	var sum float64
	for _, prob := range res.Score.RiskProbabilities {
		sum += prob
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	require.NotEmpty(t, res.Alerts)
	assert.Equal(t, AlertHealth, res.Alerts[0].Type)
	assert.Equal(t, model.SeverityCritical, res.Alerts[0].Severity)
}

func TestPipelineGeofenceNeedsLocation(t *testing.T) {
	zones := &fixedZones{zones: []model.RiskZone{{ID: "z1", Type: model.ZoneWildlife, RiskLevel: 4, Active: true}}}
	p := NewPipeline(staticModels{m: trainedModels(t)}, zones)

	s := walkSample("dev-1", time.Now())
	res, err := p.Score(s)
	require.NoError(t, err)
	assert.Zero(t, zones.calls)
	assert.Empty(t, res.Score.GeofenceViolations)

	s.HasLocation = true
	s.Latitude, s.Longitude = 28.6, 77.2
	res, err = p.Score(s)
	require.NoError(t, err)
	assert.Equal(t, 1, zones.calls)
	assert.Equal(t, []string{"z1"}, res.Score.GeofenceViolations)
	assert.True(t, res.Score.Factors.GeofenceViolation)
	assert.Contains(t, keys(res.Alerts), "geofence_alert/high")
}

func TestPipelineErrors(t *testing.T) {
	p := NewPipeline(registry.New(nil), nil)
	_, err := p.Score(walkSample("dev-1", time.Now()))
	assert.ErrorIs(t, err, model.ErrModelUnavailable)

	p = NewPipeline(staticModels{m: trainedModels(t)}, nil)
	s := walkSample("dev-1", time.Now())
	ctx := model.DefaultRiskContext()
	ctx.WeatherRisk = "hail"
	s.Context = &ctx
	_, err = p.Score(s)
	assert.ErrorIs(t, err, model.ErrUnknownCategory)
}

func TestPipelineIsDeterministic(t *testing.T) {
	p := NewPipeline(staticModels{m: trainedModels(t)}, nil)
	s := walkSample("dev-1", time.Now())
	a, err := p.Score(s)
	require.NoError(t, err)
	b, err := p.Score(s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProcessSampleRecordsOutcome(t *testing.T) {
	sink, pub := &recorder{}, &recorder{}
	eng := newEngineForTest(t, testConfig(), sink, pub)

	s := walkSample("dev-1", time.Now())
	s.Vitals.HeartRate = 190
	s.Source = "rest"
	a, err := eng.ProcessSample(context.Background(), s)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "dev-1", a.DeviceID)
	assert.Equal(t, "rest", a.Source)
	require.NotEmpty(t, a.Alerts)

	recs := eng.alerts.ForDevice("dev-1", 0)
	assert.Len(t, recs, len(a.Alerts))
	assert.NotEmpty(t, recs[0].ID)

	windows, _, ok := eng.metrics.Get("dev-1")
	require.True(t, ok)
	require.Len(t, windows, 2)
	assert.Equal(t, 60, windows[0].WindowSec)
	assert.Equal(t, 1, windows[0].Samples)
	assert.Equal(t, float64(a.Score.SafetyScore), windows[0].MeanScore)

	na, nal := sink.counts()
	assert.Equal(t, 1, na)
	assert.Equal(t, len(a.Alerts), nal)
	na, nal = pub.counts()
	assert.Equal(t, 1, na)
	assert.Equal(t, len(a.Alerts), nal)
}

func TestMissingDeviceIDFallsBack(t *testing.T) {
	eng := newEngineForTest(t, testConfig(), nil, nil)
	a, err := eng.ProcessSample(context.Background(), walkSample("", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "unknown", a.DeviceID)
}

func TestDuplicateSampleSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.DedupeWindow = time.Minute
	sink := &recorder{}
	eng := newEngineForTest(t, cfg, sink, nil)

	s := walkSample("dev-1", time.Now())
	_, err := eng.ProcessSample(context.Background(), s)
	require.NoError(t, err)
	_, err = eng.ProcessSample(context.Background(), s)
	assert.ErrorIs(t, err, ErrDuplicate)

	s.Timestamp = s.Timestamp.Add(time.Second)
	_, err = eng.ProcessSample(context.Background(), s)
	require.NoError(t, err)

	na, _ := sink.counts()
	assert.Equal(t, 2, na)
}

func TestRetryAfterModelUnavailableIsScored(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.DedupeWindow = 5 * time.Second
	reg := registry.New(nil)
	sink := &recorder{}
	eng := NewEngine(cfg, nil, NewPipeline(reg, nil), metrics.NewStore(10), alerts.NewStore(10), sink, nil)

	s := walkSample("dev-1", time.Now())
	_, err := eng.ProcessSample(context.Background(), s)
	require.ErrorIs(t, err, model.ErrModelUnavailable)

	require.NoError(t, reg.Swap(trainedModels(t)))
	a, err := eng.ProcessSample(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", a.DeviceID)

	_, err = eng.ProcessSample(context.Background(), s)
	assert.ErrorIs(t, err, ErrDuplicate)

	na, _ := sink.counts()
	assert.Equal(t, 1, na)
}

func TestCooldownThrottlesPublishingOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.AlertCooldown = time.Hour
	sink, pub := &recorder{}, &recorder{}
	eng := newEngineForTest(t, cfg, sink, pub)

	base := time.Now()
	for i := 0; i < 3; i++ {
		s := walkSample("dev-1", base.Add(time.Duration(i)*time.Second))
		s.Device = &model.DeviceStatus{BatteryLevel: 5}
		a, err := eng.ProcessSample(context.Background(), s)
		require.NoError(t, err)
		assert.Contains(t, keys(a.Alerts), "device_alert/medium")
	}

	_, stored := sink.counts()
	_, published := pub.counts()
	assert.Greater(t, stored, published)

	device := 0
	for _, rec := range eng.alerts.ForDevice("dev-1", 0) {
		if rec.Type == AlertDevice {
			device++
		}
	}
	assert.Equal(t, 3, device)
}

func TestSinkFailureDoesNotFailScoring(t *testing.T) {
	sink := &recorder{err: errors.New("disk full")}
	eng := newEngineForTest(t, testConfig(), sink, sink)
	_, err := eng.ProcessSample(context.Background(), walkSample("dev-1", time.Now()))
	assert.NoError(t, err)
}

func TestScoringErrorReturned(t *testing.T) {
	p := NewPipeline(registry.New(nil), nil)
	eng := NewEngine(testConfig(), nil, p, metrics.NewStore(10), alerts.NewStore(10), nil, nil)
	_, err := eng.ProcessSample(context.Background(), walkSample("dev-1", time.Now()))
	assert.ErrorIs(t, err, model.ErrModelUnavailable)
	assert.Zero(t, eng.alerts.Len())
}

func TestStartDrainsChannel(t *testing.T) {
	sink := &recorder{}
	eng := newEngineForTest(t, testConfig(), sink, nil)
	in := make(chan model.TelemetrySample)
	done := eng.Start(context.Background(), in)

	base := time.Now()
	for i := 0; i < 12; i++ {
		dev := []string{"a", "b", "c"}[i%3]
		in <- walkSample(dev, base.Add(time.Duration(i)*time.Second))
	}
	close(in)

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("engine did not drain")
	}
	na, _ := sink.counts()
	assert.Equal(t, 12, na)
	assert.Equal(t, 3, eng.metrics.Len())
	for _, dev := range []string{"a", "b", "c"} {
		w, _, ok := eng.metrics.Get(dev)
		require.True(t, ok)
		assert.Equal(t, 4, w[0].Samples)
	}
}

func TestResetClearsDeviceState(t *testing.T) {
	eng := newEngineForTest(t, testConfig(), nil, nil)
	_, err := eng.ProcessSample(context.Background(), walkSample("dev-1", time.Now()))
	require.NoError(t, err)
	eng.Reset()
	eng.mu.Lock()
	assert.Empty(t, eng.devices)
	eng.mu.Unlock()
}

func TestWindowSummary(t *testing.T) {
	w := NewWindowState(time.Minute)
	base := time.Now()
	w.Add(ScoreEntry{Timestamp: base, Score: 90})
	w.Add(ScoreEntry{Timestamp: base.Add(30 * time.Second), Score: 40, Anomaly: true, Alerts: 2})
	w.Add(ScoreEntry{Timestamp: base.Add(50 * time.Second), Score: 80})

	sum := w.Summary()
	assert.Equal(t, 3, sum.Samples)
	assert.Equal(t, 1, sum.Anomalies)
	assert.Equal(t, 2, sum.Alerts)
	assert.Equal(t, 40, sum.MinScore)
	assert.InDelta(t, 70.0, sum.MeanScore, 1e-9)
	assert.InDelta(t, math.Sqrt((400.0+900.0+100.0)/3), sum.ScoreStdDev, 1e-9)

	now := base.Add(100 * time.Second)
	w.Evict(now.Add(-time.Minute))
	w.Add(ScoreEntry{Timestamp: now, Score: 100})
	sum = w.Summary()
	assert.Equal(t, 2, sum.Samples)
	assert.Equal(t, 0, sum.Anomalies)
	assert.Equal(t, 80, sum.MinScore)
	assert.InDelta(t, 0.0, sum.AnomalyRatio, 1e-9)

	empty := NewWindowState(time.Minute).Summary()
	assert.Equal(t, 60, empty.WindowSec)
	assert.Zero(t, empty.Samples)
}

func TestClampTimestamp(t *testing.T) {
	now := time.Now().UTC()
	assert.Equal(t, now, clampTimestamp(time.Time{}, now, time.Hour, time.Minute))
	assert.Equal(t, now, clampTimestamp(now.Add(-2*time.Hour), now, time.Hour, time.Minute))
	assert.Equal(t, now, clampTimestamp(now.Add(2*time.Minute), now, time.Hour, time.Minute))
	ok := now.Add(-30 * time.Minute)
	assert.Equal(t, ok, clampTimestamp(ok, now, time.Hour, time.Minute))
}

func TestDedupeCacheExpires(t *testing.T) {
	d := NewDedupeCache()
	now := time.Now()
	assert.False(t, d.Seen("k", now, time.Second))
	assert.True(t, d.Seen("k", now.Add(500*time.Millisecond), time.Second))
	assert.False(t, d.Seen("k", now.Add(2*time.Second), time.Second))
	assert.Equal(t, 1, d.Len())

	d.Forget("k")
	assert.Zero(t, d.Len())
	assert.False(t, d.Seen("k", now.Add(2*time.Second), time.Second))
}

func TestCooldownAllowKey(t *testing.T) {
	c := NewCooldown()
	now := time.Now()
	c.now = func() time.Time { return now }
	assert.True(t, c.AllowKey("k", time.Minute))
	assert.False(t, c.AllowKey("k", time.Minute))
	assert.True(t, c.AllowKey("other", time.Minute))
	now = now.Add(2 * time.Minute)
	assert.True(t, c.AllowKey("k", time.Minute))
	assert.True(t, c.AllowKey("k", 0))
}
