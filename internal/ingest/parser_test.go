package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/config"
	"safeguard/internal/geofence"
	"safeguard/internal/model"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine(`device_id=band-3 speed_kmh=4.5 vitals.heart_rate=88 context.weather_risk="storm"`)
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "band-3", fields.Values["device_id"])
	assert.Equal(t, "4.5", fields.Values["speed_kmh"])
	assert.Equal(t, "88", fields.Values["vitals.heart_rate"])
	assert.Equal(t, "storm", fields.Values["context.weather_risk"])
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("timestamp,device_id,speed_kmh,battery_level")
	require.NoError(t, err)
	assert.Nil(t, fields, "header row yields no record")

	fields, err = p.ParseLine("2025-06-01T12:00:00Z,band-1,2.5,40")
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "band-1", fields.Values["device_id"])
	assert.Equal(t, "2.5", fields.Values["speed_kmh"])
	assert.Equal(t, "40", fields.Values["battery_level"])
}

func TestParseCSVWithoutHeader(t *testing.T) {
	_, err := NewParser().ParseLine("2025-06-01T12:00:00Z,band-1,2.5,40")
	assert.ErrorIs(t, err, errNoHeader)
}

func TestParseNestedJSON(t *testing.T) {
	p := NewParser()
	line := `{"Device_ID":"band-9","speed_kmh":1.25,"vitals":{"heart_rate":190},"context":{"has_guide":true,"meta":null}}`
	fields, err := p.ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, "band-9", fields.Values["device_id"])
	assert.Equal(t, "1.25", fields.Values["speed_kmh"])
	assert.Equal(t, "190", fields.Values["vitals.heart_rate"])
	assert.Equal(t, "true", fields.Values["context.has_guide"])
	assert.NotContains(t, fields.Values, "context.meta")
	assert.Equal(t, line, fields.Raw)
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := NewParser().ParseLine(`{"device_id":`)
	assert.Error(t, err)
	_, err = ParseJSONBytes([]byte(`[1,2]`))
	assert.ErrorIs(t, err, errNotObject)
}

func TestBlankLine(t *testing.T) {
	fields, err := NewParser().ParseLine("   ")
	assert.NoError(t, err)
	assert.Nil(t, fields)
}

func newTestEmitter(buffer int) (*Emitter, chan model.TelemetrySample) {
	ch := make(chan model.TelemetrySample, buffer)
	return NewEmitter(config.NewStaticManager(config.DefaultConfig()), ch, nil), ch
}

func TestEmitterLine(t *testing.T) {
	emit, ch := newTestEmitter(4)
	p := NewParser()
	emit.Line(context.Background(), p, `{"device_id":"band-2","vitals":{"heart_rate":150}}`, "tcp_stream")
	emit.Line(context.Background(), p, `{"device_id":"band-2","speed_kmh":"fast"}`, "tcp_stream")

	require.Len(t, ch, 1)
	s := <-ch
	assert.Equal(t, "band-2", s.DeviceID)
	assert.Equal(t, "tcp_stream", s.Source)
	require.NotNil(t, s.Vitals)
	assert.Equal(t, 150.0, s.Vitals.HeartRate)
}

func TestEmitterBackpressure(t *testing.T) {
	emit, ch := newTestEmitter(1)
	p := NewParser()
	fields, err := p.ParseLine(`{"device_id":"a"}`)
	require.NoError(t, err)
	require.NoError(t, emit.Emit(context.Background(), fields, "rest"))
	assert.ErrorIs(t, emit.Emit(context.Background(), fields, "rest"), ErrBackpressure)
	assert.Len(t, ch, 1)
}

func TestRESTBulk(t *testing.T) {
	emit, ch := newTestEmitter(8)
	srv := httptest.NewServer(NewRESTServer(emit, nil).Routes())
	defer srv.Close()

	body := `[{"device_id":"a","speed_kmh":2},{"device_id":"b","speed_kmh":"nope"},{"band_id":"c"}]`
	resp, err := http.Post(srv.URL+"/telemetry", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]int
	require.NoError(t, decodeResponse(resp, &out))
	assert.Equal(t, map[string]int{"accepted": 2, "failed": 1}, out)
	assert.Len(t, ch, 2)
}

func TestRESTRejectsInvalidBody(t *testing.T) {
	emit, _ := newTestEmitter(1)
	h := NewRESTServer(emit, nil).Routes()
	for _, body := range []string{"", "not json", `{"speed_kmh":"x"}`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telemetry", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func decodeResponse(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

type fakeZoneLoader struct {
	zones []model.RiskZone
	err   error
}

func (f fakeZoneLoader) LoadZones(context.Context) ([]model.RiskZone, error) {
	return f.zones, f.err
}

const zonesYAML = `
zones:
  - id: lake
    name: Lake shore
    type: weather
    risk_level: 2
    geometry:
      kind: circle
      center: {lat: 10, lon: 10}
      radius_km: 1
  - id: quarry
    name: Quarry
    type: restricted
    risk_level: 3
    geometry:
      kind: circle
      center: {lat: 11, lon: 11}
      radius_km: 1
`

func TestZoneRefresherMergesFileAndStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o600))

	cfg := config.DefaultConfig()
	cfg.Zones.File = path
	cfg.Zones.StorageSource = true
	cfg.Storage.Enabled = true

	fromDB := model.RiskZone{
		ID: "quarry", Name: "Quarry (closed)", Type: model.ZoneRestricted, RiskLevel: 5, Active: true,
		Geometry: model.Geometry{Kind: model.GeometryCircle, Center: model.Point{Lat: 11, Lon: 11}, RadiusKm: 2},
	}
	ev := geofence.NewEvaluator(nil)
	r := NewZoneRefresher(config.NewStaticManager(cfg), fakeZoneLoader{zones: []model.RiskZone{fromDB}}, ev, nil)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, 2, ev.Len())
	z, ok := ev.Zone("quarry")
	require.True(t, ok)
	assert.Equal(t, 5, z.RiskLevel)
}

func TestZoneRefresherKeepsIndexOnError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Zones.File = filepath.Join(t.TempDir(), "missing.yaml")
	ev := geofence.NewEvaluator(nil)
	require.NoError(t, ev.Replace([]model.RiskZone{{
		ID: "keep", Name: "Keep", Type: model.ZoneWildlife, RiskLevel: 1, Active: true,
		Geometry: model.Geometry{Kind: model.GeometryCircle, Center: model.Point{Lat: 1, Lon: 1}, RadiusKm: 1},
	}}))

	r := NewZoneRefresher(config.NewStaticManager(cfg), nil, ev, nil)
	assert.Error(t, r.Refresh(context.Background()))
	assert.Equal(t, 1, ev.Len())
}

func circleZone(id string, typ model.ZoneType, lat, lon float64) model.RiskZone {
	return model.RiskZone{
		ID: id, Name: id, Type: typ, RiskLevel: 3, Active: true,
		Geometry: model.Geometry{Kind: model.GeometryCircle, Center: model.Point{Lat: lat, Lon: lon}, RadiusKm: 1},
	}
}

func TestZoneFeedEventsSurviveRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o600))
	cfg := config.DefaultConfig()
	cfg.Zones.File = path

	ev := geofence.NewEvaluator(nil)
	r := NewZoneRefresher(config.NewStaticManager(cfg), nil, ev, nil)
	require.NoError(t, r.Refresh(context.Background()))
	require.Len(t, ev.Violations(10, 10), 1)

	require.NoError(t, r.Apply(
		model.ZoneEvent{Op: model.ZoneDeactivate, Zone: model.RiskZone{ID: "lake"}},
		model.ZoneEvent{Op: model.ZoneUpsert, Zone: circleZone("cliff", model.ZoneWeather, 20, 20)},
		model.ZoneEvent{Op: model.ZoneDelete, Zone: model.RiskZone{ID: "quarry"}},
	))
	check := func() {
		assert.Empty(t, ev.Violations(10, 10))
		assert.Len(t, ev.Violations(20, 20), 1)
		assert.Empty(t, ev.Violations(11, 11))
		assert.Equal(t, 2, ev.Len())
	}
	check()

	require.NoError(t, r.Refresh(context.Background()))
	check()
}

func TestZoneFeedDeactivateAfterUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o600))
	cfg := config.DefaultConfig()
	cfg.Zones.File = path

	ev := geofence.NewEvaluator(nil)
	r := NewZoneRefresher(config.NewStaticManager(cfg), nil, ev, nil)
	require.NoError(t, r.Refresh(context.Background()))

	require.NoError(t, r.Apply(model.ZoneEvent{Op: model.ZoneUpsert, Zone: circleZone("cliff", model.ZoneWeather, 20, 20)}))
	require.NoError(t, r.Apply(model.ZoneEvent{Op: model.ZoneDeactivate, Zone: model.RiskZone{ID: "cliff"}}))
	require.NoError(t, r.Refresh(context.Background()))

	z, ok := ev.Zone("cliff")
	require.True(t, ok)
	assert.False(t, z.Active)
	assert.Empty(t, ev.Violations(20, 20))
}

func TestZoneFeedRejectedEventNotRemembered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o600))
	cfg := config.DefaultConfig()
	cfg.Zones.File = path

	ev := geofence.NewEvaluator(nil)
	r := NewZoneRefresher(config.NewStaticManager(cfg), nil, ev, nil)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Error(t, r.Apply(model.ZoneEvent{Op: model.ZoneDeactivate, Zone: model.RiskZone{ID: "nowhere"}}))
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 2, ev.Len())
}

func TestZoneReplacementSupersedesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o600))
	cfg := config.DefaultConfig()
	cfg.Zones.File = path

	ev := geofence.NewEvaluator(nil)
	r := NewZoneRefresher(config.NewStaticManager(cfg), nil, ev, nil)
	require.NoError(t, r.Refresh(context.Background()))
	require.NoError(t, r.Apply(model.ZoneEvent{Op: model.ZoneUpsert, Zone: circleZone("cliff", model.ZoneWeather, 20, 20)}))

	require.NoError(t, r.Replace([]model.RiskZone{circleZone("border", model.ZoneRestricted, 30, 30)}))
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, 1, ev.Len())
	_, ok := ev.Zone("border")
	assert.True(t, ok)
	_, ok = ev.Zone("cliff")
	assert.False(t, ok)
}

func TestZoneReplacementReadsBackFromTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o600))
	cfg := config.DefaultConfig()
	cfg.Zones.File = path
	cfg.Zones.StorageSource = true
	cfg.Storage.Enabled = true

	table := []model.RiskZone{circleZone("border", model.ZoneRestricted, 30, 30), circleZone("marsh", model.ZoneWildlife, 40, 40)}
	ev := geofence.NewEvaluator(nil)
	r := NewZoneRefresher(config.NewStaticManager(cfg), fakeZoneLoader{zones: table}, ev, nil)
	require.NoError(t, r.Replace(table[:1]))
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, 2, ev.Len())
	_, ok := ev.Zone("lake")
	assert.False(t, ok, "file zones stay out once the set was replaced")
}
