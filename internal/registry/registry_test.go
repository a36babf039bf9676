package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/anomaly"
	"safeguard/internal/artifact"
	"safeguard/internal/model"
	"safeguard/internal/risk"
	"safeguard/internal/training"
)

var (
	once     sync.Once
	anomalyM *anomaly.Model
	riskM    *risk.Model
	trainErr error
)

func trainedModels(t *testing.T) (*anomaly.Model, *risk.Model) {
	t.Helper()
	once.Do(func() {
		opts := training.SmallOptions()
		opts.AnomalySamples = 1000
		opts.AnomalyTrees = 20
		opts.RiskSamples = 500
		opts.RiskTrees = 10
		anomalyM, trainErr = training.TrainAnomaly(opts)
		if trainErr == nil {
			riskM, trainErr = training.TrainRisk(opts)
		}
	})
	require.NoError(t, trainErr)
	return anomalyM, riskM
}

func writeArtifacts(t *testing.T) (string, string) {
	t.Helper()
	am, rm := trainedModels(t)
	dir := t.TempDir()
	ap := filepath.Join(dir, "anomaly.gob")
	rp := filepath.Join(dir, "risk.gob")
	require.NoError(t, artifact.WriteFile(ap, am))
	require.NoError(t, artifact.WriteFile(rp, rm))
	return ap, rp
}

func TestUnavailableBeforeLoad(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Loaded())
	_, err := r.Current()
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))
}

func TestLoadFromDisk(t *testing.T) {
	ap, rp := writeArtifacts(t)
	r := New(nil)
	require.NoError(t, r.Load(ap, rp, 1))
	assert.True(t, r.Loaded())

	m, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, "anomaly.gob", m.AnomalyVersion.Name)
	assert.Equal(t, "test", m.AnomalyVersion.Version)
	assert.Len(t, m.AnomalyVersion.Checksum, 64)
	assert.NotEmpty(t, m.RiskVersion.Fingerprint)
	assert.NotNil(t, m.Anomaly)
	assert.NotNil(t, m.Risk)
}

func TestFailedLoadKeepsPrevious(t *testing.T) {
	ap, rp := writeArtifacts(t)
	r := New(nil)
	require.NoError(t, r.Load(ap, rp, 1))
	before, _ := r.Current()

	err := r.Load(filepath.Join(t.TempDir(), "missing.gob"), rp, 1)
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))

	corrupt := filepath.Join(t.TempDir(), "corrupt.gob")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a gob stream"), 0o644))
	assert.Error(t, r.Load(ap, corrupt, 1))

	after, err := r.Current()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestKindMismatchRejected(t *testing.T) {
	ap, rp := writeArtifacts(t)
	// swapped paths: a risk artifact decoded as an anomaly model
	_, err := LoadModels(rp, ap, 1)
	assert.Error(t, err)
}

func TestFingerprintTamperRejected(t *testing.T) {
	am, rm := trainedModels(t)
	bad := *am
	bad.Fingerprint = "0000"
	dir := t.TempDir()
	ap := filepath.Join(dir, "anomaly.gob")
	rp := filepath.Join(dir, "risk.gob")
	require.NoError(t, artifact.WriteFile(ap, &bad))
	require.NoError(t, artifact.WriteFile(rp, rm))

	_, err := LoadModels(ap, rp, 1)
	assert.True(t, errors.Is(err, model.ErrFeatureSchemaMismatch))
}

func TestSwapRejectsIncomplete(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.Swap(nil))
	assert.Error(t, r.Swap(&Models{}))
	assert.False(t, r.Loaded())

	am, rm := trainedModels(t)
	m, err := FromModels(am, rm, 2)
	require.NoError(t, err)
	require.NoError(t, r.Swap(m))
	assert.True(t, r.Loaded())
}
