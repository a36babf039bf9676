package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/model"
)

func TestStoreKeepsWindowsSorted(t *testing.T) {
	s := NewStore(10)
	s.Update("band-1", []model.DeviceWindow{
		{WindowSec: 3600, Samples: 30},
		{WindowSec: 60, Samples: 2},
	})
	s.Update("band-1", []model.DeviceWindow{{WindowSec: 60, Samples: 3}})

	got, updated, ok := s.Get("band-1")
	require.True(t, ok)
	assert.False(t, updated.IsZero())
	require.Len(t, got, 2)
	assert.Equal(t, 60, got[0].WindowSec)
	assert.Equal(t, 3, got[0].Samples)
	assert.Equal(t, 3600, got[1].WindowSec)

	_, _, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStoreEvictsLeastRecentlyUpdated(t *testing.T) {
	s := NewStore(2)
	for i := 0; i < 3; i++ {
		s.Update(fmt.Sprintf("d%d", i), []model.DeviceWindow{{WindowSec: 60}})
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 2, s.Len())
	_, _, ok := s.Get("d0")
	assert.False(t, ok)
	assert.Contains(t, s.GetAll(), "d2")
}

func TestStoreIgnoresEmptyDeviceAndClears(t *testing.T) {
	s := NewStore(0)
	s.Update("", []model.DeviceWindow{{WindowSec: 60}})
	assert.Equal(t, 0, s.Len())
	s.Update("x", []model.DeviceWindow{{WindowSec: 60}})
	s.Clear()
	assert.Empty(t, s.GetAll())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{model.MissingField("hour"), "validation"},
		{model.UnknownCategory("season", "autumn"), "unknown_category"},
		{model.SchemaMismatch("width %d", 3), "feature_schema_mismatch"},
		{fmt.Errorf("load: %w", model.ErrModelUnavailable), "model_unavailable"},
		{model.ZoneInvalid("z", "bad"), "zone_geometry_invalid"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), tt.err.Error())
	}
}
