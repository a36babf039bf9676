package breaker

import (
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeguard/internal/config"
)

var errDown = errors.New("broker down")

func TestBreakerTripsAndRecovers(t *testing.T) {
	b := New("test-recover", config.BreakerConfig{MaxRequests: 1, Timeout: 20 * time.Millisecond, FailureThreshold: 2}, nil)
	fail := func() error { return errDown }

	assert.ErrorIs(t, b.Do(fail), errDown)
	assert.Equal(t, "closed", b.State())
	assert.ErrorIs(t, b.Do(fail), errDown)
	assert.Equal(t, "open", b.State())

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, calls)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "half-open", b.State())
	require.NoError(t, b.Do(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerDefaultThreshold(t *testing.T) {
	b := New("test-default", config.BreakerConfig{Timeout: time.Hour}, nil)
	for i := 0; i < 4; i++ {
		_ = b.Do(func() error { return errDown })
	}
	assert.Equal(t, "closed", b.State())
	_ = b.Do(func() error { return errDown })
	assert.Equal(t, "open", b.State())
}
