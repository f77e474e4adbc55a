package throttle

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/harvester/pkg/transport"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return r.err
}

func (r *recordingSleeper) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newTestController(cfg Config, sleeper *recordingSleeper) *Controller {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewController(cfg, logger, WithSleeper(sleeper.Sleep))
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(Config{}, zerolog.Nop())
	cfg := c.Config()

	assert.Equal(t, DefaultMaxCostPoints, cfg.MaxCostPoints)
	assert.Equal(t, DefaultLeakRate, cfg.LeakRate)
	assert.Equal(t, DefaultFallbackDelay, cfg.FallbackDelay)
	assert.Nil(t, c.limiter, "no limiter when RequestsPerSecond is 0")
}

func TestController_Delay(t *testing.T) {
	tests := []struct {
		name      string
		resp      *transport.Response
		wantWaits []time.Duration
	}{
		{
			name:      "throttled by cost",
			resp:      transport.NewResponse(http.StatusOK, costBody(200, 100), nil),
			wantWaits: []time.Duration{18 * time.Second},
		},
		{
			name:      "enough points",
			resp:      transport.NewResponse(http.StatusOK, costBody(10, 990), nil),
			wantWaits: nil,
		},
		{
			name:      "no cost data",
			resp:      transport.NewResponse(http.StatusOK, []byte(`{"orders":[]}`), nil),
			wantWaits: []time.Duration{DefaultFallbackDelay},
		},
		{
			name:      "nil response",
			resp:      nil,
			wantWaits: []time.Duration{DefaultFallbackDelay},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			c := newTestController(DefaultConfig(), sleeper)

			require.NoError(t, c.Delay(context.Background(), tt.resp))
			assert.Equal(t, tt.wantWaits, sleeper.Waits())
		})
	}
}

func TestController_Delay_CustomFallback(t *testing.T) {
	sleeper := &recordingSleeper{}
	c := newTestController(Config{FallbackDelay: 250 * time.Millisecond}, sleeper)

	require.NoError(t, c.Delay(context.Background(), nil))
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, sleeper.Waits())
}

func TestController_Delay_Cancelled(t *testing.T) {
	sleeper := &recordingSleeper{err: context.Canceled}
	c := newTestController(DefaultConfig(), sleeper)

	assert.ErrorIs(t, c.Delay(context.Background(), nil), context.Canceled)
}

func TestController_Admit(t *testing.T) {
	t.Run("pacing disabled", func(t *testing.T) {
		sleeper := &recordingSleeper{}
		c := newTestController(DefaultConfig(), sleeper)

		for i := 0; i < 5; i++ {
			require.NoError(t, c.Admit(context.Background()))
		}
		assert.Empty(t, sleeper.Waits())
	})

	t.Run("pacing delays second request", func(t *testing.T) {
		sleeper := &recordingSleeper{}
		cfg := DefaultConfig()
		cfg.RequestsPerSecond = 1
		c := newTestController(cfg, sleeper)

		require.NoError(t, c.Admit(context.Background()))
		require.NoError(t, c.Admit(context.Background()))

		got := sleeper.Waits()
		require.Len(t, got, 1)
		assert.Positive(t, got[0])
		assert.LessOrEqual(t, got[0], time.Second)
	})

	t.Run("pacing interrupted", func(t *testing.T) {
		sleeper := &recordingSleeper{err: context.DeadlineExceeded}
		cfg := DefaultConfig()
		cfg.RequestsPerSecond = 1
		c := newTestController(cfg, sleeper)

		_ = c.Admit(context.Background())
		assert.ErrorIs(t, c.Admit(context.Background()), context.DeadlineExceeded)
	})
}
