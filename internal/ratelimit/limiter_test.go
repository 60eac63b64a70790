package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/parkway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestDisabledLimiterAllows(t *testing.T) {
	l, err := NewLimiter(fxtest.NewLifecycle(t), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.False(t, l.Enabled())

	ctx := context.Background()
	res, err := l.AllowBooking(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.AllowSensorReport(ctx, "2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := l.TryLockBooking(ctx, "1", "3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.ReleaseBooking(ctx, "1", "3", token))
}

func TestNewLimiterValidatesConfig(t *testing.T) {
	cases := map[string]config.RateLimitConfig{
		"missing redis": {Enabled: true, BookingCreateRate: 1, BookingCreateBurst: 1, SensorReportRate: 1, SensorReportBurst: 1},
		"booking rate":  {Enabled: true, RedisAddr: "localhost:6379", SensorReportRate: 1, SensorReportBurst: 1},
		"sensor burst":  {Enabled: true, RedisAddr: "localhost:6379", BookingCreateRate: 1, BookingCreateBurst: 1, SensorReportRate: 1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLimiter(fxtest.NewLifecycle(t), config.Config{RateLimit: cfg})
			assert.Error(t, err)
		})
	}
}

func TestDecodeResult(t *testing.T) {
	allowed := decodeResult([]interface{}{int64(1), "3.5", int64(1_700_000_000_000)}, 2, 5)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 3, allowed.Remaining)
	assert.Equal(t, 5, allowed.Limit)
	assert.Zero(t, allowed.RetryAfter)

	denied := decodeResult([]interface{}{int64(0), "0.5", int64(1_700_000_000_000)}, 2, 5)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 250*time.Millisecond, denied.RetryAfter)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).Add(250*time.Millisecond), denied.ResetTime)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, bucketTTL(1, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}
