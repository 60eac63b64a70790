package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/parkway/internal/config"
	"go.uber.org/fx"
)

const (
	keyBookingCreate = "parkway:rl:booking:%s"
	keySensorReport  = "parkway:rl:sensor:%s"
	keyBookingLock   = "parkway:lock:booking:%s:%s"
)

// Limiter guards the write endpoints. A nil or disabled Limiter allows everything.
type Limiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	bookingRate  float64
	bookingBurst int
	sensorRate   float64
	sensorBurst  int
	lockTTL      time.Duration
}

func NewLimiter(lc fx.Lifecycle, cfg config.Config) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if err := validate(limitCfg); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(limitCfg.RedisAddr),
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return newLimiter(client, limitCfg), nil
}

func newLimiter(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	lockTTL := time.Duration(cfg.BookingLockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Limiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		bookingRate:  cfg.BookingCreateRate,
		bookingBurst: cfg.BookingCreateBurst,
		sensorRate:   cfg.SensorReportRate,
		sensorBurst:  cfg.SensorReportBurst,
		lockTTL:      lockTTL,
	}
}

func validate(cfg config.RateLimitConfig) error {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("rate limit redis addr is required")
	}
	if cfg.BookingCreateRate <= 0 || cfg.BookingCreateBurst <= 0 {
		return errors.New("booking rate limit must be positive")
	}
	if cfg.SensorReportRate <= 0 || cfg.SensorReportBurst <= 0 {
		return errors.New("sensor report rate limit must be positive")
	}
	return nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) AllowBooking(ctx context.Context, userID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyBookingCreate, strings.TrimSpace(userID)), l.bookingRate, l.bookingBurst)
}

func (l *Limiter) AllowSensorReport(ctx context.Context, sensorID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keySensorReport, strings.TrimSpace(sensorID)), l.sensorRate, l.sensorBurst)
}

// TryLockBooking keeps one user from racing several create requests at the same garage.
func (l *Limiter) TryLockBooking(ctx context.Context, userID, garageID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, bookingLockKey(userID, garageID), l.lockTTL)
}

func (l *Limiter) ReleaseBooking(ctx context.Context, userID, garageID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, bookingLockKey(userID, garageID), token)
}

func bookingLockKey(userID, garageID string) string {
	return fmt.Sprintf(keyBookingLock, strings.TrimSpace(userID), strings.TrimSpace(garageID))
}
