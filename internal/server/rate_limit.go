package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/smallbiznis/parkway/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	"github.com/smallbiznis/parkway/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonUserRate          = "user-rate"
	rateLimitReasonSensorRate        = "sensor-rate"
	rateLimitReasonGarageConcurrency = "user-garage-concurrency"
)

type bookingRateLimitKey struct {
	GarageID string `json:"garage_id"`
}

// BookingCreateRateLimit throttles creates per caller and serializes
// concurrent creates by the same caller at the same garage.
func (s *Server) BookingCreateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()
		userID := callerID(c).String()

		res, err := s.limiter.AllowBooking(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("booking rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			denyRateLimit(c, endpoint, rateLimitReasonUserRate, res, s.obsMetrics)
			return
		}

		if garageID := readBookingGarageID(c); garageID != "" {
			lockToken, locked, err := s.limiter.TryLockBooking(ctx, userID, garageID)
			if err != nil {
				logger.FromContext(ctx).Warn("booking concurrency lock failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !locked {
				denyRateLimit(c, endpoint, rateLimitReasonGarageConcurrency, ratelimit.Result{}, s.obsMetrics)
				return
			}
			defer func() {
				if err := s.limiter.ReleaseBooking(context.WithoutCancel(ctx), userID, garageID, lockToken); err != nil {
					logger.FromContext(ctx).Warn("booking concurrency unlock failed", zap.Error(err))
				}
			}()
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

// SensorReportRateLimit throttles each device independently.
func (s *Server) SensorReportRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		res, err := s.limiter.AllowSensorReport(ctx, c.Param("id"))
		if err != nil {
			logger.FromContext(ctx).Warn("sensor rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			denyRateLimit(c, endpoint, rateLimitReasonSensorRate, res, s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func denyRateLimit(c *gin.Context, endpoint, reason string, res ratelimit.Result, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	c.Header("Retry-After", retryAfterSeconds(res))
	c.Header("X-Rate-Limited-Reason", reason)
	if res.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	}
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(res ratelimit.Result) string {
	seconds := int(res.RetryAfter.Seconds())
	if res.RetryAfter > 0 && float64(seconds) < res.RetryAfter.Seconds() {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

// readBookingGarageID binds through the cached body so the handler can bind
// it again. A body that does not decode is left for the handler to reject.
func readBookingGarageID(c *gin.Context) string {
	var payload bookingRateLimitKey
	if err := c.ShouldBindBodyWith(&payload, binding.JSON); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.GarageID)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
