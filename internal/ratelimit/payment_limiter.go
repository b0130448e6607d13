package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/coursepay/internal/config"
	"github.com/smallbiznis/coursepay/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	keyPaymentOrder   = "payment:order:%s"
	keyPaymentVerify  = "payment:verify:%s"
	keyPaymentWebhook = "payment:webhook"
)

// Per-key rates. Order and verify are keyed per enrollment/order so a
// stuck client retrying cannot starve others; the webhook bucket is
// shared since the gateway is a single caller.
const (
	orderRate    = 1.0
	orderBurst   = 5
	verifyRate   = 2.0
	verifyBurst  = 10
	webhookRate  = 50.0
	webhookBurst = 200
)

// PaymentLimiter throttles the public payment endpoints. It is
// disabled (always-allow) when no redis address is configured, and
// fails open on redis errors: a broken limiter must not block
// legitimate captures.
type PaymentLimiter struct {
	enabled bool
	bucket  *TokenBucket
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewPaymentLimiter(cfg config.Config, log *zap.Logger, m *metrics.Metrics) *PaymentLimiter {
	limiter := &PaymentLimiter{
		log:     log.Named("ratelimit"),
		metrics: m,
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return limiter
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	limiter.enabled = true
	limiter.bucket = NewTokenBucket(client)
	return limiter
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PaymentLimiter) AllowOrder(ctx context.Context, enrollmentID string) bool {
	return l.allow(ctx, "order", fmt.Sprintf(keyPaymentOrder, enrollmentID), orderRate, orderBurst)
}

func (l *PaymentLimiter) AllowVerify(ctx context.Context, orderID string) bool {
	return l.allow(ctx, "verify", fmt.Sprintf(keyPaymentVerify, orderID), verifyRate, verifyBurst)
}

func (l *PaymentLimiter) AllowWebhook(ctx context.Context) bool {
	return l.allow(ctx, "webhook", keyPaymentWebhook, webhookRate, webhookBurst)
}

func (l *PaymentLimiter) allow(ctx context.Context, endpoint, key string, rate float64, burst int) bool {
	if !l.Enabled() {
		return true
	}

	allowed, err := l.bucket.Allow(ctx, key, rate, burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		if l.metrics != nil {
			l.metrics.RecordRateLimitAllowed(ctx, endpoint)
		}
		return true
	}

	if l.metrics != nil {
		if allowed {
			l.metrics.RecordRateLimitAllowed(ctx, endpoint)
		} else {
			l.metrics.RecordRateLimitDenied(ctx, endpoint, "bucket_empty")
		}
	}
	return allowed
}
