// Package retry wraps idempotent broker calls in bounded exponential
// backoff. Non-idempotent operations (order submission) must not go
// through it; their retry semantics live with the caller.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	logger *logrus.Logger
	config Config
}

func NewClient(logger *logrus.Logger, config ...Config) *Client {
	if logger == nil {
		panic("retry.NewClient: logger must not be nil")
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		logger: logger,
		config: cfg,
	}
}

// Do runs fn until it succeeds, the retry budget is spent, or the error is
// not transient. The operation name only labels log lines.
func (c *Client) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return fmt.Errorf("%s timed out after %v: %w", operation, c.config.Timeout, err)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", operation, err)
		}

		err := fn(opCtx)
		if err == nil {
			if attempt > 0 {
				c.logger.WithFields(logrus.Fields{
					"operation": operation,
					"attempt":   attempt + 1,
				}).Info("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt + 1,
			"error":     err,
		}).Warn("operation attempt failed")

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-opCtx.Done():
			return fmt.Errorf("%s timed out during backoff: %w", operation, opCtx.Err())
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.config.MaxRetries+1, lastErr)
}

// Do runs a value-returning operation through a client's retry loop.
func Do[T any](ctx context.Context, c *Client, operation string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, operation, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("failed to generate backoff jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
