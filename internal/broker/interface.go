package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mfinley/vertigo/internal/models"
)

// Broker defines the interface for interacting with a brokerage
type Broker interface {
	// Market data
	GetMarketQuote(ctx context.Context, symbol string) (*MarketQuote, error)
	ListOptionSymbols(ctx context.Context, underlying string) ([]OptionListing, error)

	// Account operations
	GetAccountNumber(ctx context.Context) (string, error)

	// Order operations
	SubmitOrder(ctx context.Context, order models.SpreadOrder) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (string, error)
}

// AuthContext carries the bearer token and account number for broker calls.
// It travels as an explicit value; nothing in this package keeps session
// state outside the client it was handed to.
type AuthContext struct {
	Token         string
	AccountNumber string
}

// TokenSource produces a fresh AuthContext when the current token expires.
type TokenSource interface {
	Refresh(ctx context.Context) (AuthContext, error)
}

// MarketQuote is a normalized quote for an equity or option symbol. Open
// interest is only served for options; it stays zero for underlyings.
type MarketQuote struct {
	Symbol       string
	Last         float64
	Mid          float64
	Mark         float64
	Bid          float64
	Ask          float64
	Volume       int64
	OpenInterest int64
	PrevClose    float64
}

// Price returns the best available trade price: last, then mid, then mark.
func (q *MarketQuote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Mid > 0 {
		return q.Mid
	}
	return q.Mark
}

// OptionListing is one tradeable contract from the broker's chain listing.
type OptionListing struct {
	Symbol     string // OCC symbol as served, space-padded root
	Underlying string
	Root       string
	Expiration string // YYYY-MM-DD
	OptionType string // "C" or "P"
	Strike     float64
	DTE        int
}

// OrderOutcome classifies the broker's verdict on an order submission.
type OrderOutcome string

const (
	// OutcomeAccepted means the broker took the order for execution.
	OutcomeAccepted OrderOutcome = "accepted"
	// OutcomeAuthExpired means submission still failed authentication after
	// one token refresh and retry. Callers must not loop on it.
	OutcomeAuthExpired OrderOutcome = "auth_expired"
	// OutcomeRejected means the broker declined the order. Terminal for the
	// order; the reason text is preserved verbatim.
	OutcomeRejected OrderOutcome = "rejected"
)

// OrderResult is the classified outcome of an order submission. Transport
// failures are returned as ordinary errors instead. Body carries the
// broker's response text verbatim for rejections.
type OrderResult struct {
	Outcome OrderOutcome
	OrderID string
	Status  string
	Body    string
}

// Accepted reports whether the broker took the order.
func (r *OrderResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// Compile-time interface checks.
var (
	_ Broker      = (*TastyTradeAPI)(nil)
	_ Broker      = (*CircuitBreakerBroker)(nil)
	_ TokenSource = (*OAuthTokenSource)(nil)
)

// isPermanentAPIError checks if an error is a permanent API error that retrying cannot fix
func isPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Consider 4xx errors as permanent (except 429 Too Many Requests which is retryable)
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Client-side 4xx verdicts (rejections, unknown symbols) say nothing
		// about service health, so they do not count toward tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanentAPIError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetMarketQuote wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetMarketQuote(ctx context.Context, symbol string) (*MarketQuote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*MarketQuote, error) {
		return b.GetMarketQuote(ctx, symbol)
	})
}

// ListOptionSymbols wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) ListOptionSymbols(ctx context.Context, underlying string) ([]OptionListing, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OptionListing, error) {
		return b.ListOptionSymbols(ctx, underlying)
	})
}

// GetAccountNumber wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetAccountNumber(ctx context.Context) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.GetAccountNumber(ctx)
	})
}

// SubmitOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SubmitOrder(ctx context.Context, order models.SpreadOrder) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.SubmitOrder(ctx, order)
	})
}

// GetOrderStatus wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}
