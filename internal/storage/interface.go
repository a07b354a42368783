// Package storage persists pipeline output (signals, orders, and cycle
// summaries) to a local JSON document. The trading core only writes here;
// reads exist for statistics and operator tooling.
package storage

import (
	"time"

	"github.com/mfinley/vertigo/internal/models"
)

// Interface defines the contract for trade-record persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call these methods from multiple
// goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize
// access, ensuring all Interface methods are protected for concurrent
// readers and writers.
type Interface interface {
	// Pipeline records
	RecordSignal(sig models.TradeSignal) error
	RecordOrder(rec models.OrderRecord) error
	UpdateOrderStatus(id string, state models.OrderState, brokerStatus string) error
	RecordCycle(cycle CycleRecord) error

	// Data persistence
	Save() error
	Load() error

	// Historical data and analytics
	GetOrder(id string) (models.OrderRecord, bool)
	GetOrders() []models.OrderRecord
	GetSignals() []models.TradeSignal
	GetCycles() []CycleRecord
	GetStatistics() *Statistics
}

// CycleRecord summarizes one analysis cycle end to end, whatever its outcome.
type CycleRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Underlying    string    `json:"underlying"`
	Spot          float64   `json:"spot"`
	TargetDTE     int       `json:"target_dte"`
	Expiration    string    `json:"expiration,omitempty"`
	CallsPriced   int       `json:"calls_priced"`
	PutsPriced    int       `json:"puts_priced"`
	QuotesDropped int       `json:"quotes_dropped"`
	Degraded      bool      `json:"degraded,omitempty"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
}

// Cycle outcome labels recorded by the trading loop.
const (
	CycleOutcomeSubmitted       = "submitted"
	CycleOutcomeDryRun          = "dry_run"
	CycleOutcomeNoContracts     = "no_contracts_in_band"
	CycleOutcomeNoSignal        = "no_signal"
	CycleOutcomeBelowConfidence = "below_confidence"
	CycleOutcomeBelowMinCredit  = "below_min_credit"
	CycleOutcomeBuildRejected   = "build_rejected"
	CycleOutcomeOrderRejected   = "order_rejected"
	CycleOutcomeAuthExpired     = "auth_expired"
	CycleOutcomeError           = "error"
)

// Statistics aggregates what the pipeline has produced so far.
type Statistics struct {
	TotalCycles       int            `json:"total_cycles"`
	TotalSignals      int            `json:"total_signals"`
	SignalsByStrategy map[string]int `json:"signals_by_strategy"`
	OrdersSubmitted   int            `json:"orders_submitted"`
	OrdersFilled      int            `json:"orders_filled"`
	OrdersCancelled   int            `json:"orders_cancelled"`
	OrdersRejected    int            `json:"orders_rejected"`
	CreditSubmitted   float64        `json:"credit_submitted"`
	LastCycleAt       time.Time      `json:"last_cycle_at"`
}

// NewStorage creates a new storage implementation (currently JSON-based).
// In the future, this can be extended to support different storage backends.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
