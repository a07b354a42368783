package storage

import (
	"fmt"
	"time"

	"github.com/mfinley/vertigo/internal/models"
)

// MockStorage implements Interface in memory for testing.
type MockStorage struct {
	saveError   error
	loadError   error
	recordError error

	signals []models.TradeSignal
	orders  []models.OrderRecord
	cycles  []CycleRecord

	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// Pipeline record methods

func (m *MockStorage) RecordSignal(sig models.TradeSignal) error {
	if m.recordError != nil {
		return m.recordError
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}
	m.signals = append(m.signals, sig)
	return nil
}

func (m *MockStorage) RecordOrder(rec models.OrderRecord) error {
	if m.recordError != nil {
		return m.recordError
	}
	if rec.ID == "" {
		return fmt.Errorf("order record has no ID")
	}
	for i := range m.orders {
		if m.orders[i].ID == rec.ID {
			return fmt.Errorf("order %s already recorded", rec.ID)
		}
	}
	now := time.Now().UTC()
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = now
	}
	rec.UpdatedAt = now
	m.orders = append(m.orders, rec)
	return nil
}

func (m *MockStorage) UpdateOrderStatus(id string, state models.OrderState, brokerStatus string) error {
	if m.recordError != nil {
		return m.recordError
	}
	for i := range m.orders {
		if m.orders[i].ID != id {
			continue
		}
		m.orders[i].State = state
		m.orders[i].BrokerStatus = brokerStatus
		m.orders[i].UpdatedAt = time.Now().UTC()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
}

func (m *MockStorage) RecordCycle(cycle CycleRecord) error {
	if m.recordError != nil {
		return m.recordError
	}
	if cycle.Timestamp.IsZero() {
		cycle.Timestamp = time.Now().UTC()
	}
	m.cycles = append(m.cycles, cycle)
	return nil
}

// Data persistence methods (mocked)

func (m *MockStorage) Save() error {
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.loadCallCount++
	return m.loadError
}

// Historical data and analytics

func (m *MockStorage) GetOrder(id string) (models.OrderRecord, bool) {
	for i := range m.orders {
		if m.orders[i].ID == id {
			return m.orders[i], true
		}
	}
	return models.OrderRecord{}, false
}

func (m *MockStorage) GetOrders() []models.OrderRecord {
	out := make([]models.OrderRecord, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *MockStorage) GetSignals() []models.TradeSignal {
	out := make([]models.TradeSignal, len(m.signals))
	copy(out, m.signals)
	return out
}

func (m *MockStorage) GetCycles() []CycleRecord {
	out := make([]CycleRecord, len(m.cycles))
	copy(out, m.cycles)
	return out
}

func (m *MockStorage) GetStatistics() *Statistics {
	stats := &Statistics{
		TotalCycles:       len(m.cycles),
		TotalSignals:      len(m.signals),
		SignalsByStrategy: map[string]int{},
	}
	for i := range m.signals {
		stats.SignalsByStrategy[string(m.signals[i].Strategy)]++
	}
	for i := range m.orders {
		rec := &m.orders[i]
		stats.OrdersSubmitted++
		if rec.Order.PriceEffect == models.Credit {
			if leg := rec.Order.ShortLeg(); leg != nil {
				stats.CreditSubmitted += rec.Order.LimitPrice * float64(leg.Quantity)
			}
		}
		switch rec.State {
		case models.OrderFilled:
			stats.OrdersFilled++
		case models.OrderCancelled:
			stats.OrdersCancelled++
		case models.OrderRejected:
			stats.OrdersRejected++
		}
	}
	if n := len(m.cycles); n > 0 {
		stats.LastCycleAt = m.cycles[n-1].Timestamp
	}
	return stats
}

// Mock control methods for testing

func (m *MockStorage) SetSaveError(err error) {
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.loadError = err
}

// SetRecordError makes every record/update method fail with err.
func (m *MockStorage) SetRecordError(err error) {
	m.recordError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	return m.loadCallCount
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
