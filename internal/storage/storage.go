package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mfinley/vertigo/internal/models"
)

// document is the on-disk layout. Everything lives in one file so a single
// atomic rename captures a consistent snapshot.
type document struct {
	Version     int                  `json:"version"`
	Signals     []models.TradeSignal `json:"signals"`
	Orders      []models.OrderRecord `json:"orders"`
	Cycles      []CycleRecord        `json:"cycles"`
	LastUpdated time.Time            `json:"last_updated"`
}

const documentVersion = 1

// JSONStorage persists trade records to a single JSON file on disk.
type JSONStorage struct {
	path string
	mu   sync.RWMutex
	data *document
}

// NewJSONStorage opens or creates a JSON-backed store at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is empty")
	}

	s := &JSONStorage{
		path: path,
		data: newDocument(),
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func newDocument() *document {
	return &document{
		Version: documentVersion,
		Signals: []models.TradeSignal{},
		Orders:  []models.OrderRecord{},
		Cycles:  []CycleRecord{},
	}
}

// Load reads the backing file into memory. A missing file is not an error;
// it leaves the store empty so the first Save creates it.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = newDocument()
			return nil
		}
		return fmt.Errorf("read storage file: %w", err)
	}

	doc := newDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("parse storage file %s: %w", s.path, err)
	}
	if doc.Signals == nil {
		doc.Signals = []models.TradeSignal{}
	}
	if doc.Orders == nil {
		doc.Orders = []models.OrderRecord{}
	}
	if doc.Cycles == nil {
		doc.Cycles = []CycleRecord{}
	}
	s.data = doc
	return nil
}

// Save writes the in-memory document to disk.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the document to a temp file, then renames it over the
// target so readers never see a partial write. Callers must hold s.mu.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}

// RecordSignal appends a parsed signal and persists.
func (s *JSONStorage) RecordSignal(sig models.TradeSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}
	s.data.Signals = append(s.data.Signals, sig)
	return s.saveLocked()
}

// RecordOrder appends a new order record and persists. Recording the same ID
// twice is an error; updates go through UpdateOrderStatus.
func (s *JSONStorage) RecordOrder(rec models.OrderRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("order record has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Orders {
		if s.data.Orders[i].ID == rec.ID {
			return fmt.Errorf("order %s already recorded", rec.ID)
		}
	}

	now := time.Now().UTC()
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = now
	}
	rec.UpdatedAt = now
	s.data.Orders = append(s.data.Orders, rec)
	return s.saveLocked()
}

// UpdateOrderStatus moves an existing order record to a new state and persists.
func (s *JSONStorage) UpdateOrderStatus(id string, state models.OrderState, brokerStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Orders {
		if s.data.Orders[i].ID != id {
			continue
		}
		s.data.Orders[i].State = state
		s.data.Orders[i].BrokerStatus = brokerStatus
		s.data.Orders[i].UpdatedAt = time.Now().UTC()
		return s.saveLocked()
	}
	return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
}

// RecordCycle appends a cycle summary and persists.
func (s *JSONStorage) RecordCycle(cycle CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cycle.Timestamp.IsZero() {
		cycle.Timestamp = time.Now().UTC()
	}
	s.data.Cycles = append(s.data.Cycles, cycle)
	return s.saveLocked()
}

// GetOrder returns the order with the given ID, if present.
func (s *JSONStorage) GetOrder(id string) (models.OrderRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Orders {
		if s.data.Orders[i].ID == id {
			return s.data.Orders[i], true
		}
	}
	return models.OrderRecord{}, false
}

// GetOrders returns a copy of all order records, oldest first.
func (s *JSONStorage) GetOrders() []models.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OrderRecord, len(s.data.Orders))
	copy(out, s.data.Orders)
	return out
}

// GetSignals returns a copy of all recorded signals, oldest first.
func (s *JSONStorage) GetSignals() []models.TradeSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TradeSignal, len(s.data.Signals))
	copy(out, s.data.Signals)
	return out
}

// GetCycles returns a copy of all cycle records, oldest first.
func (s *JSONStorage) GetCycles() []CycleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CycleRecord, len(s.data.Cycles))
	copy(out, s.data.Cycles)
	return out
}

// GetStatistics recomputes aggregates from the stored records.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		TotalCycles:       len(s.data.Cycles),
		TotalSignals:      len(s.data.Signals),
		SignalsByStrategy: map[string]int{},
	}
	for i := range s.data.Signals {
		stats.SignalsByStrategy[string(s.data.Signals[i].Strategy)]++
	}
	for i := range s.data.Orders {
		rec := &s.data.Orders[i]
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
	if n := len(s.data.Cycles); n > 0 {
		stats.LastCycleAt = s.data.Cycles[n-1].Timestamp
	}
	return stats
}
