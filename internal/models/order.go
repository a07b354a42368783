package models

import (
	"fmt"
	"time"

	"github.com/mfinley/vertigo/internal/symbol"
)

// LegAction is the opening direction of one spread leg. Quantities are
// always positive; direction lives here, never in the sign.
type LegAction string

const (
	SellToOpen LegAction = "SELL_TO_OPEN"
	BuyToOpen  LegAction = "BUY_TO_OPEN"
)

// PriceEffect marks whether the order nets cash in or out at open.
type PriceEffect string

const (
	Credit PriceEffect = "CREDIT"
	Debit  PriceEffect = "DEBIT"
)

// OptionLeg is one contract within a spread order.
type OptionLeg struct {
	Symbol   string    `json:"symbol"` // padded OSI form
	Action   LegAction `json:"action"`
	Quantity int       `json:"quantity"`
}

// SpreadOrder is a two-leg vertical ready for submission. Built once from a
// TradeSignal and consumed immediately; never reused.
type SpreadOrder struct {
	Underlying  string      `json:"underlying"`
	Legs        []OptionLeg `json:"legs"`
	LimitPrice  float64     `json:"limit_price"`
	PriceEffect PriceEffect `json:"price_effect"`
}

// Validate checks the structural leg invariants: exactly two legs with
// opposite actions, positive quantities, and decodable symbols sharing one
// underlying and expiration.
func (o *SpreadOrder) Validate() error {
	if len(o.Legs) != 2 {
		return fmt.Errorf("spread order must have exactly 2 legs, got %d", len(o.Legs))
	}
	if o.Legs[0].Action == o.Legs[1].Action {
		return fmt.Errorf("spread order legs share action %s", o.Legs[0].Action)
	}
	var expirations [2]time.Time
	for i, leg := range o.Legs {
		if leg.Quantity <= 0 {
			return fmt.Errorf("leg %d quantity %d must be positive", i, leg.Quantity)
		}
		c, err := symbol.Decode(leg.Symbol)
		if err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
		if c.Underlying != o.Underlying {
			return fmt.Errorf("leg %d underlying %s does not match order underlying %s", i, c.Underlying, o.Underlying)
		}
		expirations[i] = c.Expiration
	}
	if !expirations[0].Equal(expirations[1]) {
		return fmt.Errorf("legs expire on different dates: %s vs %s",
			expirations[0].Format("2006-01-02"), expirations[1].Format("2006-01-02"))
	}
	return nil
}

// ShortLeg returns the sell-to-open leg, or nil if absent.
func (o *SpreadOrder) ShortLeg() *OptionLeg {
	for i := range o.Legs {
		if o.Legs[i].Action == SellToOpen {
			return &o.Legs[i]
		}
	}
	return nil
}

// LongLeg returns the buy-to-open leg, or nil if absent.
func (o *SpreadOrder) LongLeg() *OptionLeg {
	for i := range o.Legs {
		if o.Legs[i].Action == BuyToOpen {
			return &o.Legs[i]
		}
	}
	return nil
}

// OrderRecord is the persisted view of one submitted order: the order
// itself, the signal that produced it, and its lifecycle state.
type OrderRecord struct {
	ID            string      `json:"id"` // client-side id
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Order         SpreadOrder `json:"order"`
	Signal        TradeSignal `json:"signal"`
	State         OrderState  `json:"state"`
	BrokerStatus  string      `json:"broker_status,omitempty"` // broker's last verbatim status
	SubmittedAt   time.Time   `json:"submitted_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
