package models

import (
	"fmt"
	"math"
	"time"
)

// StrategyType identifies one of the four vertical spread shapes the
// pipeline can produce.
type StrategyType string

const (
	BullPutSpread  StrategyType = "BULL_PUT_SPREAD"
	BearCallSpread StrategyType = "BEAR_CALL_SPREAD"
	BullCallSpread StrategyType = "BULL_CALL_SPREAD"
	BearPutSpread  StrategyType = "BEAR_PUT_SPREAD"
)

// ParseStrategyType maps a wire string onto a StrategyType, rejecting
// anything outside the four known spreads.
func ParseStrategyType(s string) (StrategyType, error) {
	switch StrategyType(s) {
	case BullPutSpread, BearCallSpread, BullCallSpread, BearPutSpread:
		return StrategyType(s), nil
	default:
		return "", fmt.Errorf("unknown strategy type %q", s)
	}
}

// IsCredit reports whether opening the spread nets a cash inflow.
func (s StrategyType) IsCredit() bool {
	return s == BullPutSpread || s == BearCallSpread
}

// IsPutSpread reports whether both legs are puts.
func (s StrategyType) IsPutSpread() bool {
	return s == BullPutSpread || s == BearPutSpread
}

// TradeSignal is the normalized output of parsing one AI response. It is
// created once per response and never mutated afterwards. CreditReceived
// carries the debit paid for debit strategies; the field name follows the
// credit-first wire format.
type TradeSignal struct {
	Strategy            StrategyType   `json:"strategy_type"`
	Confidence          int            `json:"confidence"` // 0-100
	ShortStrike         float64        `json:"short_strike"`
	LongStrike          float64        `json:"long_strike"`
	CreditReceived      float64        `json:"credit_received"`
	Expiration          string         `json:"expiration"` // YYYY-MM-DD
	MaxProfit           float64        `json:"max_profit"`
	MaxLoss             float64        `json:"max_loss"`
	ProbabilityOfProfit float64        `json:"probability_of_profit"`
	RewardRiskRatio     float64        `json:"reward_risk_ratio"`
	Delta               float64        `json:"delta"`
	Theta               float64        `json:"theta"`
	EntryConditions     map[string]any `json:"entry_conditions"`
	Reasoning           string         `json:"reasoning"`
	ReceivedAt          time.Time      `json:"received_at"`
}

// SpreadWidth returns the absolute distance between the two strikes.
func (t *TradeSignal) SpreadWidth() float64 {
	return math.Abs(t.ShortStrike - t.LongStrike)
}

// ExpirationDate parses the signal's YYYY-MM-DD expiration.
func (t *TradeSignal) ExpirationDate() (time.Time, error) {
	d, err := time.Parse("2006-01-02", t.Expiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("trade signal expiration %q: %w", t.Expiration, err)
	}
	return d, nil
}
