// Package signal extracts and validates trade signals from free-form AI
// completion text.
package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mfinley/vertigo/internal/models"
)

// rawExcerptLimit caps the diagnostic excerpt a ParseError carries.
const rawExcerptLimit = 500

// ParseError reports an unusable AI response. Raw holds a truncated excerpt
// of the offending text. A ParseError means no signal this cycle; callers
// must never substitute a synthetic one.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse AI response: " + e.Reason
}

func newParseError(reason, raw string) *ParseError {
	if len(raw) > rawExcerptLimit {
		raw = raw[:rawExcerptLimit] + "..."
	}
	return &ParseError{Reason: reason, Raw: raw}
}

// Wire shapes mirror the JSON block the model is prompted to produce. The
// model decorates the block with extra keys (market_bias, support_level,
// expected_profit); decoding ignores them.
type wireSignal struct {
	StrategyType    *string         `json:"strategy_type"`
	Confidence      *float64        `json:"confidence"`
	TradeSetup      json.RawMessage `json:"trade_setup"`
	RiskMetrics     json.RawMessage `json:"risk_metrics"`
	EntryConditions json.RawMessage `json:"entry_conditions"`
	Reasoning       *string         `json:"reasoning"`
}

type wireTradeSetup struct {
	ShortPutStrike  float64 `json:"short_put_strike"`
	LongPutStrike   float64 `json:"long_put_strike"`
	ShortCallStrike float64 `json:"short_call_strike"`
	LongCallStrike  float64 `json:"long_call_strike"`
	CreditReceived  float64 `json:"credit_received"`
	Expiration      string  `json:"expiration"`
	MaxProfit       float64 `json:"max_profit"`
	MaxLoss         float64 `json:"max_loss"`
}

type wireRiskMetrics struct {
	ProbabilityOfProfit float64 `json:"probability_of_profit"`
	RewardRiskRatio     float64 `json:"reward_risk_ratio"`
	Delta               float64 `json:"delta"`
	Theta               float64 `json:"theta"`
}

// Parse extracts the JSON block from a completion and validates it into a
// TradeSignal. The block is located as the substring from the first '{' to
// the last '}', which assumes the text carries exactly one JSON object;
// responses with several blocks degrade and fail validation instead.
//
// strategy_type, confidence, trade_setup, risk_metrics, entry_conditions,
// and reasoning must all be present; numeric fields nested inside present
// objects default to zero when absent. Parse never panics: every malformed
// input maps to a *ParseError.
func Parse(responseText string) (*models.TradeSignal, error) {
	start := strings.Index(responseText, "{")
	end := strings.LastIndex(responseText, "}")
	if start < 0 || end < start {
		return nil, newParseError("no JSON object in response", responseText)
	}
	payload := responseText[start : end+1]

	var wire wireSignal
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, newParseError(fmt.Sprintf("malformed JSON: %v", err), payload)
	}

	required := []struct {
		name string
		ok   bool
	}{
		{"strategy_type", wire.StrategyType != nil},
		{"confidence", wire.Confidence != nil},
		{"trade_setup", present(wire.TradeSetup)},
		{"risk_metrics", present(wire.RiskMetrics)},
		{"entry_conditions", present(wire.EntryConditions)},
		{"reasoning", wire.Reasoning != nil},
	}
	for _, field := range required {
		if !field.ok {
			return nil, newParseError("missing required field "+field.name, payload)
		}
	}

	strategy, err := models.ParseStrategyType(*wire.StrategyType)
	if err != nil {
		return nil, newParseError(err.Error(), payload)
	}

	var setup wireTradeSetup
	if err := json.Unmarshal(wire.TradeSetup, &setup); err != nil {
		return nil, newParseError(fmt.Sprintf("invalid trade_setup: %v", err), payload)
	}
	var metrics wireRiskMetrics
	if err := json.Unmarshal(wire.RiskMetrics, &metrics); err != nil {
		return nil, newParseError(fmt.Sprintf("invalid risk_metrics: %v", err), payload)
	}
	var conditions map[string]any
	if err := json.Unmarshal(wire.EntryConditions, &conditions); err != nil {
		return nil, newParseError(fmt.Sprintf("invalid entry_conditions: %v", err), payload)
	}

	// The strike keys are polarity-specific; the signal's generic short/long
	// pair takes whichever side the strategy trades.
	var short, long float64
	if strategy.IsPutSpread() {
		short, long = setup.ShortPutStrike, setup.LongPutStrike
	} else {
		short, long = setup.ShortCallStrike, setup.LongCallStrike
	}

	return &models.TradeSignal{
		Strategy:            strategy,
		Confidence:          int(math.Round(*wire.Confidence)),
		ShortStrike:         short,
		LongStrike:          long,
		CreditReceived:      setup.CreditReceived,
		Expiration:          setup.Expiration,
		MaxProfit:           setup.MaxProfit,
		MaxLoss:             setup.MaxLoss,
		ProbabilityOfProfit: metrics.ProbabilityOfProfit,
		RewardRiskRatio:     metrics.RewardRiskRatio,
		Delta:               metrics.Delta,
		Theta:               metrics.Theta,
		EntryConditions:     conditions,
		Reasoning:           *wire.Reasoning,
		ReceivedAt:          time.Now().UTC(),
	}, nil
}

// present reports whether a raw field was set to something other than null.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
