// Package mock provides a synthetic market for offline and sandbox runs: a
// single provider that serves quotes, chain listings, order handling, and
// canned AI completions so the full pipeline can run without credentials.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/mfinley/vertigo/internal/ai"
	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/chain"
	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/symbol"
)

const (
	strikeInterval = 5.0  // synthetic chains quote on a $5 grid
	strikeSpan     = 0.10 // listings cover spot +/- 10%
	listedWeeks    = 4    // weekly expirations served per listing
)

// fillAfterPolls is how many status polls an accepted order stays live
// before the synthetic fill.
const fillAfterPolls = 2

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	max := big.NewInt(n)
	r, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

// DataProvider is an in-memory stand-in for the broker and the AI model.
// Prices drift a little on every quote so no two runs look identical, but
// stay anchored near the seed spot. Safe for concurrent use; the chain
// assembler fetches quotes from several goroutines.
type DataProvider struct {
	mu          sync.Mutex
	spot        float64
	vol         float64 // annualized, used for synthetic option pricing
	orderSeq    int
	statusPolls map[string]int
}

// NewDataProvider seeds a provider with SPY-like levels.
func NewDataProvider() *DataProvider {
	return &DataProvider{
		spot:        645.0 + secureFloat64()*15, // SPY around 645-660
		vol:         0.12 + secureFloat64()*0.18,
		statusPolls: make(map[string]int),
	}
}

// Spot returns the current synthetic underlying price.
func (m *DataProvider) Spot() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spot
}

// GetMarketQuote simulates small price movements around the seed spot.
func (m *DataProvider) GetMarketQuote(_ context.Context, sym string) (*broker.MarketQuote, error) {
	m.mu.Lock()
	m.spot += (secureFloat64() - 0.5) * 2
	spot := m.spot
	m.mu.Unlock()

	spread := 0.02 // 2 cent spread
	return &broker.MarketQuote{
		Symbol:    sym,
		Last:      spot,
		Bid:       spot - spread/2,
		Ask:       spot + spread/2,
		Mid:       spot,
		Mark:      spot,
		Volume:    secureInt63n(100000000),
		PrevClose: spot * (1 - (secureFloat64()-0.5)*0.02),
	}, nil
}

// ListOptionSymbols serves both option types for the next four weekly
// expirations, with strikes on the grid within the span around spot.
func (m *DataProvider) ListOptionSymbols(_ context.Context, underlying string) ([]broker.OptionListing, error) {
	spot := m.Spot()
	now := time.Now().UTC()

	var listings []broker.OptionListing
	for _, expiration := range upcomingFridays(now, listedWeeks) {
		dte := models.DaysToExpiration(expiration, now)
		for _, strike := range strikeGrid(spot) {
			for _, optType := range []symbol.OptionType{symbol.Call, symbol.Put} {
				occ, err := symbol.Encode(symbol.Contract{
					Underlying: underlying,
					Expiration: expiration,
					Type:       optType,
					Strike:     strike,
				})
				if err != nil {
					return nil, fmt.Errorf("encode synthetic listing: %w", err)
				}
				occType := "C"
				if optType == symbol.Put {
					occType = "P"
				}
				listings = append(listings, broker.OptionListing{
					Symbol:     occ,
					Underlying: underlying,
					Root:       underlying,
					Expiration: expiration.Format("2006-01-02"),
					OptionType: occType,
					Strike:     strike,
					DTE:        dte,
				})
			}
		}
	}
	return listings, nil
}

// FetchQuote prices one contract from its symbol.
func (m *DataProvider) FetchQuote(_ context.Context, optionSymbol string) (models.ContractQuote, error) {
	contract, err := symbol.Decode(optionSymbol)
	if err != nil {
		return models.ContractQuote{}, fmt.Errorf("mock quote: %w", err)
	}

	price := m.priceContract(contract)
	return models.ContractQuote{
		Contract:     contract,
		Bid:          math.Max(0.01, price-0.05),
		Ask:          price + 0.05,
		Last:         price,
		Volume:       secureInt63n(10000),
		OpenInterest: secureInt63n(50000),
		Timestamp:    time.Now().UTC(),
	}, nil
}

// priceContract approximates an option premium from moneyness and time
// remaining. Far from exact, but monotone in the ways the pipeline cares
// about: closer strikes and longer expirations cost more.
func (m *DataProvider) priceContract(c symbol.Contract) float64 {
	spot := m.Spot()
	dte := models.DaysToExpiration(c.Expiration, time.Now().UTC())
	timeValue := float64(dte) / 365.0

	distance := math.Abs(c.Strike - spot)
	decay := math.Exp(-distance * 0.02)
	delta := 0.5 * decay
	inTheMoney := (c.Type == symbol.Call && c.Strike < spot) ||
		(c.Type == symbol.Put && c.Strike > spot)
	if inTheMoney {
		delta = 0.5 * (2 - decay)
	}

	m.mu.Lock()
	vol := m.vol
	m.mu.Unlock()

	return math.Max(0.5, vol*math.Sqrt(timeValue)*spot*0.01*delta)
}

// GetAccountNumber returns a fixed sandbox account.
func (m *DataProvider) GetAccountNumber(_ context.Context) (string, error) {
	return "MOCK0001", nil
}

// SubmitOrder accepts any structurally valid spread.
func (m *DataProvider) SubmitOrder(_ context.Context, order models.SpreadOrder) (*broker.OrderResult, error) {
	if err := order.Validate(); err != nil {
		return &broker.OrderResult{
			Outcome: broker.OutcomeRejected,
			Body:    fmt.Sprintf(`{"error":{"message":%q}}`, err.Error()),
		}, nil
	}

	m.mu.Lock()
	m.orderSeq++
	orderID := fmt.Sprintf("%d", 100000+m.orderSeq)
	m.statusPolls[orderID] = 0
	m.mu.Unlock()

	return &broker.OrderResult{
		Outcome: broker.OutcomeAccepted,
		OrderID: orderID,
		Status:  "Received",
	}, nil
}

// GetOrderStatus reports an order live for a couple of polls and then
// filled, so the order manager's polling loop gets exercised end to end.
func (m *DataProvider) GetOrderStatus(_ context.Context, orderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	polls, ok := m.statusPolls[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}
	m.statusPolls[orderID] = polls + 1
	if polls < fillAfterPolls {
		return "Live", nil
	}
	return "Filled", nil
}

var expirationPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Complete returns a canned bull put spread recommendation shaped like a
// real model response: a couple of sentences of analysis around one JSON
// block. The expiration echoes the first date found in the prompt so the
// downstream order builder targets the same chain the prompt described.
func (m *DataProvider) Complete(_ context.Context, prompt string) (string, error) {
	spot := m.Spot()

	expiration := expirationPattern.FindString(prompt)
	if expiration == "" {
		fridays := upcomingFridays(time.Now().UTC(), 1)
		expiration = fridays[0].Format("2006-01-02")
	}

	shortStrike := math.Floor(spot*0.97/strikeInterval) * strikeInterval
	longStrike := shortStrike - strikeInterval
	credit := 1.05 + secureFloat64()*0.4
	confidence := 70 + secureInt63n(21)
	maxProfit := credit * 100
	maxLoss := (strikeInterval - credit) * 100

	response := fmt.Sprintf(`Price action is steady with put-side volume concentrated below support, and time decay favors a short premium position at this range. Selling the %.0f/%.0f put spread keeps the short strike about 3%% below spot with a defined-risk structure.

`+"```json"+`
{
  "strategy_type": "BULL_PUT_SPREAD",
  "confidence": %d,
  "market_bias": "bullish",
  "trade_setup": {
    "short_put_strike": %.0f,
    "long_put_strike": %.0f,
    "credit_received": %.2f,
    "expiration": "%s",
    "max_profit": %.0f,
    "max_loss": %.0f
  },
  "risk_metrics": {
    "probability_of_profit": 71,
    "reward_risk_ratio": %.2f,
    "delta": -0.12,
    "theta": 0.04
  },
  "entry_conditions": {
    "entry_price_range": "underlying between $%.0f and $%.0f",
    "volatility_condition": "daily move < 1.2%% for stable environment",
    "volume_requirement": "intraday volume > 40000000 shares",
    "momentum_condition": "no close below short strike support"
  },
  "reasoning": "Elevated put volume below spot marks support, decay works for the position, and the spread risks %.0f to make %.0f."
}
`+"```"+`

Size conservatively and exit early if support fails.`,
		shortStrike, longStrike,
		confidence,
		shortStrike, longStrike, credit, expiration, maxProfit, maxLoss,
		maxProfit/maxLoss,
		spot-10, spot+10,
		maxLoss, maxProfit,
	)
	return response, nil
}

// upcomingFridays lists the next n Fridays in date order, counting today
// when it is one.
func upcomingFridays(now time.Time, n int) []time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	offset := (int(time.Friday) - int(day.Weekday()) + 7) % 7
	first := day.AddDate(0, 0, offset)

	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, first.AddDate(0, 0, 7*i))
	}
	return out
}

// strikeGrid returns grid strikes within the span around spot.
func strikeGrid(spot float64) []float64 {
	lowStrike := math.Ceil(spot*(1-strikeSpan)/strikeInterval) * strikeInterval
	highStrike := math.Floor(spot*(1+strikeSpan)/strikeInterval) * strikeInterval

	var strikes []float64
	for s := lowStrike; s <= highStrike; s += strikeInterval {
		strikes = append(strikes, s)
	}
	return strikes
}

// Interface checks: the provider stands in for the broker, the chain quote
// source, and the AI completer.
var (
	_ broker.Broker      = (*DataProvider)(nil)
	_ chain.QuoteFetcher = (*DataProvider)(nil)
	_ ai.Completer       = (*DataProvider)(nil)
)
