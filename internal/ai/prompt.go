package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/mfinley/vertigo/internal/models"
)

// BuildPrompt renders an assembled options chain into the analysis prompt.
// The model sees the spot price, time-to-expiration context, both sides of
// the chain with live quotes, and a strict response contract: a short
// written analysis followed by exactly one JSON block.
func BuildPrompt(c *models.OptionsChain, targetDTE int) string {
	var b strings.Builder

	expiration := c.TargetExpiration.Format("2006-01-02")
	support, resistance := strategyRange(c.CurrentPrice, targetDTE)
	decay, focus := dteContext(targetDTE)

	fmt.Fprintf(&b, "# %s %dDTE Trading Analysis - %s\n\n",
		c.Underlying, targetDTE, time.Now().Format("Monday, January 2"))

	fmt.Fprintf(&b, "## Market Overview\n")
	fmt.Fprintf(&b, "- **%s:** $%.2f\n", c.Underlying, c.CurrentPrice)
	fmt.Fprintf(&b, "- **Expiration:** %s (%s)\n", expiration, c.TargetExpiration.Format("Monday"))
	fmt.Fprintf(&b, "- **Time Decay:** %s\n", decay)
	fmt.Fprintf(&b, "- **Strategy Focus:** %s\n", focus)
	fmt.Fprintf(&b, "- **Strategy Range:** $%.0f - $%.0f\n", support, resistance)
	fmt.Fprintf(&b, "- **Strike Band:** $%.2f - $%.2f\n\n", c.StrikeRangeMin, c.StrikeRangeMax)

	callVolume := totalVolume(c.Calls)
	putVolume := totalVolume(c.Puts)
	fmt.Fprintf(&b, "## Options Flow\n")
	fmt.Fprintf(&b, "- Total Call Volume: %d | Total Put Volume: %d\n", callVolume, putVolume)
	fmt.Fprintf(&b, "- **Flow Pattern:** %s\n\n", flowBias(callVolume, putVolume))

	writeSide(&b, "Calls", c.Calls)
	writeSide(&b, "Puts", c.Puts)

	fmt.Fprintf(&b, `## Strategy Recommendation Required

Choose the OPTIMAL %dDTE vertical spread based on:
1. Current price relative to the strategy range ($%.0f support / $%.0f resistance)
2. Time remaining until expiration and its decay profile
3. Volume and open interest across the quoted strikes
4. Credit available at each strike pair

**Strategies:**
- **BULL_PUT_SPREAD:** Bullish/neutral bias, sell put spread below support ($%.0f), collect credit
- **BEAR_CALL_SPREAD:** Bearish/neutral bias, sell call spread above resistance ($%.0f), collect credit
- **BULL_CALL_SPREAD:** Strongly bullish, buy call spread near the money, pay debit
- **BEAR_PUT_SPREAD:** Strongly bearish, buy put spread near the money, pay debit

Use only strikes quoted above. Short and long strikes must differ.

## Response Format Required

Provide your analysis (2-3 sentences) followed by a single JSON block.

**For put spreads (BULL_PUT_SPREAD / BEAR_PUT_SPREAD):**
`+"```json"+`
{
  "strategy_type": "BULL_PUT_SPREAD",
  "confidence": [0_TO_100],
  "trade_setup": {
    "short_put_strike": [STRIKE],
    "long_put_strike": [STRIKE],
    "credit_received": [PER_SPREAD_AMOUNT],
    "expiration": "%s",
    "max_profit": [DOLLAR_AMOUNT],
    "max_loss": [DOLLAR_AMOUNT]
  },
  "risk_metrics": {
    "probability_of_profit": [0_TO_100],
    "reward_risk_ratio": [RATIO],
    "delta": [VALUE],
    "theta": [VALUE]
  },
  "entry_conditions": {
    "entry_price_range": "%s between $[LOW] and $[HIGH]",
    "volatility_condition": "[CONDITION]",
    "volume_requirement": "[CONDITION]",
    "momentum_condition": "[CONDITION]"
  },
  "reasoning": "Your comprehensive reasoning here"
}
`+"```"+`

**For call spreads (BEAR_CALL_SPREAD / BULL_CALL_SPREAD):** use the same
structure with "short_call_strike" and "long_call_strike" in trade_setup.

For debit spreads, "credit_received" carries the net debit paid.

**Important:** Use the current %s price ($%.2f) and the %dDTE timeframe to
select strikes, and quote the expiration exactly as %s.
`,
		targetDTE, support, resistance,
		support, resistance,
		expiration,
		c.Underlying,
		c.Underlying, c.CurrentPrice, targetDTE, expiration,
	)

	return b.String()
}

// writeSide renders one side of the chain as a quote table.
func writeSide(b *strings.Builder, label string, quotes []models.ContractQuote) {
	fmt.Fprintf(b, "## %s\n", label)
	if len(quotes) == 0 {
		fmt.Fprintf(b, "No contracts quoted in the band.\n\n")
		return
	}
	fmt.Fprintf(b, "**Strike | Bid/Ask | Mid | Volume | OI**\n")
	for i := range quotes {
		q := &quotes[i]
		fmt.Fprintf(b, "$%.0f | $%.2f/$%.2f | $%.2f | %d | %d\n",
			q.Contract.Strike, q.Bid, q.Ask, q.Mid(), q.Volume, q.OpenInterest)
	}
	fmt.Fprintf(b, "\n")
}

// dteContext describes how hard time decay bites at this horizon. Buckets
// follow the trading desk's usual cutoffs: same-day, next-day, inside three
// days, and weekly-plus.
func dteContext(dte int) (decay, focus string) {
	switch {
	case dte == 0:
		return "Very High (rapid decay)", "Quick directional moves or high-probability neutral plays"
	case dte == 1:
		return "High (overnight decay + one day)", "Balance time decay with directional opportunity"
	case dte <= 3:
		return "Moderate (multiple days of decay)", "Directional plays with time for position management"
	default:
		return "Lower (weekly+ timeframe)", "Longer-term directional plays and wider spreads"
	}
}

// strategyRange puts support and resistance a fixed dollar distance from
// spot, wider at longer horizons.
func strategyRange(spot float64, dte int) (support, resistance float64) {
	width := 10.0
	switch {
	case dte == 0:
		width = 3.0
	case dte <= 3:
		width = 5.0
	}
	return spot - width, spot + width
}

func totalVolume(quotes []models.ContractQuote) int64 {
	var total int64
	for i := range quotes {
		total += quotes[i].Volume
	}
	return total
}

// flowBias labels the call/put volume skew.
func flowBias(callVolume, putVolume int64) string {
	switch {
	case putVolume == 0 && callVolume == 0:
		return "No Flow"
	case float64(callVolume) > float64(putVolume)*1.2:
		return "Call heavy"
	case float64(putVolume) > float64(callVolume)*1.2:
		return "Put heavy"
	default:
		return "Balanced"
	}
}
