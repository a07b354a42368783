// Package spread turns validated trade signals into broker-ready vertical
// spread orders.
package spread

import (
	"fmt"

	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/symbol"
	"github.com/mfinley/vertigo/internal/util"
)

// limitTick is the increment limit prices are normalized to before
// submission.
const limitTick = 0.01

// BuildError reports a signal that cannot become a valid order. No broker
// call is made for a BuildError, which keeps it distinguishable from a
// submission failure.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return "build spread order: " + e.Reason
}

func buildErrorf(format string, args ...any) *BuildError {
	return &BuildError{Reason: fmt.Sprintf(format, args...)}
}

// Build constructs a two-leg vertical spread order from a signal: the short
// leg sells to open at the signal's short strike, the long leg buys to open
// at the long strike, both encoded for the signal's expiration. A zero
// quantity defaults to one contract per leg.
//
// Credit strategies are rejected when the stated credit is non-positive or
// reaches the spread width, since either would submit an order that cannot
// profit. Debit strategies carry their cost in the same field and skip
// those checks.
func Build(sig *models.TradeSignal, underlying string, quantity int) (*models.SpreadOrder, error) {
	if quantity < 0 {
		return nil, buildErrorf("negative quantity %d", quantity)
	}
	if quantity == 0 {
		quantity = 1
	}

	if sig.ShortStrike == sig.LongStrike {
		return nil, buildErrorf("zero-width spread: both strikes %.2f", sig.ShortStrike)
	}
	if sig.Strategy.IsCredit() {
		if sig.CreditReceived <= 0 {
			return nil, buildErrorf("credit %.2f must be positive for %s", sig.CreditReceived, sig.Strategy)
		}
		if width := sig.SpreadWidth(); sig.CreditReceived >= width {
			return nil, buildErrorf("credit %.2f must be below spread width %.2f", sig.CreditReceived, width)
		}
	}

	expiration, err := sig.ExpirationDate()
	if err != nil {
		return nil, buildErrorf("%v", err)
	}

	optType := symbol.Call
	if sig.Strategy.IsPutSpread() {
		optType = symbol.Put
	}

	shortSymbol, err := symbol.Encode(symbol.Contract{
		Underlying: underlying,
		Expiration: expiration,
		Type:       optType,
		Strike:     sig.ShortStrike,
	})
	if err != nil {
		return nil, buildErrorf("short leg: %v", err)
	}
	longSymbol, err := symbol.Encode(symbol.Contract{
		Underlying: underlying,
		Expiration: expiration,
		Type:       optType,
		Strike:     sig.LongStrike,
	})
	if err != nil {
		return nil, buildErrorf("long leg: %v", err)
	}

	effect := models.Debit
	if sig.Strategy.IsCredit() {
		effect = models.Credit
	}

	limit := util.ClampMin(util.RoundToTick(sig.CreditReceived, limitTick), limitTick)

	return &models.SpreadOrder{
		Underlying: underlying,
		Legs: []models.OptionLeg{
			{Symbol: shortSymbol, Action: models.SellToOpen, Quantity: quantity},
			{Symbol: longSymbol, Action: models.BuyToOpen, Quantity: quantity},
		},
		LimitPrice:  limit,
		PriceEffect: effect,
	}, nil
}
