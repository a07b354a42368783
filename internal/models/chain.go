package models

import (
	"fmt"
	"time"

	"github.com/mfinley/vertigo/internal/symbol"
)

// ContractQuote is the market snapshot for one option contract. Quotes are
// built once per fetch cycle and never mutated; the next cycle supersedes
// them wholesale.
type ContractQuote struct {
	Contract     symbol.Contract `json:"contract"`
	Bid          float64         `json:"bid"`
	Ask          float64         `json:"ask"`
	Last         float64         `json:"last"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade when
// either side of the book is empty.
func (q *ContractQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Crossed reports whether the book is inverted (ask below bid). The upstream
// feed does not guarantee ask >= bid; callers treat this as a data-quality
// warning, not an error.
func (q *ContractQuote) Crossed() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask < q.Bid
}

// OptionsChain is the assembled, filtered view of one underlying at one
// target expiration. Built fresh per analysis cycle; never cached.
type OptionsChain struct {
	Underlying       string          `json:"underlying"`
	TargetExpiration time.Time       `json:"target_expiration"`
	CurrentPrice     float64         `json:"current_price"`
	StrikeRangeMin   float64         `json:"strike_range_min"`
	StrikeRangeMax   float64         `json:"strike_range_max"`
	Calls            []ContractQuote `json:"calls"`
	Puts             []ContractQuote `json:"puts"`
}

// Validate checks the chain's structural invariants: sides hold only their
// own option type, every contract carries the target expiration, and all
// strikes lie inside the recorded band.
func (c *OptionsChain) Validate() error {
	check := func(side string, quotes []ContractQuote, want symbol.OptionType) error {
		for _, q := range quotes {
			if q.Contract.Type != want {
				return fmt.Errorf("chain %s side holds %s contract %s", side, q.Contract.Type, q.Contract.Raw)
			}
			if !sameDay(q.Contract.Expiration, c.TargetExpiration) {
				return fmt.Errorf("chain %s side holds off-expiration contract %s (want %s)",
					side, q.Contract.Raw, c.TargetExpiration.Format("2006-01-02"))
			}
			if q.Contract.Strike < c.StrikeRangeMin || q.Contract.Strike > c.StrikeRangeMax {
				return fmt.Errorf("chain %s side strike %.2f outside band [%.2f, %.2f]",
					side, q.Contract.Strike, c.StrikeRangeMin, c.StrikeRangeMax)
			}
		}
		return nil
	}
	if err := check("call", c.Calls, symbol.Call); err != nil {
		return err
	}
	return check("put", c.Puts, symbol.Put)
}

// DaysToExpiration counts whole calendar days from now until expiration,
// comparing UTC-truncated dates. Expired contracts report 0.
func DaysToExpiration(expiration, now time.Time) int {
	day := now.UTC().Truncate(24 * time.Hour)
	exp := expiration.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(day).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Truncate(24*time.Hour).Equal(b.UTC().Truncate(24 * time.Hour))
}
