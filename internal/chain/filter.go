// Package chain narrows an underlying's raw option listing to one target
// expiration and strike band, then assembles the surviving contracts into a
// priced chain.
package chain

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mfinley/vertigo/internal/symbol"
)

// expirationWindowWeeks bounds the candidate-Friday enumeration.
const expirationWindowWeeks = 8

// Default band half-widths by DTE bucket. Near-dated contracts get wider
// bands: realized intraday range is large relative to their time value.
const (
	bandSameDay    = 0.08
	bandShortDated = 0.06
	bandDefault    = 0.05
)

// FilterError reports that expiration selection had nothing to choose from:
// no expirations listed at all, or none inside the selection window. Distinct
// from an empty band-filter result, which is valid.
type FilterError struct {
	Reason string
}

func (e *FilterError) Error() string {
	return "chain filter: " + e.Reason
}

// SelectExpiration maps a requested DTE bucket onto a listed expiration
// date (YYYY-MM-DD). A target of 0 returns today; the product only lists
// same-day expirations on some days, so callers must not assume the result
// is tradeable. Otherwise candidate Fridays over the next 8 weeks are
// matched against the listing and the one with actual DTE nearest the
// target wins, ties toward the earlier date. When no listed expiration
// falls on a Friday (midweek listings, holiday shifts), the nearest listed
// date inside the window is used instead.
func SelectExpiration(today time.Time, targetDTE int, available []string) (string, error) {
	if len(available) == 0 {
		return "", &FilterError{Reason: "no expirations listed"}
	}
	day := today.UTC().Truncate(24 * time.Hour)
	if targetDTE == 0 {
		return day.Format("2006-01-02"), nil
	}

	listed := make(map[string]struct{}, len(available))
	for _, exp := range available {
		listed[exp] = struct{}{}
	}

	type candidate struct {
		date string
		dte  int
	}
	var candidates []candidate

	firstFriday := day.AddDate(0, 0, daysToFriday(day.Weekday()))
	for i := 0; i < expirationWindowWeeks; i++ {
		date := firstFriday.AddDate(0, 0, 7*i)
		key := date.Format("2006-01-02")
		if _, ok := listed[key]; ok {
			candidates = append(candidates, candidate{date: key, dte: int(date.Sub(day).Hours() / 24)})
		}
	}

	if len(candidates) == 0 {
		const window = expirationWindowWeeks * 7
		for key := range listed {
			date, err := time.Parse("2006-01-02", key)
			if err != nil {
				continue
			}
			dte := int(date.Sub(day).Hours() / 24)
			if dte < 0 || dte > window {
				continue
			}
			candidates = append(candidates, candidate{date: key, dte: dte})
		}
	}
	if len(candidates) == 0 {
		return "", &FilterError{Reason: fmt.Sprintf("no expirations within %d weeks", expirationWindowWeeks)}
	}

	best := candidates[0]
	bestDist := distance(best.dte, targetDTE)
	for _, c := range candidates[1:] {
		d := distance(c.dte, targetDTE)
		if d < bestDist || (d == bestDist && c.date < best.date) {
			best = c
			bestDist = d
		}
	}
	return best.date, nil
}

// NextFridayDTE returns days until the next weekly expiration. On a Friday
// it returns 7, pointing at the following week.
func NextFridayDTE(now time.Time) int {
	return daysToFriday(now.UTC().Weekday())
}

func daysToFriday(wd time.Weekday) int {
	days := (int(time.Friday) - int(wd) + 7) % 7
	if days == 0 {
		days = 7
	}
	return days
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// DecodeSymbols decodes a raw symbol listing, logging and skipping any that
// fail. One bad symbol never aborts a listing.
func DecodeSymbols(symbols []string, logger *logrus.Logger) []symbol.Contract {
	contracts := make([]symbol.Contract, 0, len(symbols))
	for _, s := range symbols {
		c, err := symbol.Decode(s)
		if err != nil {
			logger.WithError(err).WithField("symbol", s).Warn("Skipping undecodable option symbol")
			continue
		}
		contracts = append(contracts, c)
	}
	return contracts
}

// ForExpiration keeps contracts expiring on the given date (YYYY-MM-DD).
// An unparseable date keeps nothing.
func ForExpiration(contracts []symbol.Contract, expiration string) []symbol.Contract {
	target, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return nil
	}

	kept := make([]symbol.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.Expiration.Equal(target) {
			kept = append(kept, c)
		}
	}
	return kept
}

// Band is the inclusive strike window applied by one filter pass.
type Band struct {
	Pct  float64
	Low  float64
	High float64
}

// Contains reports whether a strike falls inside the band, bounds included.
func (b Band) Contains(strike float64) bool {
	return strike >= b.Low && strike <= b.High
}

// BandForDTE returns the default band half-width for a DTE bucket.
func BandForDTE(dte int) float64 {
	switch {
	case dte == 0:
		return bandSameDay
	case dte == 1 || dte == 2:
		return bandShortDated
	default:
		return bandDefault
	}
}

// BandAround computes the strike window for a price at a DTE bucket. A
// positive override replaces the bucket default.
func BandAround(currentPrice float64, targetDTE int, override ...float64) Band {
	pct := BandForDTE(targetDTE)
	if len(override) > 0 && override[0] > 0 {
		pct = override[0]
	}
	return Band{
		Pct:  pct,
		Low:  currentPrice * (1 - pct),
		High: currentPrice * (1 + pct),
	}
}

// FilterByStrikeBand keeps contracts whose strikes fall inside the band
// around currentPrice and partitions them by option type, each side sorted
// ascending by strike. Empty sides are a valid result, not an error.
func FilterByStrikeBand(contracts []symbol.Contract, currentPrice float64, targetDTE int,
	bandOverride ...float64) (calls, puts []symbol.Contract) {
	band := BandAround(currentPrice, targetDTE, bandOverride...)

	for _, c := range contracts {
		if !band.Contains(c.Strike) {
			continue
		}
		switch c.Type {
		case symbol.Call:
			calls = append(calls, c)
		case symbol.Put:
			puts = append(puts, c)
		}
	}

	sortContracts(calls)
	sortContracts(puts)
	return calls, puts
}

func sortContracts(contracts []symbol.Contract) {
	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].Strike != contracts[j].Strike {
			return contracts[i].Strike < contracts[j].Strike
		}
		return contracts[i].Raw < contracts[j].Raw
	})
}
