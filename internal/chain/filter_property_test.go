package chain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mfinley/vertigo/internal/symbol"
)

// Property: whenever selection succeeds with a positive target, the returned
// date was present in the listing and lies inside the eight-week window.
func TestProperty_SelectExpirationDrawsFromListing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	offsetsGen := gen.SliceOf(gen.IntRange(-10, 70))
	targetGen := gen.IntRange(1, 60)

	properties.Property("result is a listed date within the window", prop.ForAll(
		func(offsets []int, target int) bool {
			listed := make(map[string]struct{}, len(offsets))
			available := make([]string, 0, len(offsets))
			for _, off := range offsets {
				date := monday.AddDate(0, 0, off).Format("2006-01-02")
				available = append(available, date)
				listed[date] = struct{}{}
			}

			result, err := SelectExpiration(monday, target, available)
			if err != nil {
				return true
			}
			if _, ok := listed[result]; !ok {
				return false
			}
			date, perr := time.Parse("2006-01-02", result)
			if perr != nil {
				return false
			}
			dte := int(date.Sub(monday).Hours() / 24)
			return dte >= 0 && dte <= expirationWindowWeeks*7
		},
		offsetsGen, targetGen,
	))

	properties.TestingRun(t)
}

// Property: the band filter keeps exactly the in-band contracts, each on its
// own side, and widening the band never removes a contract.
func TestProperty_StrikeBandFilter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	expiration := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	build := func(callHalves, putHalves []int) []symbol.Contract {
		contracts := make([]symbol.Contract, 0, len(callHalves)+len(putHalves))
		for _, h := range callHalves {
			contracts = append(contracts, symbol.Contract{
				Underlying: "SPY", Expiration: expiration, Type: symbol.Call, Strike: float64(h) / 2,
			})
		}
		for _, h := range putHalves {
			contracts = append(contracts, symbol.Contract{
				Underlying: "SPY", Expiration: expiration, Type: symbol.Put, Strike: float64(h) / 2,
			})
		}
		return contracts
	}

	strikesGen := gen.SliceOf(gen.IntRange(1, 2000))
	priceGen := gen.Float64Range(50, 900)
	dteGen := gen.IntRange(0, 45)

	properties.Property("kept set equals the in-band set, partitioned by side", prop.ForAll(
		func(callHalves, putHalves []int, price float64, dte int) bool {
			contracts := build(callHalves, putHalves)
			band := BandAround(price, dte)
			calls, puts := FilterByStrikeBand(contracts, price, dte)

			inBand := 0
			for _, c := range contracts {
				if band.Contains(c.Strike) {
					inBand++
				}
			}
			if len(calls)+len(puts) != inBand {
				return false
			}
			for _, c := range calls {
				if c.Type != symbol.Call || !band.Contains(c.Strike) {
					return false
				}
			}
			for _, c := range puts {
				if c.Type != symbol.Put || !band.Contains(c.Strike) {
					return false
				}
			}
			return true
		},
		strikesGen, strikesGen, priceGen, dteGen,
	))

	properties.Property("widening the band keeps a superset", prop.ForAll(
		func(callHalves, putHalves []int, price float64, narrow, widen float64) bool {
			contracts := build(callHalves, putHalves)
			wide := narrow + widen

			narrowCalls, narrowPuts := FilterByStrikeBand(contracts, price, 30, narrow)
			wideCalls, widePuts := FilterByStrikeBand(contracts, price, 30, wide)

			kept := make(map[float64]int)
			for _, c := range wideCalls {
				kept[c.Strike]++
			}
			for _, c := range narrowCalls {
				if kept[c.Strike] == 0 {
					return false
				}
			}
			kept = make(map[float64]int)
			for _, c := range widePuts {
				kept[c.Strike]++
			}
			for _, c := range narrowPuts {
				if kept[c.Strike] == 0 {
					return false
				}
			}
			return true
		},
		strikesGen, strikesGen, priceGen,
		gen.Float64Range(0.01, 0.25), gen.Float64Range(0.01, 0.25),
	))

	properties.TestingRun(t)
}
