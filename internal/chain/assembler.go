package chain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mfinley/vertigo/internal/models"
)

const (
	defaultWorkers       = 8
	defaultFetchTimeout  = 8 * time.Second
	defaultDropThreshold = 0.5
)

// QuoteFetcher prices a single option contract by its wire symbol.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, optionSymbol string) (models.ContractQuote, error)
}

// Health summarizes one assembly pass: how many contracts were requested,
// how many priced, and whether the drop rate crossed the degradation
// threshold. A degraded chain is still usable; downstream consumers decide
// whether to act on it.
type Health struct {
	Requested int
	Fetched   int
	Dropped   int
	Degraded  bool
}

// DropRate is the fraction of requested contracts that failed to price.
func (h Health) DropRate() float64 {
	if h.Requested == 0 {
		return 0
	}
	return float64(h.Dropped) / float64(h.Requested)
}

// Assembler turns filtered contract symbols into a priced OptionsChain by
// fetching per-contract quotes over a bounded worker pool. Individual fetch
// failures drop the contract and continue; only parent context cancellation
// aborts the pass.
type Assembler struct {
	fetcher       QuoteFetcher
	logger        *logrus.Logger
	workers       int
	fetchTimeout  time.Duration
	dropThreshold float64
}

// NewAssembler creates an Assembler with default pool and timeout settings.
// Panics if fetcher or logger is nil.
func NewAssembler(fetcher QuoteFetcher, logger *logrus.Logger) *Assembler {
	if fetcher == nil {
		panic("chain: fetcher is required")
	}
	if logger == nil {
		panic("chain: logger is required")
	}
	return &Assembler{
		fetcher:       fetcher,
		logger:        logger,
		workers:       defaultWorkers,
		fetchTimeout:  defaultFetchTimeout,
		dropThreshold: defaultDropThreshold,
	}
}

// WithWorkers sets the quote-fetch pool size. Non-positive values are ignored.
func (a *Assembler) WithWorkers(n int) *Assembler {
	if n > 0 {
		a.workers = n
	}
	return a
}

// WithFetchTimeout sets the per-contract fetch deadline. Non-positive values
// are ignored.
func (a *Assembler) WithFetchTimeout(d time.Duration) *Assembler {
	if d > 0 {
		a.fetchTimeout = d
	}
	return a
}

// WithDropRateThreshold sets the drop-rate fraction above which the chain is
// flagged degraded. Non-positive values are ignored.
func (a *Assembler) WithDropRateThreshold(r float64) *Assembler {
	if r > 0 {
		a.dropThreshold = r
	}
	return a
}

// Assemble fetches quotes for the given call and put symbols and builds the
// chain for one underlying at one expiration. The band records the strike
// window the symbols were filtered to. Contracts whose quotes cannot be
// fetched are dropped and counted in Health; the error return is reserved
// for context cancellation.
func (a *Assembler) Assemble(ctx context.Context, underlying string, expiration time.Time,
	currentPrice float64, band Band, callSymbols, putSymbols []string) (*models.OptionsChain, Health, error) {

	symbols := make([]string, 0, len(callSymbols)+len(putSymbols))
	symbols = append(symbols, callSymbols...)
	symbols = append(symbols, putSymbols...)

	quotes, fetched, err := a.fetchAll(ctx, symbols)
	if err != nil {
		return nil, Health{}, err
	}

	health := Health{Requested: len(symbols)}
	result := &models.OptionsChain{
		Underlying:       underlying,
		TargetExpiration: expiration,
		CurrentPrice:     currentPrice,
		StrikeRangeMin:   band.Low,
		StrikeRangeMax:   band.High,
	}
	for i := range symbols {
		if !fetched[i] {
			health.Dropped++
			continue
		}
		health.Fetched++
		if i < len(callSymbols) {
			result.Calls = append(result.Calls, quotes[i])
		} else {
			result.Puts = append(result.Puts, quotes[i])
		}
	}
	sortQuotes(result.Calls)
	sortQuotes(result.Puts)

	if health.DropRate() > a.dropThreshold {
		health.Degraded = true
		a.logger.WithFields(logrus.Fields{
			"underlying": underlying,
			"expiration": expiration.Format("2006-01-02"),
			"requested":  health.Requested,
			"dropped":    health.Dropped,
			"drop_rate":  fmt.Sprintf("%.2f", health.DropRate()),
		}).Warn("Chain assembly degraded by quote drop rate")
	}

	return result, health, nil
}

// fetchAll prices all symbols over the worker pool. Results are positional:
// fetched[i] reports whether quotes[i] is valid. A fetch error drops that
// contract unless the parent context is done, which aborts the whole pass.
func (a *Assembler) fetchAll(ctx context.Context, symbols []string) ([]models.ContractQuote, []bool, error) {
	quotes := make([]models.ContractQuote, len(symbols))
	fetched := make([]bool, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, sym := range symbols {
		i, sym := i, sym // per-iteration copies; required while building with go < 1.22
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.fetchTimeout)
			defer cancel()

			quote, err := a.fetcher.FetchQuote(fctx, sym)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.WithError(err).WithField("symbol", sym).Warn("Dropping contract after failed quote fetch")
				return nil
			}
			quotes[i] = quote
			fetched[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return quotes, fetched, nil
}

func sortQuotes(quotes []models.ContractQuote) {
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].Contract.Strike != quotes[j].Contract.Strike {
			return quotes[i].Contract.Strike < quotes[j].Contract.Strike
		}
		return quotes[i].Contract.Raw < quotes[j].Contract.Raw
	})
}
