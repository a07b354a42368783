package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mfinley/vertigo/internal/ai"
	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/chain"
	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/orders"
	"github.com/mfinley/vertigo/internal/retry"
	"github.com/mfinley/vertigo/internal/signal"
	"github.com/mfinley/vertigo/internal/spread"
	"github.com/mfinley/vertigo/internal/storage"
	"github.com/mfinley/vertigo/internal/symbol"
)

// TradingCycle runs one full pass of the pipeline: market data in, spread
// order out, a cycle record persisted whatever happens in between.
type TradingCycle struct {
	bot *Bot
}

// NewTradingCycle creates a cycle handler bound to the bot's components.
func NewTradingCycle(bot *Bot) *TradingCycle {
	return &TradingCycle{bot: bot}
}

// Run executes one trading cycle. forced bypasses the market-hours gate for
// operator-driven runs; scheduled runs outside trading hours are skipped
// without recording anything.
func (tc *TradingCycle) Run(ctx context.Context, forced bool) {
	cfg := tc.bot.config

	if !forced && !cfg.IsWithinTradingHours(time.Now()) {
		tc.bot.logger.Infof("Outside trading hours (%s-%s %s), skipping cycle",
			cfg.Schedule.TradingStart, cfg.Schedule.TradingEnd, cfg.Schedule.Timezone)
		return
	}

	tc.bot.logger.WithFields(logrus.Fields{
		"underlying": cfg.Trading.Underlying,
		"target_dte": cfg.Trading.TargetDTE,
	}).Info("Starting trading cycle")

	rec := &storage.CycleRecord{
		Timestamp:  time.Now().UTC(),
		Underlying: cfg.Trading.Underlying,
		TargetDTE:  cfg.Trading.TargetDTE,
	}
	defer tc.finishCycle(rec)

	// Spot price
	spot, err := tc.fetchSpot(ctx)
	if err != nil {
		tc.fail(rec, fmt.Errorf("fetch spot price: %w", err))
		return
	}
	rec.Spot = spot
	tc.bot.logger.Infof("%s trading at $%.2f", cfg.Trading.Underlying, spot)

	// Chain listing and expiration selection
	listings, err := retry.Do(ctx, tc.bot.retryClient, "chain listing",
		func(ctx context.Context) ([]broker.OptionListing, error) {
			return tc.bot.broker.ListOptionSymbols(ctx, cfg.Trading.Underlying)
		})
	if err != nil {
		tc.fail(rec, fmt.Errorf("list option symbols: %w", err))
		return
	}

	expiration, err := chain.SelectExpiration(time.Now(), cfg.Trading.TargetDTE, listedExpirations(listings))
	if err != nil {
		tc.bot.logger.WithError(err).Warn("No usable expiration for target DTE")
		rec.Outcome = storage.CycleOutcomeNoContracts
		rec.Detail = err.Error()
		return
	}
	rec.Expiration = expiration

	// Strike-band filter
	symbols := make([]string, 0, len(listings))
	for _, listing := range listings {
		symbols = append(symbols, listing.Symbol)
	}
	contracts := chain.ForExpiration(chain.DecodeSymbols(symbols, tc.bot.logger), expiration)

	var overrides []float64
	if override, ok := cfg.BandOverride(cfg.Trading.TargetDTE); ok {
		overrides = append(overrides, override)
	}
	band := chain.BandAround(spot, cfg.Trading.TargetDTE, overrides...)
	calls, puts := chain.FilterByStrikeBand(contracts, spot, cfg.Trading.TargetDTE, overrides...)
	if len(calls) == 0 && len(puts) == 0 {
		tc.bot.logger.Warnf("No %s strikes within [%.2f, %.2f]", expiration, band.Low, band.High)
		rec.Outcome = storage.CycleOutcomeNoContracts
		rec.Detail = fmt.Sprintf("no strikes in [%.2f, %.2f]", band.Low, band.High)
		return
	}

	// Chain assembly
	expTime, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		tc.fail(rec, fmt.Errorf("parse expiration %q: %w", expiration, err))
		return
	}
	chainData, health, err := tc.bot.assembler.Assemble(ctx, cfg.Trading.Underlying, expTime,
		spot, band, rawSymbols(calls), rawSymbols(puts))
	if err != nil {
		tc.fail(rec, fmt.Errorf("assemble chain: %w", err))
		return
	}
	rec.CallsPriced = len(chainData.Calls)
	rec.PutsPriced = len(chainData.Puts)
	rec.QuotesDropped = health.Dropped
	rec.Degraded = health.Degraded
	if health.Fetched == 0 {
		tc.bot.logger.Warn("Every quote fetch in the band failed, nothing to analyze")
		rec.Outcome = storage.CycleOutcomeNoContracts
		rec.Detail = "no contracts priced"
		return
	}

	// Model analysis
	prompt := ai.BuildPrompt(chainData, cfg.Trading.TargetDTE)
	aiCtx, cancel := context.WithTimeout(ctx, cfg.GetAITimeout())
	response, err := tc.bot.completer.Complete(aiCtx, prompt)
	cancel()
	if err != nil {
		tc.fail(rec, fmt.Errorf("completion: %w", err))
		return
	}

	sig, err := signal.Parse(response)
	if err != nil {
		tc.bot.logger.WithError(err).Info("No actionable signal this cycle")
		rec.Outcome = storage.CycleOutcomeNoSignal
		rec.Detail = err.Error()
		return
	}
	if err := tc.bot.storage.RecordSignal(*sig); err != nil {
		tc.bot.logger.WithError(err).Warn("Failed to persist signal")
	}
	tc.bot.logger.WithFields(logrus.Fields{
		"strategy":   sig.Strategy,
		"short":      sig.ShortStrike,
		"long":       sig.LongStrike,
		"credit":     sig.CreditReceived,
		"confidence": sig.Confidence,
	}).Info("Parsed trade signal")

	// Execution gates
	if sig.Confidence < cfg.Trading.MinConfidence {
		tc.bot.logger.Infof("Confidence %d below minimum %d, standing down",
			sig.Confidence, cfg.Trading.MinConfidence)
		rec.Outcome = storage.CycleOutcomeBelowConfidence
		rec.Detail = fmt.Sprintf("confidence %d < %d", sig.Confidence, cfg.Trading.MinConfidence)
		return
	}
	if sig.Strategy.IsCredit() && sig.CreditReceived < cfg.Trading.MinCredit {
		tc.bot.logger.Infof("Credit $%.2f below minimum $%.2f, standing down",
			sig.CreditReceived, cfg.Trading.MinCredit)
		rec.Outcome = storage.CycleOutcomeBelowMinCredit
		rec.Detail = fmt.Sprintf("credit %.2f < %.2f", sig.CreditReceived, cfg.Trading.MinCredit)
		return
	}

	// Order construction
	order, err := spread.Build(sig, cfg.Trading.Underlying, cfg.Trading.Quantity)
	if err != nil {
		var buildErr *spread.BuildError
		if errors.As(err, &buildErr) {
			tc.bot.logger.WithError(err).Warn("Signal rejected by order builder")
			rec.Outcome = storage.CycleOutcomeBuildRejected
			rec.Detail = buildErr.Error()
			return
		}
		tc.fail(rec, fmt.Errorf("build order: %w", err))
		return
	}

	if tc.bot.dryRun {
		tc.bot.logger.WithFields(logrus.Fields{
			"strategy":    sig.Strategy,
			"limit_price": order.LimitPrice,
			"quantity":    cfg.Trading.Quantity,
		}).Info("Dry run: order built, not submitting")
		rec.Outcome = storage.CycleOutcomeDryRun
		rec.Detail = fmt.Sprintf("%s %.0f/%.0f @ $%.2f",
			sig.Strategy, sig.ShortStrike, sig.LongStrike, order.LimitPrice)
		return
	}

	// Submission and tracking
	orderRec, err := tc.bot.orderManager.Submit(ctx, *order, *sig)
	if err != nil {
		if errors.Is(err, orders.ErrAuthExpired) {
			tc.bot.logger.Error("Broker credentials expired during submission")
			rec.Outcome = storage.CycleOutcomeAuthExpired
			rec.Detail = err.Error()
			return
		}
		tc.fail(rec, fmt.Errorf("submit order: %w", err))
		return
	}
	if orderRec.State == models.OrderRejected {
		tc.bot.logger.WithField("broker_status", orderRec.BrokerStatus).Warn("Order rejected by broker")
		rec.Outcome = storage.CycleOutcomeOrderRejected
		rec.Detail = orderRec.BrokerStatus
		return
	}

	final, err := tc.bot.orderManager.PollToTerminal(ctx, orderRec)
	if err != nil {
		tc.bot.logger.WithError(err).Warn("Order polling ended before a terminal state")
	}
	tc.bot.logger.WithFields(logrus.Fields{
		"order_id": shortID(orderRec.ID),
		"state":    final,
	}).Info("Order tracking finished")
	rec.Outcome = storage.CycleOutcomeSubmitted
	rec.Detail = fmt.Sprintf("order %s %s", shortID(orderRec.ID), final)
}

// fetchSpot returns the underlying's current trade price.
func (tc *TradingCycle) fetchSpot(ctx context.Context) (float64, error) {
	underlying := tc.bot.config.Trading.Underlying
	quote, err := retry.Do(ctx, tc.bot.retryClient, "market quote",
		func(ctx context.Context) (*broker.MarketQuote, error) {
			return tc.bot.broker.GetMarketQuote(ctx, underlying)
		})
	if err != nil {
		return 0, err
	}
	if price := quote.Price(); price > 0 {
		return price, nil
	}
	return 0, fmt.Errorf("no market data for %s", underlying)
}

func (tc *TradingCycle) fail(rec *storage.CycleRecord, err error) {
	tc.bot.logger.WithError(err).Error("Trading cycle failed")
	rec.Outcome = storage.CycleOutcomeError
	rec.Detail = err.Error()
}

// finishCycle persists the cycle record whatever the outcome.
func (tc *TradingCycle) finishCycle(rec *storage.CycleRecord) {
	if rec.Outcome == "" {
		rec.Outcome = storage.CycleOutcomeError
	}
	if err := tc.bot.storage.RecordCycle(*rec); err != nil {
		tc.bot.logger.WithError(err).Warn("Failed to persist cycle record")
	}
	tc.bot.logger.WithFields(logrus.Fields{
		"outcome":        rec.Outcome,
		"calls_priced":   rec.CallsPriced,
		"puts_priced":    rec.PutsPriced,
		"quotes_dropped": rec.QuotesDropped,
	}).Info("Trading cycle complete")
}

// listedExpirations collects the distinct expiration dates in a chain
// listing, preserving the broker's order.
func listedExpirations(listings []broker.OptionListing) []string {
	seen := make(map[string]struct{}, len(listings))
	out := make([]string, 0, 8)
	for _, listing := range listings {
		if _, ok := seen[listing.Expiration]; ok {
			continue
		}
		seen[listing.Expiration] = struct{}{}
		out = append(out, listing.Expiration)
	}
	return out
}

// rawSymbols extracts the broker wire symbols from decoded contracts.
func rawSymbols(contracts []symbol.Contract) []string {
	out := make([]string, len(contracts))
	for i, c := range contracts {
		out[i] = c.Raw
	}
	return out
}
