package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/storage"
	"github.com/mfinley/vertigo/internal/symbol"
)

func TestRun_EndToEnd_SubmitsAndTracksOrder(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	expStr := exp.Format("2006-01-02")
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = bullPutResponse(expStr, 80, 645, 640, 1.15)

	var submitted models.SpreadOrder
	tb.mockBroker.On("SubmitOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			submitted = args.Get(1).(models.SpreadOrder)
		}).
		Return(&broker.OrderResult{
			Outcome: broker.OutcomeAccepted,
			OrderID: "90001",
			Status:  "Routed",
		}, nil)
	tb.mockBroker.On("GetOrderStatus", mock.Anything, "90001").Return("Filled", nil)

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	rec := cycles[0]
	assert.Equal(t, storage.CycleOutcomeSubmitted, rec.Outcome)
	assert.InDelta(t, 650.00, rec.Spot, 1e-9)
	assert.Equal(t, expStr, rec.Expiration)
	assert.Equal(t, 2, rec.CallsPriced)
	assert.Equal(t, 2, rec.PutsPriced)
	assert.Equal(t, 0, rec.QuotesDropped)
	assert.False(t, rec.Degraded)
	assert.Contains(t, rec.Detail, string(models.OrderFilled))

	signals := tb.mockStorage.GetSignals()
	require.Len(t, signals, 1)
	assert.Equal(t, models.BullPutSpread, signals[0].Strategy)

	orderRecs := tb.mockStorage.GetOrders()
	require.Len(t, orderRecs, 1)
	assert.Equal(t, models.OrderFilled, orderRecs[0].State)
	assert.Equal(t, "90001", orderRecs[0].BrokerOrderID)

	require.Len(t, submitted.Legs, 2)
	assert.Equal(t, "SPY", submitted.Underlying)
	assert.Equal(t, models.Credit, submitted.PriceEffect)
	assert.InDelta(t, 1.15, submitted.LimitPrice, 1e-9)
	assert.Equal(t, models.SellToOpen, submitted.Legs[0].Action)
	assert.Equal(t, models.BuyToOpen, submitted.Legs[1].Action)

	require.Len(t, tb.completer.prompts, 1)
	assert.Contains(t, tb.completer.prompts[0], expStr)
}

func TestRun_NoContractsInBand(t *testing.T) {
	tb := createTestBot(t)

	// Strikes far outside the 5% band around 650.
	exp := time.Now().UTC().AddDate(0, 0, 7)
	tb.primeMarket(t, 650.00, exp, []float64{500}, []float64{800})

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeNoContracts, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "no strikes in")
	assert.Empty(t, tb.completer.prompts, "model must not be consulted without a chain")
}

func TestRun_NoSignal(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = "NO_TRADE: implied vol too rich to sell into, sitting out."

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeNoSignal, cycles[0].Outcome)
	assert.Empty(t, tb.mockStorage.GetSignals())
	tb.mockBroker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestRun_RecordsSignalThenStopsBelowConfidence(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	expStr := exp.Format("2006-01-02")
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = bullPutResponse(expStr, 55, 645, 640, 1.15)

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeBelowConfidence, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "55 < 70")

	// The signal is history even when the gate stops it.
	assert.Len(t, tb.mockStorage.GetSignals(), 1)
	assert.Empty(t, tb.mockStorage.GetOrders())
	tb.mockBroker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestRun_BelowMinCredit(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	expStr := exp.Format("2006-01-02")
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = bullPutResponse(expStr, 80, 645, 640, 0.10)

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeBelowMinCredit, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "0.10 < 0.50")
	tb.mockBroker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestRun_DryRunBuildsWithoutSubmitting(t *testing.T) {
	tb := createTestBot(t)
	tb.Bot.dryRun = true

	exp := time.Now().UTC().AddDate(0, 0, 7)
	expStr := exp.Format("2006-01-02")
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = bullPutResponse(expStr, 80, 645, 640, 1.15)

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeDryRun, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "645/640")

	assert.Len(t, tb.mockStorage.GetSignals(), 1)
	assert.Empty(t, tb.mockStorage.GetOrders())
	tb.mockBroker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestRun_OrderRejectedByBroker(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	expStr := exp.Format("2006-01-02")
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = bullPutResponse(expStr, 80, 645, 640, 1.15)

	rejection := `{"error":{"message":"margin exceeded"}}`
	tb.mockBroker.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&broker.OrderResult{Outcome: broker.OutcomeRejected, Body: rejection}, nil)

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeOrderRejected, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "margin exceeded")

	// The rejection is persisted as an order record, not discarded.
	orderRecs := tb.mockStorage.GetOrders()
	require.Len(t, orderRecs, 1)
	assert.Equal(t, models.OrderRejected, orderRecs[0].State)
	tb.mockBroker.AssertNotCalled(t, "GetOrderStatus", mock.Anything, mock.Anything)
}

func TestRun_AuthExpiredStandsDown(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	expStr := exp.Format("2006-01-02")
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = bullPutResponse(expStr, 80, 645, 640, 1.15)

	tb.mockBroker.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&broker.OrderResult{Outcome: broker.OutcomeAuthExpired}, nil)

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeAuthExpired, cycles[0].Outcome)
	assert.Empty(t, tb.mockStorage.GetOrders())
}

func TestRun_SpotFailureRecordsError(t *testing.T) {
	tb := createTestBot(t)

	tb.mockBroker.On("GetMarketQuote", mock.Anything, "SPY").
		Return(nil, errors.New("quote feed offline"))

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeError, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "fetch spot price")
	tb.mockBroker.AssertNotCalled(t, "ListOptionSymbols", mock.Anything, mock.Anything)
}

func TestRun_CompleterFailureRecordsError(t *testing.T) {
	tb := createTestBot(t)

	exp := time.Now().UTC().AddDate(0, 0, 7)
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.err = errors.New("503 model overloaded")

	NewTradingCycle(tb.Bot).Run(context.Background(), true)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeError, cycles[0].Outcome)
	assert.Contains(t, cycles[0].Detail, "completion")
	tb.mockBroker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestListedExpirations_DedupesPreservingOrder(t *testing.T) {
	listings := []broker.OptionListing{
		{Symbol: "a", Expiration: "2025-12-19"},
		{Symbol: "b", Expiration: "2025-12-19"},
		{Symbol: "c", Expiration: "2025-12-26"},
		{Symbol: "d", Expiration: "2025-12-19"},
		{Symbol: "e", Expiration: "2026-01-02"},
	}

	got := listedExpirations(listings)
	assert.Equal(t, []string{"2025-12-19", "2025-12-26", "2026-01-02"}, got)

	assert.Empty(t, listedExpirations(nil))
}

func TestRawSymbols(t *testing.T) {
	contracts := []symbol.Contract{
		{Underlying: "SPY", Raw: "SPY   251219P00645000"},
		{Underlying: "SPY", Raw: "SPY   251219C00655000"},
	}

	got := rawSymbols(contracts)
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "SPY"))
	assert.Equal(t, "SPY   251219P00645000", got[0])
	assert.Equal(t, "SPY   251219C00655000", got[1])
}
