package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/chain"
	"github.com/mfinley/vertigo/internal/config"
	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/orders"
	"github.com/mfinley/vertigo/internal/retry"
	"github.com/mfinley/vertigo/internal/storage"
	"github.com/mfinley/vertigo/internal/symbol"
)

// MockBroker implements broker.Broker for tests.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) GetMarketQuote(ctx context.Context, sym string) (*broker.MarketQuote, error) {
	args := m.Called(ctx, sym)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.MarketQuote), args.Error(1)
}

func (m *MockBroker) ListOptionSymbols(ctx context.Context, underlying string) ([]broker.OptionListing, error) {
	args := m.Called(ctx, underlying)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.OptionListing), args.Error(1)
}

func (m *MockBroker) GetAccountNumber(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBroker) SubmitOrder(ctx context.Context, order models.SpreadOrder) (*broker.OrderResult, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.OrderResult), args.Error(1)
}

func (m *MockBroker) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Error(1)
}

// stubCompleter returns a canned completion and records the prompts it saw.
type stubCompleter struct {
	response string
	err      error
	prompts  []string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

// TestBot bundles a Bot with its mocked dependencies.
type TestBot struct {
	*Bot
	mockBroker  *MockBroker
	mockStorage *storage.MockStorage
	completer   *stubCompleter
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: config.EnvironmentConfig{Mode: "sandbox", LogLevel: "debug"},
		Broker: config.BrokerConfig{
			BaseURL:      "https://sandbox.example.test",
			OAuthURL:     "https://oauth.example.test",
			ClientSecret: "secret",
			RefreshToken: "refresh",
		},
		AI: config.AIConfig{
			BaseURL: "https://ai.example.test",
			APIKey:  "key",
			Model:   "grok-4",
			Timeout: "5s",
		},
		Trading: config.TradingConfig{
			Underlying:    "SPY",
			TargetDTE:     7,
			DTEOptions:    []int{0, 1, 3, 7},
			Quantity:      1,
			MinCredit:     0.50,
			MinConfidence: 70,
		},
		Schedule: config.ScheduleConfig{
			CycleInterval: "15m",
			Timezone:      "America/New_York",
			TradingStart:  "00:01",
			TradingEnd:    "23:59",
		},
		Chain:   config.ChainConfig{Workers: 5, FetchTimeout: "5s", DropRateThreshold: 0.5},
		Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "trades.json")},
	}
}

// createTestBot wires a Bot over mocks with timings fast enough for unit
// tests. No broker expectations are installed; each test primes its own.
func createTestBot(t *testing.T) *TestBot {
	t.Helper()

	mockBroker := &MockBroker{}
	mockStorage := storage.NewMockStorage()
	completer := &stubCompleter{}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bot := &Bot{
		config: testConfig(t),
		logger: logger,
		broker: mockBroker,
		retryClient: retry.NewClient(logger, retry.Config{
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Timeout:        time.Second,
		}),
		completer: completer,
		assembler: chain.NewAssembler(&brokerQuoteFetcher{broker: mockBroker}, logger).
			WithWorkers(5).
			WithFetchTimeout(time.Second),
		storage: mockStorage,
		orderManager: orders.NewManager(mockBroker, mockStorage, logger, orders.Config{
			PollInterval: 2 * time.Millisecond,
			PollTimeout:  250 * time.Millisecond,
			CallTimeout:  50 * time.Millisecond,
		}),
	}

	return &TestBot{
		Bot:         bot,
		mockBroker:  mockBroker,
		mockStorage: mockStorage,
		completer:   completer,
	}
}

// primeMarket installs quote and listing expectations for a synthetic chain
// at one expiration: every listed contract is quotable at 1.10/1.20.
func (tb *TestBot) primeMarket(t *testing.T, spot float64, exp time.Time, putStrikes, callStrikes []float64) {
	t.Helper()

	tb.mockBroker.On("GetMarketQuote", mock.Anything, "SPY").
		Return(&broker.MarketQuote{Symbol: "SPY", Last: spot}, nil)

	var listings []broker.OptionListing
	add := func(typ symbol.OptionType, strike float64) {
		sym, err := symbol.Encode(symbol.Contract{
			Underlying: "SPY",
			Expiration: exp,
			Type:       typ,
			Strike:     strike,
		})
		require.NoError(t, err)

		occType := "C"
		if typ == symbol.Put {
			occType = "P"
		}
		listings = append(listings, broker.OptionListing{
			Symbol:     sym,
			Underlying: "SPY",
			Root:       "SPY",
			Expiration: exp.Format("2006-01-02"),
			OptionType: occType,
			Strike:     strike,
		})
		tb.mockBroker.On("GetMarketQuote", mock.Anything, sym).
			Return(&broker.MarketQuote{Symbol: sym, Bid: 1.10, Ask: 1.20, Last: 1.15, Volume: 800}, nil)
	}
	for _, strike := range putStrikes {
		add(symbol.Put, strike)
	}
	for _, strike := range callStrikes {
		add(symbol.Call, strike)
	}

	tb.mockBroker.On("ListOptionSymbols", mock.Anything, "SPY").Return(listings, nil)
}

// bullPutResponse renders a completion the parser accepts.
func bullPutResponse(exp string, confidence int, shortStrike, longStrike, credit float64) string {
	return fmt.Sprintf(`Analysis complete. {"strategy_type":"BULL_PUT_SPREAD","confidence":%d,`+
		`"trade_setup":{"short_put_strike":%.0f,"long_put_strike":%.0f,"credit_received":%.2f,`+
		`"expiration":%q,"max_profit":%.0f,"max_loss":%.0f},`+
		`"risk_metrics":{"probability_of_profit":0.71},"entry_conditions":{},`+
		`"reasoning":"Support holding above the short strike."}`,
		confidence, shortStrike, longStrike, credit, exp,
		credit*100, (shortStrike-longStrike)*100-credit*100)
}

func TestNewTradingCycle_Components(t *testing.T) {
	tb := createTestBot(t)

	cycle := NewTradingCycle(tb.Bot)
	assert.NotNil(t, cycle)
	assert.Same(t, tb.Bot, cycle.bot)
}

func TestTradingCycle_ScheduledRunSkipsOutsideTradingHours(t *testing.T) {
	tb := createTestBot(t)

	// A window that ended hours ago; near midnight it wraps into an
	// inverted window, which also reads as closed.
	loc, err := time.LoadLocation(tb.config.Schedule.Timezone)
	require.NoError(t, err)
	now := time.Now().In(loc)
	tb.config.Schedule.TradingStart = now.Add(-3 * time.Hour).Format("15:04")
	tb.config.Schedule.TradingEnd = now.Add(-2 * time.Hour).Format("15:04")

	NewTradingCycle(tb.Bot).Run(context.Background(), false)

	tb.mockBroker.AssertNotCalled(t, "GetMarketQuote", mock.Anything, mock.Anything)
	assert.Empty(t, tb.mockStorage.GetCycles(), "skipped cycles must not be recorded")
}

func TestBot_Run_OnceModeBypassesHoursGate(t *testing.T) {
	tb := createTestBot(t)

	// Same closed window as above; -once must run anyway.
	loc, err := time.LoadLocation(tb.config.Schedule.Timezone)
	require.NoError(t, err)
	now := time.Now().In(loc)
	tb.config.Schedule.TradingStart = now.Add(-3 * time.Hour).Format("15:04")
	tb.config.Schedule.TradingEnd = now.Add(-2 * time.Hour).Format("15:04")

	exp := time.Now().AddDate(0, 0, 7)
	tb.primeMarket(t, 650.00, exp, []float64{640, 645}, []float64{655, 660})
	tb.completer.response = "nothing actionable today"

	err = tb.Run(context.Background(), true)
	require.NoError(t, err)

	cycles := tb.mockStorage.GetCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, storage.CycleOutcomeNoSignal, cycles[0].Outcome)
}

func TestBot_Run_GracefulShutdown(t *testing.T) {
	tb := createTestBot(t)

	// Permanent error keeps the first immediate cycle short.
	tb.mockBroker.On("GetMarketQuote", mock.Anything, "SPY").
		Return(nil, errors.New("API error 404: no quote"))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- tb.Run(ctx, false)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not shut down within timeout")
	}
}

func TestCycleJitter_Bounds(t *testing.T) {
	interval := 10 * time.Minute
	for i := 0; i < 50; i++ {
		j := cycleJitter(interval)
		if j < 0 || j >= interval/10 {
			t.Fatalf("jitter %v outside [0, %v)", j, interval/10)
		}
	}

	assert.Zero(t, cycleJitter(0))
	assert.Zero(t, cycleJitter(5*time.Nanosecond))
}

func TestSleepWithContext(t *testing.T) {
	ctx := context.Background()

	assert.True(t, sleepWithContext(ctx, 0))
	assert.True(t, sleepWithContext(ctx, time.Millisecond))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, sleepWithContext(cancelled, time.Minute))
	assert.False(t, sleepWithContext(cancelled, 0))
}

func TestBrokerQuoteFetcher_MapsQuote(t *testing.T) {
	mockBroker := &MockBroker{}
	fetcher := &brokerQuoteFetcher{broker: mockBroker}

	exp := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)
	sym, err := symbol.Encode(symbol.Contract{
		Underlying: "SPY",
		Expiration: exp,
		Type:       symbol.Put,
		Strike:     645,
	})
	require.NoError(t, err)

	mockBroker.On("GetMarketQuote", mock.Anything, sym).
		Return(&broker.MarketQuote{Symbol: sym, Bid: 1.05, Ask: 1.15, Last: 1.10, Volume: 42, OpenInterest: 913}, nil)

	quote, err := fetcher.FetchQuote(context.Background(), sym)
	require.NoError(t, err)
	assert.Equal(t, "SPY", quote.Contract.Underlying)
	assert.Equal(t, symbol.Put, quote.Contract.Type)
	assert.InDelta(t, 645.0, quote.Contract.Strike, 1e-9)
	assert.InDelta(t, 1.05, quote.Bid, 1e-9)
	assert.InDelta(t, 1.15, quote.Ask, 1e-9)
	assert.EqualValues(t, 42, quote.Volume)
	assert.EqualValues(t, 913, quote.OpenInterest)
	assert.False(t, quote.Timestamp.IsZero())
}

func TestBrokerQuoteFetcher_RejectsBadSymbolWithoutCalling(t *testing.T) {
	mockBroker := &MockBroker{}
	fetcher := &brokerQuoteFetcher{broker: mockBroker}

	_, err := fetcher.FetchQuote(context.Background(), "not-an-option")
	require.Error(t, err)
	mockBroker.AssertNotCalled(t, "GetMarketQuote", mock.Anything, mock.Anything)
}
