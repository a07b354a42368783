// Command bot runs the scheduled trading pipeline: fetch market data,
// assemble an option chain, ask the completion model for a spread, and
// submit whatever survives the execution gates.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mfinley/vertigo/internal/ai"
	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/chain"
	"github.com/mfinley/vertigo/internal/config"
	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/orders"
	"github.com/mfinley/vertigo/internal/retry"
	"github.com/mfinley/vertigo/internal/storage"
	"github.com/mfinley/vertigo/internal/symbol"
)

// liveModeGracePeriod is how long the bot waits before its first live-mode
// cycle, giving the operator a window to abort.
const liveModeGracePeriod = 10 * time.Second

// Bot wires the pipeline components behind one scheduler.
type Bot struct {
	config       *config.Config
	logger       *logrus.Logger
	broker       broker.Broker
	retryClient  *retry.Client
	completer    ai.Completer
	assembler    *chain.Assembler
	storage      storage.Interface
	orderManager *orders.Manager
	dryRun       bool
}

func main() {
	var (
		configPath string
		runOnce    bool
		dryRun     bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&runOnce, "once", false, "Run a single cycle immediately and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Run the pipeline without submitting orders")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	logger.WithFields(logrus.Fields{
		"mode":       cfg.Environment.Mode,
		"underlying": cfg.Trading.Underlying,
		"target_dte": cfg.Trading.TargetDTE,
	}).Info("Starting trading bot")

	if dryRun {
		logger.Info("Dry-run mode: orders will be built but not submitted")
	} else if !cfg.IsSandbox() {
		logger.Warn("LIVE MODE - real orders will be submitted")
		logger.Warnf("Waiting %s to confirm...", liveModeGracePeriod)
		time.Sleep(liveModeGracePeriod)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := newBot(ctx, cfg, logger, dryRun)
	if err != nil {
		logger.Fatalf("Failed to initialize bot: %v", err)
	}

	if err := bot.Run(ctx, runOnce); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Info("Bot stopped")
}

// newLogger builds the process logger: stderr always, plus a rotated file
// when the config names one.
func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if cfg.Logging.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}
	return logger
}

// newBot authenticates against the broker and wires every pipeline
// component. Authentication happens eagerly so credential problems surface
// at startup instead of mid-cycle.
func newBot(ctx context.Context, cfg *config.Config, logger *logrus.Logger, dryRun bool) (*Bot, error) {
	tokens := broker.NewOAuthTokenSource(cfg.Broker.OAuthURL, cfg.Broker.ClientSecret,
		cfg.Broker.RefreshToken, cfg.Broker.AccountNumber)

	authCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	auth, err := tokens.Refresh(authCtx)
	if err != nil {
		return nil, fmt.Errorf("broker authentication: %w", err)
	}

	api := broker.NewTastyTradeAPIWithBaseURL(auth, tokens, cfg.IsSandbox(), cfg.Broker.BaseURL, logger)
	brk := broker.NewCircuitBreakerBroker(api)

	account, err := brk.GetAccountNumber(authCtx)
	if err != nil {
		return nil, fmt.Errorf("broker account lookup: %w", err)
	}
	logger.WithField("account", account).Info("Connected to broker")

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	assembler := chain.NewAssembler(&brokerQuoteFetcher{broker: brk}, logger).
		WithWorkers(cfg.Chain.Workers).
		WithFetchTimeout(cfg.GetFetchTimeout()).
		WithDropRateThreshold(cfg.Chain.DropRateThreshold)

	return &Bot{
		config:       cfg,
		logger:       logger,
		broker:       brk,
		retryClient:  retry.NewClient(logger),
		completer:    ai.NewGrokClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model),
		assembler:    assembler,
		storage:      store,
		orderManager: orders.NewManager(brk, store, logger),
		dryRun:       dryRun,
	}, nil
}

// Run drives the cycle scheduler until the context is cancelled. once runs
// a single cycle, bypassing the market-hours gate, and returns.
func (b *Bot) Run(ctx context.Context, once bool) error {
	cycle := NewTradingCycle(b)

	b.reconcileOrders(ctx)

	if once {
		cycle.Run(ctx, true)
		return nil
	}

	interval := b.config.GetCycleInterval()
	b.logger.WithField("interval", interval.String()).Info("Scheduling trading cycles")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle.Run(ctx, false)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Shutdown signal received, stopping bot")
			return nil
		case <-ticker.C:
			if !sleepWithContext(ctx, cycleJitter(interval)) {
				b.logger.Info("Shutdown signal received, stopping bot")
				return nil
			}
			cycle.Run(ctx, false)
		}
	}
}

// cycleJitter picks a random delay up to a tenth of the interval so cycles
// do not hit the broker on exact clock boundaries.
func cycleJitter(interval time.Duration) time.Duration {
	maxJitter := int64(interval / 10)
	if maxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// sleepWithContext waits for d unless the context ends first. Returns false
// when the wait was cut short.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// brokerQuoteFetcher adapts the broker's market-data call to the
// assembler's per-contract interface.
type brokerQuoteFetcher struct {
	broker broker.Broker
}

func (f *brokerQuoteFetcher) FetchQuote(ctx context.Context, optionSymbol string) (models.ContractQuote, error) {
	contract, err := symbol.Decode(optionSymbol)
	if err != nil {
		return models.ContractQuote{}, err
	}
	quote, err := f.broker.GetMarketQuote(ctx, optionSymbol)
	if err != nil {
		return models.ContractQuote{}, err
	}
	return models.ContractQuote{
		Contract:     contract,
		Bid:          quote.Bid,
		Ask:          quote.Ask,
		Last:         quote.Last,
		Volume:       quote.Volume,
		OpenInterest: quote.OpenInterest,
		Timestamp:    time.Now().UTC(),
	}, nil
}

var _ chain.QuoteFetcher = (*brokerQuoteFetcher)(nil)
