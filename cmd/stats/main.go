// Command stats summarizes the trade journal: cycle outcomes, signal mix,
// order states, and anything that looks stuck. Read-only; safe to run while
// the bot is live.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/mfinley/vertigo/internal/config"
	"github.com/mfinley/vertigo/internal/storage"
)

// staleOrderAge is how long an order may sit non-terminal before the
// report flags it.
const staleOrderAge = 24 * time.Hour

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output statistics as JSON")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *verbose {
		fmt.Printf("Using config: %s\n", *configPath)
		fmt.Printf("Journal: %s\n", cfg.Storage.Path)
		fmt.Printf("Underlying: %s (mode: %s)\n\n", cfg.Trading.Underlying, cfg.Environment.Mode)
	}

	store, err := storage.NewJSONStorage(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	stats := store.GetStatistics()

	if *jsonOutput {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal statistics: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("=== TRADE JOURNAL ===\n")
	fmt.Printf("Cycles run:       %d\n", stats.TotalCycles)
	fmt.Printf("Signals parsed:   %d\n", stats.TotalSignals)
	strategies := make([]string, 0, len(stats.SignalsByStrategy))
	for strategy := range stats.SignalsByStrategy {
		strategies = append(strategies, strategy)
	}
	sort.Strings(strategies)
	for _, strategy := range strategies {
		fmt.Printf("  %-18s %d\n", strategy+":", stats.SignalsByStrategy[strategy])
	}
	fmt.Printf("Orders submitted: %d\n", stats.OrdersSubmitted)
	fmt.Printf("  filled:    %d\n", stats.OrdersFilled)
	fmt.Printf("  cancelled: %d\n", stats.OrdersCancelled)
	fmt.Printf("  rejected:  %d\n", stats.OrdersRejected)
	fmt.Printf("Credit submitted: $%.2f\n", stats.CreditSubmitted)
	if !stats.LastCycleAt.IsZero() {
		fmt.Printf("Last cycle:       %s\n", stats.LastCycleAt.Format(time.RFC3339))
	}
	fmt.Printf("\n=== ANALYSIS ===\n")

	issues := analyzeJournal(store)
	if len(issues) == 0 {
		fmt.Println("No obvious issues detected.")
		return
	}
	fmt.Println("POTENTIAL ISSUES FOUND:")
	for i, issue := range issues {
		fmt.Printf("  %d. %s\n", i+1, issue)
	}
}

// analyzeJournal flags conditions an operator should look at: orders stuck
// non-terminal past the polling horizon, and a journal dominated by
// rejections or errors.
func analyzeJournal(store storage.Interface) []string {
	var issues []string

	orders := store.GetOrders()
	stuck := 0
	for _, rec := range orders {
		if !rec.State.IsTerminal() && time.Since(rec.UpdatedAt) > staleOrderAge {
			stuck++
		}
	}
	if stuck > 0 {
		issues = append(issues, fmt.Sprintf(
			"%d order(s) non-terminal for over %s; the bot reconciles them at startup, or check the broker directly",
			stuck, staleOrderAge))
	}

	stats := store.GetStatistics()
	if stats.OrdersSubmitted >= 4 && stats.OrdersRejected > stats.OrdersFilled {
		issues = append(issues, fmt.Sprintf(
			"more rejections (%d) than fills (%d); check account permissions and limit pricing",
			stats.OrdersRejected, stats.OrdersFilled))
	}

	errored := 0
	for _, cycle := range store.GetCycles() {
		if cycle.Outcome == storage.CycleOutcomeError {
			errored++
		}
	}
	if stats.TotalCycles > 0 && errored*2 > stats.TotalCycles {
		issues = append(issues, fmt.Sprintf(
			"%d of %d cycles ended in errors; check broker connectivity and credentials",
			errored, stats.TotalCycles))
	}

	return issues
}
