// cmd/chaos/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"bookledger/internal/access"
	"bookledger/internal/chaos"
	"bookledger/internal/clients"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ledgerURL := getEnv("LEDGER_URL", "http://localhost:8080")
	owner := access.Principal(getEnv("LEDGER_OWNER", "0x0000000000000000000000000000000000000001"))

	var opts []clients.ClientOption
	if token := getEnv("OWNER_TOKEN", ""); token != "" {
		opts = append(opts, clients.WithToken(token))
	}
	client := clients.NewLedgerClient(ledgerURL, opts...)

	observe, err := time.ParseDuration(getEnv("CHAOS_OBSERVATION", "30s"))
	if err != nil {
		log.Fatalf("Invalid CHAOS_OBSERVATION: %v", err)
	}

	engine := chaos.NewChaosEngine(client, owner, logger, chaos.WithObservation(observe))
	engine.RegisterExperiments()

	gameDay := chaos.GameDay{
		Name:      "Weekly Ledger Game Day",
		Date:      time.Now(),
		Scenarios: engine.GetExperiments(),
	}

	results, err := engine.ExecuteGameDay(ctx, gameDay)
	if err != nil {
		log.Fatalf("Chaos Game Day failed: %v", err)
	}

	for _, r := range results {
		if !r.HypothesisHeld {
			log.Fatalf("Hypothesis violated in %s: %v", r.ExperimentName, r.FailedAssertions)
		}
	}
	if len(results) != len(gameDay.Scenarios) {
		log.Fatalf("Only %d of %d experiments completed", len(results), len(gameDay.Scenarios))
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
