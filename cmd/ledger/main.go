// cmd/ledger/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
	"bookledger/internal/ledger"
)

const loadBatch = 1000

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	owner := access.Principal(getEnv("LEDGER_OWNER", "0x0000000000000000000000000000000000000001"))

	l, relay, closeDB, err := openLedger(ctx, logger, owner)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer closeDB()

	svc := ledger.NewService(l, logger)

	if path := getEnv("SEED_FILE", ""); path != "" && len(l.GetAllBookIDs()) == 0 {
		seed, err := ledger.LoadSeed(path)
		if err != nil {
			log.Fatalf("Failed to load seed file: %v", err)
		}
		ids, err := ledger.ApplySeed(ctx, svc, owner, seed)
		if err != nil {
			log.Fatalf("Failed to seed catalog: %v", err)
		}
		logger.Info("catalog seeded", "file", path, "books", len(ids))
	}

	creds := access.NewCredentials()
	if token := getEnv("OWNER_TOKEN", ""); token != "" {
		if err := creds.Register(owner, token); err != nil {
			log.Fatalf("Failed to register owner token: %v", err)
		}
	} else {
		logger.Warn("OWNER_TOKEN not set, owner requests are not authenticated")
	}

	limiter := access.NewRateLimiter(
		getEnvFloat("RATE_LIMIT_RPS", 50),
		getEnvInt("RATE_LIMIT_BURST", 100),
	)

	handler := ledger.NewHandler(svc)
	router := ledger.NewRouter(handler, access.Identify(creds), limiter.Middleware)

	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if relay == nil {
			<-ctx.Done()
			return
		}
		if err := relay.Run(ctx); err != nil {
			logger.Error("event relay exited", "error", err)
		}
	}()

	go func() {
		logger.Info("starting book ledger", "port", port, "owner", owner, "events", l.Log().Last())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	<-relayDone
	if relay != nil {
		if err := relay.Flush(shutdownCtx); err != nil {
			logger.Error("final event flush failed", "error", err)
		}
	}
}

// openLedger rebuilds the ledger from DATABASE_URL when set, and returns a
// relay mirroring new events there. Without a database the ledger is
// memory-only and relay is nil.
func openLedger(ctx context.Context, logger *slog.Logger, owner access.Principal) (*ledger.Ledger, *eventlog.Relay, func(), error) {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		logger.Warn("DATABASE_URL not set, events are kept in memory only")
		return ledger.New(owner), nil, func() {}, nil
	}

	driver := getEnv("DB_DRIVER", "postgres")
	db, err := sql.Open(driver, dbURL)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() { db.Close() }

	if err := db.PingContext(ctx); err != nil {
		closeDB()
		return nil, nil, nil, err
	}

	store := eventlog.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	if err := store.ClaimOwner(ctx, string(owner)); err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("check LEDGER_OWNER: %w", err)
	}

	events, err := store.LoadAll(ctx, loadBatch)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}

	l, err := ledger.Replay(owner, events)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	logger.Info("ledger recovered", "driver", driver, "events", len(events), "books", len(l.GetAllBookIDs()))

	return l, eventlog.NewRelay(l.Log(), store, logger), closeDB, nil
}

func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpointURL(endpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "bookledger"),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
