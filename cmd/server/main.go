package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"kopa/internal/eligibility"
	"kopa/internal/features"
	"kopa/internal/journey"
	"kopa/internal/ledger"
	"kopa/internal/offer"
	"kopa/internal/orchestrator"
	"kopa/internal/platform/config"
	"kopa/internal/platform/httpserver"
	"kopa/internal/platform/lock"
	"kopa/internal/platform/logger"
	"kopa/internal/platform/metrics"
	"kopa/internal/scheduler"
	"kopa/internal/scoring"
	"kopa/internal/settlement"
	"kopa/internal/signals"
	"kopa/internal/storage"
	"kopa/internal/stream"
	httptransport "kopa/internal/transport/http"
	"kopa/internal/trigger"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	stores := orchestrator.Stores{
		Profiles:  storage.NewInMemoryProfileStore(),
		Balances:  storage.NewInMemoryBalanceStore(),
		Sessions:  storage.NewInMemorySessionStore(),
		TopUps:    storage.NewInMemoryTopUpStore(),
		Offers:    storage.NewInMemoryOfferStore(),
		Loans:     storage.NewInMemoryLoanStore(),
		Decisions: storage.NewInMemoryDecisionStore(),
	}

	var ledgerStore ledger.Store
	if cfg.LedgerDriver == "sqlite" {
		sqliteStore, err := ledger.NewSQLiteStore(context.Background(), cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		ledgerStore = sqliteStore
	} else {
		ledgerStore = ledger.NewInMemoryStore()
	}
	recorder := ledger.NewRecorder(ledgerStore)

	bus := stream.NewBus(log)
	sched := scheduler.New()
	defer sched.CancelAll()
	locks := lock.NewKeyed()

	source, err := signals.New(stores.Profiles, stores.Sessions, stores.Balances, stores.TopUps, locks, bus, sched, recorder, log)
	if err != nil {
		return err
	}
	triggerGate, err := trigger.New(stores.Sessions, stores.Offers, stores.Loans, recorder, log)
	if err != nil {
		return err
	}
	aggregator, err := features.New(stores.Profiles, stores.TopUps, stores.Loans, stores.Offers)
	if err != nil {
		return err
	}
	model, err := scoring.New(stores.Decisions)
	if err != nil {
		return err
	}
	eligGate, err := eligibility.New(stores.Profiles, stores.Loans, aggregator, model, log)
	if err != nil {
		return err
	}
	offerSvc, err := offer.New(stores.Offers, recorder, log)
	if err != nil {
		return err
	}
	engine, err := settlement.New(stores.Loans, stores.Balances, offerSvc, locks, recorder, log)
	if err != nil {
		return err
	}
	projection, err := journey.New(storage.NewInMemoryJourneyStore(), log)
	if err != nil {
		return err
	}
	bus.Subscribe(projection)

	orch, err := orchestrator.New(orchestrator.Deps{
		Bus:        bus,
		Scheduler:  sched,
		Source:     source,
		Trigger:    triggerGate,
		Gate:       eligGate,
		Offers:     offerSvc,
		Settlement: engine,
		Recorder:   recorder,
		Journey:    projection,
		Stores:     stores,
		Metrics:    metrics.New(),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.NewHandler(orch, log))
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting kopa", "addr", cfg.Addr, "ledger", cfg.LedgerDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
