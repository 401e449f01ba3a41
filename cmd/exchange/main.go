package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"toy-exchange-go/internal/api"
	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/database"
	"toy-exchange-go/internal/ledger"
	"toy-exchange-go/internal/logger"
	"toy-exchange-go/internal/market"
	"toy-exchange-go/internal/money"
	"toy-exchange-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	log.Info("Database connection successful and schema migrated.", zap.String("dsn", cfg.Database.DSN))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := ledger.NewGormStore(db)
	mc := money.NewContext(cfg.Market.Precision)

	rates := market.NewRateTable(store, mc, log)
	if err := rates.Seed(ctx, cfg.Market.Currencies); err != nil {
		log.Fatal("Failed to initialize market", zap.Error(err))
	}

	initialCash, err := money.Parse(cfg.Market.InitialCash)
	if err != nil {
		log.Fatal("Invalid initial cash", zap.Error(err))
	}
	engine := trader.NewEngine(log, store, rates, mc, initialCash)

	fluctuator := market.NewFluctuator(rates, &cfg.Market, log)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fluctuator.Run(ctx)
	}()

	server := api.NewAPIServer(&cfg.Server, engine, rates, fluctuator, log)
	server.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	wg.Wait()

	log.Info("Exchange has been shut down.")
}
