// Package main provides the rhinoxd daemon - the custodial exchange backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/rhinox-exchange/rhinox-v2/internal/auth"
	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/internal/history"
	"github.com/rhinox-exchange/rhinox-v2/internal/jobs"
	"github.com/rhinox-exchange/rhinox-v2/internal/ledger"
	"github.com/rhinox-exchange/rhinox-v2/internal/p2p"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/reserve"
	"github.com/rhinox-exchange/rhinox-v2/internal/rpc"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/internal/wallet"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.rhinox", "Data directory")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("rhinoxd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadServer(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}
	if cfg.LogLevel != "" && cfg.LogLevel != *logLevel {
		log.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal("Invalid timezone", "timezone", cfg.Timezone, "error", err)
	}

	store, err := storage.New(&storage.Config{DataDir: *dataDir})
	if err != nil {
		log.Fatal("Failed to open storage", "error", err)
	}
	defer store.Close()

	// Wire up the core services.
	clk := clock.System{}
	ledgerSvc := ledger.New(clk)
	reserveEng := reserve.New()
	rateSvc := rates.New(store, clk)
	transferExec := transfer.New(store, ledgerSvc, reserveEng, rateSvc)
	walletSvc := wallet.New(store, rateSvc, clk)
	authSvc := auth.New(store)
	historyAgg := history.New(store, rateSvc, clk, loc)

	engine := p2p.NewEngine(&p2p.Config{
		Store:    store,
		Ledger:   ledgerSvc,
		Reserve:  reserveEng,
		Transfer: transferExec,
		Clock:    clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background workers: order expiry sweeps and wallet provisioning.
	sweeper := p2p.NewSweeper(engine)
	go sweeper.Run(ctx)

	worker := jobs.NewWorker(store, walletSvc)
	go worker.Run(ctx)

	server := rpc.NewServer(&rpc.Config{
		Store:          store,
		Auth:           authSvc,
		Wallets:        walletSvc,
		Engine:         engine,
		Rates:          rateSvc,
		Transfer:       transferExec,
		History:        historyAgg,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})
	if err := server.Start(cfg.APIAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	log.Infof("rhinoxd %s started", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	cancel()
	if err := server.Stop(); err != nil {
		log.Error("RPC server shutdown failed", "error", err)
	}
}
