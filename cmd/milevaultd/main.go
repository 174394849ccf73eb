package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"milevault/config"
	"milevault/currency"
	"milevault/escrow"
	"milevault/gateway"
	"milevault/ledger"
	"milevault/observability/logging"
	"milevault/observability/metrics"
	"milevault/project"
	"milevault/reputation"
	"milevault/workflow"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "milevaultd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.Setup("milevaultd", cfg.Environment, cfg.LogLevel)

	convert, err := currency.NewConverter(cfg.Conversion.Rate)
	if err != nil {
		return fmt.Errorf("conversion rate: %w", err)
	}

	store, err := project.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer store.Close()

	vaultMetrics := metrics.Vault()

	client := ledger.NewRPCClient(cfg.Ledger.RPCURL, cfg.Ledger.AuthToken,
		ledger.WithHTTPClient(&http.Client{Timeout: cfg.Ledger.RequestTimeout.Duration}),
		ledger.WithSubmitRate(cfg.Ledger.SubmitPerSec),
		ledger.WithPollInterval(cfg.Ledger.PollInterval.Duration),
	)
	adapter := escrow.NewAdapter(client, convert, log,
		escrow.WithObserver(vaultMetrics),
		escrow.WithRetryPolicy(cfg.Ledger.RetryAttempts, cfg.Ledger.RetryBase.Duration),
	)

	engine := workflow.NewEngine(store, adapter, log, workflow.WithObserver(vaultMetrics))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := workflow.NewSweeper(engine, store, cfg.SweepInterval.Duration, log)
	sweeper.OnSweep(vaultMetrics.IncSweep)
	go sweeper.Start(ctx)

	server := gateway.New(gateway.Config{
		Core:        engine,
		Reputations: reputation.NewAggregator(client, log),
		Wallets:     adapter,
		Convert:     convert,
		Log:         log,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			"addr", cfg.ListenAddress,
			"ledger", cfg.Ledger.RPCURL,
			"contract", cfg.Conversion.ContractCurrency,
			"settlement", cfg.Conversion.SettlementCurrency,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
