package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/CShear/regen-compute-credits/config"
	"github.com/CShear/regen-compute-credits/internal/batch"
	"github.com/CShear/regen-compute-credits/internal/ledger"
	"github.com/CShear/regen-compute-credits/internal/payment"
	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/internal/reconcile"
	"github.com/CShear/regen-compute-credits/internal/subscription"
	"github.com/CShear/regen-compute-credits/pkg/cache"
	"github.com/CShear/regen-compute-credits/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.ApiConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(filename))))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Starting batch reconciliation worker...")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ledgerCfg ledger.Config
	if err := copier.Copy(&ledgerCfg, &Cfg.Ledger); err != nil {
		return fmt.Errorf("failed to copy ledger config: %w", err)
	}
	ledgerClient, err := ledger.NewClient(ledgerCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger client: %w", err)
	}
	allowedDenoms, err := ledgerClient.GetAllowedDenoms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load allowed denoms: %w", err)
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: Cfg.Gateway.BaseURL,
		APIKey:  Cfg.Gateway.APIKey,
		Timeout: Cfg.Gateway.Timeout,
	})
	fiatProvider := payment.NewFiatProvider(gatewayClient, Cfg.Gateway.USDCDenom, Cfg.Gateway.Currency)

	poolStore, err := pool.NewFileStore(filepath.Join(Cfg.DataDir, "pool.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize pool store: %w", err)
	}
	accounting := pool.NewAccounting(poolStore)

	batchStore, err := batch.NewFileStore(filepath.Join(Cfg.DataDir, "batches.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize batch store: %w", err)
	}

	driver := &batch.Driver{
		Accounting:     accounting,
		Ledger:         ledgerClient,
		Payment:        fiatProvider,
		Store:          batchStore,
		AllowedDenoms:  allowedDenoms,
		USDCDenom:      Cfg.Gateway.USDCDenom,
		PreferFiatUSDC: true,
	}

	syncer := &subscription.Syncer{
		Gateway:    gatewayClient,
		Accounting: accounting,
		Tiers:      subscription.StaticTierResolver(Cfg.Tiers),
	}

	coordinator := &reconcile.Coordinator{
		Syncer:             syncer,
		Driver:             driver,
		Store:              batchStore,
		PreflightFreshness: Cfg.Batch.PreflightFreshness,
	}

	ticker := time.NewTicker(Cfg.Batch.Interval)
	defer ticker.Stop()

	runOnce := func() {
		month := time.Now().UTC().Format("2006-01")
		for _, creditType := range Cfg.Batch.CreditTypes {
			run, err := coordinator.Run(ctx, reconcile.Request{
				Month:                  month,
				CreditType:             creditType,
				Live:                   Cfg.Batch.Live,
				Force:                  Cfg.Batch.Force,
				Reason:                 "scheduled monthly reconciliation",
				SyncBeforeBatch:        Cfg.Batch.SyncBeforeBatch,
				PreferredDenom:         Cfg.Batch.PreferredDenom,
				BeneficiaryName:        Cfg.Batch.BeneficiaryName,
				RetirementJurisdiction: Cfg.Batch.RetirementJurisdiction,
				MarketplaceURL:         Cfg.Batch.MarketplaceURL,
				FeeBasisPoints:         Cfg.Batch.FeeBasisPoints,
			})
			if err != nil {
				logger.Error("scheduled reconciliation failed",
					zap.String("month", month), zap.String("creditType", creditType), zap.Error(err))
				continue
			}
			logger.Info("scheduled reconciliation completed",
				zap.String("month", month), zap.String("creditType", creditType), zap.String("status", string(run.BatchStatus)))
		}
	}

	logger.Info("batch worker is running", zap.Duration("interval", Cfg.Batch.Interval), zap.Strings("creditTypes", Cfg.Batch.CreditTypes))
	runOnce()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runOnce()
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
			return nil
		}
	}
}
