package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/CShear/regen-compute-credits/config"
	"github.com/CShear/regen-compute-credits/internal/auth"
	"github.com/CShear/regen-compute-credits/internal/balance"
	"github.com/CShear/regen-compute-credits/internal/batch"
	"github.com/CShear/regen-compute-credits/internal/dashboard"
	"github.com/CShear/regen-compute-credits/internal/httpapi"
	"github.com/CShear/regen-compute-credits/internal/ledger"
	"github.com/CShear/regen-compute-credits/internal/payment"
	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/internal/reconcile"
	"github.com/CShear/regen-compute-credits/internal/retirement"
	"github.com/CShear/regen-compute-credits/internal/subscription"
	"github.com/CShear/regen-compute-credits/pkg/cache"
	"github.com/CShear/regen-compute-credits/pkg/logger"
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
	root := filepath.Dir(filename)
	configPath := config.Path(root).Join("..", "..", "config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var balanceCfg balance.Config
	if err := copier.Copy(&balanceCfg, &Cfg.Balance); err != nil {
		return fmt.Errorf("failed to copy balance db config: %w", err)
	}
	balanceDB, err := balance.NewDB(balanceCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize balance database: %w", err)
	}
	defer balanceDB.Close()
	if err := balanceDB.Ping(ctx); err != nil {
		return fmt.Errorf("balance database ping failed: %w", err)
	}
	if err := balanceDB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run balance migrations: %w", err)
	}
	balanceRepo := balance.NewRepository(balanceDB)

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
		Syncer: syncer,
		Driver: driver,
		Store:  batchStore,
	}

	retirementService := &retirement.Service{
		Ledger:            ledgerClient,
		Payment:           fiatProvider,
		Balance:           balanceRepo,
		AllowedDenoms:     allowedDenoms,
		USDCDenom:         Cfg.Gateway.USDCDenom,
		PreferFiatUSDC:    true,
		RetirementTimeout: Cfg.Server.RetirementTimeout,
	}

	authStore, err := auth.NewFileStore(filepath.Join(Cfg.DataDir, "auth.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize auth store: %w", err)
	}
	authService := &auth.Service{
		Store: authStore,
		Config: auth.Config{
			EmailCodeSecret:         Cfg.Auth.EmailCodeSecret,
			OAuthStateSecret:        Cfg.Auth.OAuthStateSecret,
			RecoverySecret:          Cfg.Auth.RecoverySecret,
			AllowedOAuthProviders:   Cfg.Auth.AllowedOAuthProviders,
			SessionTTL:              Cfg.Auth.SessionTTL,
			OAuthStateTTL:           Cfg.Auth.OAuthStateTTL,
			RecoveryTTL:             Cfg.Auth.RecoveryTTL,
			MaxVerificationAttempts: Cfg.Auth.MaxVerificationAttempts,
		},
	}

	projector := &dashboard.Projector{
		Accounting: accounting,
		BatchStore: batchStore,
	}

	handler := &httpapi.Handler{
		Retirement: retirementService,
		Reconcile:  coordinator,
		Auth:       authService,
		Dashboard:  projector,
		Balance:    balanceRepo,
		Pool:       accounting,
		Webhook:    &httpapi.WebhookConfig{Secret: Cfg.Webhook.Secret},
		RateLimit:  httpapi.RateLimitConfig{RequestsPerWindow: Cfg.Server.RateLimitPerMin},
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":" + Cfg.Server.Port
	logger.Info("api server starting", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
