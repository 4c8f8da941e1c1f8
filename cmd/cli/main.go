// regen-cli is the operator CLI for the compute-credits system: schema
// migrations, and running or inspecting monthly reconciliation batches
// without going through the HTTP API.
//
// Usage:
//
//	regen-cli migrate
//	regen-cli reconcile run --month=2026-07 --credit-type=C03 --live
//	regen-cli batch status --month=2026-07 --credit-type=C03
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jinzhu/copier"
	"github.com/spf13/cobra"

	"github.com/CShear/regen-compute-credits/config"
	"github.com/CShear/regen-compute-credits/internal/balance"
	"github.com/CShear/regen-compute-credits/internal/batch"
	"github.com/CShear/regen-compute-credits/internal/ledger"
	"github.com/CShear/regen-compute-credits/internal/payment"
	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/internal/reconcile"
	"github.com/CShear/regen-compute-credits/internal/subscription"
	"github.com/CShear/regen-compute-credits/pkg/logger"
)

var Cfg config.ApiConfig

func loadConfig() error {
	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")
	return config.Load(configPath, &Cfg)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newCoordinator() (*reconcile.Coordinator, error) {
	ctx := context.Background()

	var ledgerCfg ledger.Config
	if err := copier.Copy(&ledgerCfg, &Cfg.Ledger); err != nil {
		return nil, fmt.Errorf("failed to copy ledger config: %w", err)
	}
	ledgerClient, err := ledger.NewClient(ledgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}
	allowedDenoms, err := ledgerClient.GetAllowedDenoms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load allowed denoms: %w", err)
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: Cfg.Gateway.BaseURL,
		APIKey:  Cfg.Gateway.APIKey,
		Timeout: Cfg.Gateway.Timeout,
	})
	fiatProvider := payment.NewFiatProvider(gatewayClient, Cfg.Gateway.USDCDenom, Cfg.Gateway.Currency)

	poolStore, err := pool.NewFileStore(filepath.Join(Cfg.DataDir, "pool.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pool store: %w", err)
	}
	accounting := pool.NewAccounting(poolStore)

	batchStore, err := batch.NewFileStore(filepath.Join(Cfg.DataDir, "batches.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize batch store: %w", err)
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

	return &reconcile.Coordinator{
		Syncer:             syncer,
		Driver:             driver,
		Store:              batchStore,
		PreflightFreshness: Cfg.Batch.PreflightFreshness,
	}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "regen-cli",
		Short:         "Operator CLI for the compute-credits reconciliation system",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.GetEnv()); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			if cmd.Name() != "help" {
				return loadConfig()
			}
			return nil
		},
	}

	rootCmd.AddCommand(migrateCmd(), reconcileCmd(), batchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the prepaid-balance store's schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var balanceCfg balance.Config
			if err := copier.Copy(&balanceCfg, &Cfg.Balance); err != nil {
				return fmt.Errorf("failed to copy balance db config: %w", err)
			}
			db, err := balance.NewDB(balanceCfg)
			if err != nil {
				return fmt.Errorf("failed to connect to balance database: %w", err)
			}
			defer db.Close()

			if err := db.RunMigrations(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("migrations applied successfully")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconciliation run operations",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a reconciliation (subscription sync + batch retirement) for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			month, _ := cmd.Flags().GetString("month")
			creditType, _ := cmd.Flags().GetString("credit-type")
			live, _ := cmd.Flags().GetBool("live")
			force, _ := cmd.Flags().GetBool("force")
			syncFirst, _ := cmd.Flags().GetBool("sync")

			coordinator, err := newCoordinator()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			run, err := coordinator.Run(ctx, reconcile.Request{
				Month:                  month,
				CreditType:             creditType,
				Live:                   live,
				Force:                  force,
				Reason:                 "cli-triggered reconciliation",
				SyncBeforeBatch:        syncFirst,
				PreferredDenom:         Cfg.Batch.PreferredDenom,
				BeneficiaryName:        Cfg.Batch.BeneficiaryName,
				RetirementJurisdiction: Cfg.Batch.RetirementJurisdiction,
				MarketplaceURL:         Cfg.Batch.MarketplaceURL,
				FeeBasisPoints:         Cfg.Batch.FeeBasisPoints,
			})
			if err != nil {
				return fmt.Errorf("reconciliation failed: %w", err)
			}

			printJSON(run)
			return nil
		},
	}
	runCmd.Flags().String("month", "", "Month in YYYY-MM form (required)")
	runCmd.Flags().String("credit-type", "", "Credit type code (required)")
	runCmd.Flags().Bool("live", false, "Execute a live batch instead of a dry run")
	runCmd.Flags().Bool("force", false, "Bypass the preflight-freshness gate")
	runCmd.Flags().Bool("sync", false, "Run subscription sync before the batch")
	runCmd.MarkFlagRequired("month")
	runCmd.MarkFlagRequired("credit-type")

	cmd.AddCommand(runCmd)
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Batch execution operations",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show batch execution history for a month and credit type",
		RunE: func(cmd *cobra.Command, args []string) error {
			month, _ := cmd.Flags().GetString("month")
			creditType, _ := cmd.Flags().GetString("credit-type")

			coordinator, err := newCoordinator()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			all, err := coordinator.Store.All(ctx)
			if err != nil {
				return fmt.Errorf("failed to load batch executions: %w", err)
			}

			var matches []batch.BatchExecution
			for _, e := range all {
				if e.Month == month && e.CreditType == creditType {
					matches = append(matches, e)
				}
			}
			printJSON(matches)
			return nil
		},
	}
	statusCmd.Flags().String("month", "", "Month in YYYY-MM form (required)")
	statusCmd.Flags().String("credit-type", "", "Credit type code (required)")
	statusCmd.MarkFlagRequired("month")
	statusCmd.MarkFlagRequired("credit-type")

	cmd.AddCommand(statusCmd)
	return cmd
}
