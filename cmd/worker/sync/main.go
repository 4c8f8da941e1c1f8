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
	messages "github.com/CShear/regen-compute-credits/internal/queue"
	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/internal/subscription"
	"github.com/CShear/regen-compute-credits/pkg/cache"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	streams "github.com/CShear/regen-compute-credits/pkg/queue"

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

	logger.Info("Starting subscription sync worker...")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	poolStore, err := pool.NewFileStore(filepath.Join(Cfg.DataDir, "pool.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize pool store: %w", err)
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: Cfg.Gateway.BaseURL,
		APIKey:  Cfg.Gateway.APIKey,
		Timeout: Cfg.Gateway.Timeout,
	})

	syncer := &subscription.Syncer{
		Gateway:    gatewayClient,
		Accounting: pool.NewAccounting(poolStore),
		Tiers:      subscription.StaticTierResolver(Cfg.Tiers),
	}

	queue := streams.NewStreamQueue(cache.Client)
	streamName := "subscription_sync"
	groupName := "sync_workers"
	consumerName := fmt.Sprintf("sync-worker-%d", time.Now().Unix())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.DeclareStream(ctx, streamName, groupName); err != nil {
		return fmt.Errorf("failed to declare the consumer group: %w", err)
	}

	handler := &messageHandler{syncer: syncer}

	go func() {
		err := queue.Consume(ctx, streamName, groupName, consumerName,
			func(messageID string, data []byte) error {
				return handler.processMessage(ctx, messageID, data)
			})
		if err != nil && err != context.Canceled {
			logger.Error("Consumer error", zap.Error(err))
		}
	}()

	logger.Info("Subscription sync worker is running, waiting for messages...",
		zap.String("stream", streamName),
		zap.String("group", groupName),
		zap.String("consumer", consumerName),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("Subscription sync worker shut down gracefully")

	return nil
}

type messageHandler struct {
	syncer *subscription.Syncer
}

// processMessage runs one Subscription Sync request (spec §4.7), either for
// a single customer or, with AllCustomers set, the paginated all-customer
// sweep — the async counterpart to internal/httpapi's synchronous sync path.
func (h *messageHandler) processMessage(ctx context.Context, messageID string, data []byte) error {
	logger.Info("Processing subscription_sync message", zap.String("messageID", messageID))

	msg, err := messages.FromJSONSubscriptionSync(data)
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	req := subscription.Request{
		CustomerID:   msg.CustomerID,
		Email:        msg.Email,
		AllCustomers: msg.AllCustomers,
		MonthFilter:  msg.MonthFilter,
		MaxPages:     msg.MaxPages,
	}

	var result *subscription.Result
	if req.AllCustomers {
		result, err = h.syncer.SyncAll(ctx, req)
	} else {
		result, err = h.syncer.SyncCustomer(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("subscription sync failed: %w", err)
	}

	logger.Info("Subscription sync completed",
		zap.String("messageID", messageID),
		zap.Int("synced", result.Synced),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("skipped", result.Skipped),
		zap.Bool("truncated", result.Truncated),
	)
	return nil
}
