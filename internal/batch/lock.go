package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CShear/regen-compute-credits/pkg/cache"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// ErrLockBusy means another execution already holds the (month, creditType)
// lock — spec §5's "at most one active execution per (month, creditType)".
var ErrLockBusy = errors.New("batch: another execution is already in progress for this month/creditType")

const lockTTL = 10 * time.Minute

func lockKey(month, creditType string) string {
	return "batch:lock:" + month + ":" + creditType
}

// AcquireLock takes the distributed per-(month,creditType) lock, grounded
// directly on the teacher's AcquireTreasuryLock/ReleaseTreasuryLock pair
// (internal/card/service.go): same SetNX-with-TTL shape, scoped here to a
// batch key instead of the treasury-wide key.
func AcquireLock(ctx context.Context, month, creditType string) (bool, error) {
	acquired, err := cache.SetNX(ctx, lockKey(month, creditType), "locked", lockTTL)
	if err != nil {
		return false, fmt.Errorf("batch: failed to acquire lock: %w", err)
	}
	return acquired, nil
}

// ReleaseLock releases the distributed lock for (month, creditType).
func ReleaseLock(ctx context.Context, month, creditType string) {
	if _, err := cache.Delete(ctx, lockKey(month, creditType)); err != nil {
		logger.Warn("batch: failed to release lock", zap.String("month", month), zap.String("credit_type", creditType), zap.Error(err))
	}
}
