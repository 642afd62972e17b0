package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const lowStockLockTTL = 5 * time.Minute

// SweepLowStock queues CRITICAL_STOCK notifications for every tenant's products at or below
// their minimum. With Redis connected, each tenant is swept by one replica at a time.
// It returns the number of flagged products.
func SweepLowStock(ctx context.Context, logger *logrus.Logger) (int, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	ids, err := models.ListBusinessIds(utils.SetSkipTenantScopeInContext(ctx, true))
	if err != nil {
		return 0, err
	}
	total := 0
	for _, businessId := range ids {
		n, err := sweepTenant(ctx, businessId)
		if errors.Is(err, utils.ErrLockNotObtained) {
			continue
		}
		if err != nil {
			config.LogError(logger, "LowStockSweep", "SweepLowStock", "sweep tenant", businessId, err)
			continue
		}
		total += n
	}
	logger.WithFields(logrus.Fields{
		"field":    "LowStockSweep",
		"tenants":  len(ids),
		"products": total,
	}).Info("low stock sweep finished")
	return total, nil
}

func sweepTenant(ctx context.Context, businessId string) (int, error) {
	if config.GetRedisLock() != nil {
		release, err := utils.BusinessLock(ctx, businessId, "LowStockSweep", lowStockLockTTL, "LowStockSweep", "sweepTenant")
		if err != nil {
			return 0, err
		}
		defer release()
	}
	return models.EmitCriticalStockEvents(utils.SetBusinessIdInContext(ctx, businessId), businessId)
}

// StartLowStockSweep schedules SweepLowStock. The caller stops the returned scheduler.
func StartLowStockSweep(schedule string, logger *logrus.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := SweepLowStock(context.Background(), logger); err != nil {
			config.LogError(logger, "LowStockSweep", "StartLowStockSweep", "run sweep", schedule, err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
