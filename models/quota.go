package models

import (
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

// CheckQuota rejects a creation once the tenant's plan ceiling for resource is reached.
// It locks the business row, so it must run inside the transaction that performs the creation:
// concurrent creators for the same tenant queue on that lock and see each other's rows.
func CheckQuota(tx *gorm.DB, businessId string, resource QuotaResource) error {
	business, err := lockBusiness(tx, businessId)
	if err != nil {
		return err
	}
	plan, err := planCeilings(tx, business.PlanId)
	if err != nil {
		return err
	}
	ceiling := plan.Ceiling(resource)
	if ceiling <= 0 {
		return nil
	}

	var count int64
	switch resource {
	case QuotaResourceProducts:
		count, err = utils.ResourceCountWhereTx[Product](tx, businessId, "")
	case QuotaResourceUsers:
		count, err = utils.ResourceCountWhereTx[User](tx, businessId, "")
	case QuotaResourceWarehouses:
		count, err = utils.ResourceCountWhereTx[Warehouse](tx, businessId, "")
	case QuotaResourceBranches:
		count, err = utils.ResourceCountWhereTx[Branch](tx, businessId, "")
	default:
		return fmt.Errorf("%w: unknown quota resource %q", utils.ErrValidation, resource)
	}
	if err != nil {
		return err
	}
	if count >= int64(ceiling) {
		return fmt.Errorf("%w: %s limit %d reached", utils.ErrQuotaExceeded, resource, ceiling)
	}
	return nil
}

// planCeilings reads the plan through the Redis cache. Ceilings change rarely and
// UpdatePlanCeilings drops the cached copy.
func planCeilings(tx *gorm.DB, planId int) (*Plan, error) {
	ctx := tx.Statement.Context
	if cached, err := utils.RetrieveRedis[Plan](ctx, planId); err == nil && cached != nil {
		return cached, nil
	}
	var plan Plan
	if err := tx.First(&plan, planId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: plan %d", utils.ErrUnknownReference, planId)
		}
		return nil, err
	}
	ttl := time.Duration(config.PlanCacheTTL()) * time.Second
	if err := utils.StoreRedis(ctx, &plan, planId, ttl); err != nil {
		config.LogError(config.GetLogger(), "Quota", "planCeilings", "cache plan", planId, err)
	}
	return &plan, nil
}
