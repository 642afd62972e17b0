package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
)

const resourceCacheTTL = 10 * time.Minute

// GetResource looks in Redis first, then in the db under ctx's business id, and caches the row.
// (may return ErrUnknownReference)
func GetResource[T Resource](ctx context.Context, id int) (*T, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	result, err := utils.RetrieveRedis[T](ctx, id)
	if err != nil {
		config.LogError(config.GetLogger(), "Generics", "GetResource", "redis read", id, err)
		result = nil
	}
	if result != nil {
		// ids are global, so a cached row may belong to another tenant
		if (*result).GetBusinessId() != businessId {
			return nil, fmt.Errorf("%w: %s %d", utils.ErrUnknownReference, utils.GetTypeName[T](), id)
		}
		return result, nil
	}

	result, err = utils.FetchModel[T](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis(ctx, result, id, resourceCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "Generics", "GetResource", "redis write", id, err)
	}
	return result, nil
}

// ListAllResource lists every row of T owned by ctx's business.
func ListAllResource[T Resource](ctx context.Context) ([]*T, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	return utils.FetchAllModels[T](ctx, businessId)
}
