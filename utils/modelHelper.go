package utils

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// FetchModel loads one tenant-owned row by id.
// (may return ErrUnknownReference)
func FetchModel[T any](ctx context.Context, businessId string, id int, associations ...string) (*T, error) {
	return FetchModelTx[T](config.GetDB().WithContext(ctx), businessId, id, associations...)
}

// FetchModelTx is FetchModel bound to an open transaction.
func FetchModelTx[T any](tx *gorm.DB, businessId string, id int, associations ...string) (*T, error) {
	q := tx.Where("business_id = ?", businessId)
	for _, field := range associations {
		q = q.Preload(field)
	}
	var result T
	if err := q.First(&result, id).Error; err != nil {
		return nil, notFoundOr[T](err, id)
	}
	return &result, nil
}

// FetchModelForUpdate loads the row with SELECT ... FOR UPDATE.
// The lock is held until tx commits or rolls back.
func FetchModelForUpdate[T any](tx *gorm.DB, businessId string, id int) (*T, error) {
	var result T
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&result, id).Error
	if err != nil {
		return nil, notFoundOr[T](err, id)
	}
	return &result, nil
}

// FetchAllModels loads every row of T for a tenant.
func FetchAllModels[T any](ctx context.Context, businessId string, associations ...string) ([]*T, error) {
	q := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	for _, field := range associations {
		q = q.Preload(field)
	}
	var results []*T
	if err := q.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func notFoundOr[T any](err error, id int) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ErrUnknownReference, GetTypeName[T](), id)
	}
	return err
}
