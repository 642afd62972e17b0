package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct runs `validate` tags and wraps failures in ErrValidation.
func ValidateStruct(input any) error {
	err := Validator().Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := ProcessValidationErrors(verrs)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
}

func ProcessValidationErrors(err validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(err))
	for _, ve := range err {
		out[ve.Field()] = ve.Tag()
	}
	return out
}

// ValidateResourceId checks that id exists within the tenant.
func ValidateResourceId[T any](ctx context.Context, businessId string, id interface{}) error {
	return ValidateResourceIdTx[T](config.GetDB().WithContext(ctx), businessId, id)
}

func ValidateResourceIdTx[T any](tx *gorm.DB, businessId string, id interface{}) error {
	count, err := ResourceCountWhereTx[T](tx, businessId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return fmt.Errorf("%w: %s %v", ErrUnknownReference, GetTypeName[T](), id)
	}
	return nil
}

// ValidateResourcesIdTx checks that ALL ids exist within the tenant.
func ValidateResourcesIdTx[M any, ID comparable](tx *gorm.DB, businessId string, ids []ID) error {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil
	}
	count, err := ResourceCountWhereTx[M](tx, businessId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return fmt.Errorf("%w: %s", ErrUnknownReference, GetTypeName[M]())
	}
	return nil
}

func ValidateUniqueTx[T any](tx *gorm.DB, businessId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if exceptId == nil || reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhereTx[T](tx, businessId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhereTx[T](tx, businessId, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: duplicate %s", ErrValidation, column)
	}
	return nil
}

// ResourceCountWhere counts rows using WHERE business_id = ? AND condition.
// businessId can be blank for internal jobs.
func ResourceCountWhere[T any](ctx context.Context, businessId string, condition string, value ...interface{}) (int64, error) {
	return ResourceCountWhereTx[T](config.GetDB().WithContext(ctx), businessId, condition, value...)
}

func ResourceCountWhereTx[T any](tx *gorm.DB, businessId string, condition string, value ...interface{}) (int64, error) {
	var model T
	q := tx.Model(&model)
	if businessId != "" {
		q = q.Where("business_id = ?", businessId)
	}
	if condition != "" {
		q = q.Where(condition, value...)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
