package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"github.com/bsm/redislock"
)

var ErrLockNotObtained = errors.New("could not obtain lock")

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	var result []T
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}

// BusinessLock obtains a Redis lock named "<lockType>:<businessId>" and returns its release func.
// The caller must call release once the guarded work is done.
func BusinessLock(ctx context.Context, businessId string, lockType string, ttl time.Duration, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", businessId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, businessId)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, lockKey)
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock", lockKey, err)
		return nil, err
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		_ = lock.Release(context.Background())
	}, nil
}
