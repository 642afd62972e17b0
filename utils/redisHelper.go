package utils

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
)

func cacheKey[T any](id any) string {
	return GetTypeName[T]() + ":" + fmt.Sprint(id)
}

// StoreRedis caches obj under "<Type>:<id>".
func StoreRedis[T any](ctx context.Context, obj *T, id any, ttl time.Duration) error {
	return config.SetRedisObject(ctx, cacheKey[T](id), obj, ttl)
}

// RetrieveRedis returns nil when the key does not exist (or Redis is not connected).
func RetrieveRedis[T any](ctx context.Context, id any) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(ctx, cacheKey[T](id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

func RemoveRedis[T any](ctx context.Context, id any) error {
	return config.RemoveRedisKey(ctx, cacheKey[T](id))
}
