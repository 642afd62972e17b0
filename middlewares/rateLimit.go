package middlewares

import (
	"net/http"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const defaultRateLimit = "600-M"

// RateLimitMiddleware limits requests per client IP.
//
// Env:
// - RATE_LIMIT=600-M (limiter format: <limit>-<S|M|H|D>)
//
// Counters are shared through Redis when a client is given, otherwise kept in memory.
func RateLimitMiddleware(client *redis.Client) (gin.HandlerFunc, error) {
	formatted := strings.TrimSpace(os.Getenv("RATE_LIMIT"))
	if formatted == "" {
		formatted = defaultRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if client != nil {
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "stock_rate_limit"})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStore()
	}

	instance := limiter.New(store, rate)
	return mgin.NewMiddleware(instance, mgin.WithErrorHandler(func(c *gin.Context, err error) {
		config.LogError(config.GetLogger(), "RateLimit", "RateLimitMiddleware", "limiter store", c.ClientIP(), err)
		c.AbortWithStatus(http.StatusInternalServerError)
	})), nil
}
