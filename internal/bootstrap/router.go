package bootstrap

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/formrelay/upload-relay/internal/api/http"
	"github.com/formrelay/upload-relay/internal/api/http/middleware"
	relayhttp "github.com/formrelay/upload-relay/internal/relay/http"
	"github.com/formrelay/upload-relay/internal/relay/metrics"
)

type RouterDeps struct {
	ServiceName  string
	Version      string
	Handler      *relayhttp.Handler
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Redis        *redis.Client
	Staging      httpapi.StagingStatus
	RateLimit    int // requests per minute per client and route, zero disables
	AllowOrigins []string
	StaticDir    string
	IndexFile    string
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(corsConfig(dep.AllowOrigins)))
	r.Use(middleware.RequestIDMiddleware())

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.Redis, dep.Staging)
	healthHandler.RegisterRoutes(r)

	if dep.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(dep.Gatherer, promhttp.HandlerOpts{})))
	}

	if dep.IndexFile != "" {
		index := dep.IndexFile
		r.GET("/", func(c *gin.Context) {
			if _, err := os.Stat(index); err != nil {
				c.String(http.StatusNotFound, "Not found.")
				return
			}
			c.File(index)
		})
	}
	if dep.StaticDir != "" {
		r.Static("/public", dep.StaticDir)
	}

	submit := r.Group("/submit")
	if dep.RateLimit > 0 {
		submit.Use(middleware.RateLimiter(limiterFor(dep), dep.Metrics.RateLimited))
	}
	dep.Handler.Register(submit)

	return r
}

func limiterFor(dep RouterDeps) middleware.Limiter {
	if dep.Redis != nil {
		return middleware.NewRedisLimiter(dep.Redis, dep.RateLimit, time.Minute)
	}
	return middleware.NewLocalLimiter(dep.RateLimit)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id", "X-Error-Class"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
