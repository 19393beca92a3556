package http

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	Redis       string    `json:"redis,omitempty"`
	Staging     string    `json:"staging"`
	StagedFiles int       `json:"staged_files"`
}

// StagingStatus is the part of the staging store the health check inspects.
type StagingStatus interface {
	Dir() string
	HeldCount() int
}

// HealthHandler reports liveness. A staging directory that cannot be written
// makes the service unhealthy since /submit/disk cannot work without it.
// Redis is informational only: the rate limiter fails open.
type HealthHandler struct {
	serviceName string
	version     string
	rdb         *redis.Client
	staging     StagingStatus
}

func NewHealthHandler(serviceName, version string, rdb *redis.Client, staging StagingStatus) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		rdb:         rdb,
		staging:     staging,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	redisStatus := "disabled"
	if h.rdb != nil {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := h.rdb.Ping(pingCtx).Err(); err != nil {
			redisStatus = "down"
		} else {
			redisStatus = "up"
		}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   h.serviceName,
		Version:   h.version,
		Redis:     redisStatus,
		Staging:   "disabled",
	}

	code := http.StatusOK
	if h.staging != nil {
		resp.StagedFiles = h.staging.HeldCount()
		resp.Staging = "ok"
		if err := probeWritable(h.staging.Dir()); err != nil {
			resp.Staging = "unwritable"
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, resp)
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.HealthCheck)
}
