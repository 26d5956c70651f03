package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler reports liveness and dependency health.
type HealthHandler struct {
	db       *gorm.DB
	provider services.TextProvider
	version  string
	logger   *logrus.Logger
}

func NewHealthHandler(db *gorm.DB, provider services.TextProvider, version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthHandler{db: db, provider: provider, version: version, logger: logger}
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type SystemInfo struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	GoVersion     string `json:"go_version"`
	Goroutines    int    `json:"goroutines"`
}

var startTime = time.Now()

// Health checks the database and the text provider.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	serviceInfo := map[string]ServiceInfo{
		"database": h.checkDatabase(ctx),
	}
	if h.provider != nil {
		serviceInfo["provider"] = ServiceInfo{
			Status:  "up",
			Details: h.provider.Status(ctx),
		}
	}

	status := "healthy"
	code := http.StatusOK
	for _, info := range serviceInfo {
		if info.Status != "up" {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  serviceInfo,
		System: SystemInfo{
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			GoVersion:     runtime.Version(),
			Goroutines:    runtime.NumGoroutine(),
		},
	})
}

// Ready only checks that the process can serve requests against its store.
func (h *HealthHandler) Ready(c *gin.Context) {
	info := h.checkDatabase(c.Request.Context())
	if info.Status != "up" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": info.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return ServiceInfo{Status: "down", Error: err.Error()}
	}
	return ServiceInfo{Status: "up", Latency: time.Since(start).String()}
}
