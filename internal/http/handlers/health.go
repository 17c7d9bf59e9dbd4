package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/clients/redis"
	"github.com/cheongam/chatbot-backend/internal/http/response"
	"github.com/cheongam/chatbot-backend/internal/platform/assistant"
)

type HealthHandler struct {
	db              *gorm.DB
	sessionCache    redis.SessionCache
	assistantClient assistant.Client
	startedAt       time.Time
	version         string
}

func NewHealthHandler(
	db *gorm.DB,
	sessionCache redis.SessionCache,
	assistantClient assistant.Client,
	version string,
) *HealthHandler {
	return &HealthHandler{
		db:              db,
		sessionCache:    sessionCache,
		assistantClient: assistantClient,
		startedAt:       time.Now(),
		version:         version,
	}
}

func (hh *HealthHandler) Health(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"status":         "healthy",
		"version":        hh.version,
		"uptime_seconds": int64(time.Since(hh.startedAt).Seconds()),
	})
}

// Components runs live checks against every dependency. Degraded does not
// fail the endpoint; orchestrators should use readiness for gating.
func (hh *HealthHandler) Components(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{
		"database":  hh.checkDatabase(ctx),
		"cache":     hh.checkCache(ctx),
		"assistant": hh.checkAssistant(),
	}
	status := "healthy"
	for _, v := range components {
		if comp, ok := v.(gin.H); ok && comp["status"] != "healthy" {
			status = "degraded"
		}
	}
	response.RespondOK(c, gin.H{"status": status, "components": components})
}

// Metrics reports process-level stats only. Database aggregates live behind
// the admin-gated /api/usage/metrics endpoint; this one is public.
func (hh *HealthHandler) Metrics(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	response.RespondOK(c, gin.H{
		"status":         "healthy",
		"version":        hh.version,
		"uptime_seconds": int64(time.Since(hh.startedAt).Seconds()),
		"process": gin.H{
			"goroutines":       runtime.NumGoroutine(),
			"heap_alloc_bytes": m.HeapAlloc,
			"heap_sys_bytes":   m.HeapSys,
			"gc_runs":          m.NumGC,
			"num_cpu":          runtime.NumCPU(),
			"go_version":       runtime.Version(),
		},
	})
}

// Readiness fails when the database is unreachable; everything else can
// degrade without taking the pod out of rotation.
func (hh *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := hh.checkDatabase(ctx)
	if dbStatus["status"] != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "database": dbStatus})
		return
	}
	if hh.assistantClient.AssistantID() == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "assistant": "not initialized"})
		return
	}
	response.RespondOK(c, gin.H{"status": "ready"})
}

func (hh *HealthHandler) Liveness(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "alive"})
}

func (hh *HealthHandler) checkDatabase(ctx context.Context) gin.H {
	sqlDB, err := hh.db.DB()
	if err != nil {
		return gin.H{"status": "unhealthy", "error": err.Error()}
	}
	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		return gin.H{"status": "unhealthy", "error": err.Error()}
	}
	return gin.H{"status": "healthy", "latency_ms": time.Since(start).Milliseconds()}
}

func (hh *HealthHandler) checkCache(ctx context.Context) gin.H {
	start := time.Now()
	if err := hh.sessionCache.Ping(ctx); err != nil {
		return gin.H{"status": "unhealthy", "error": err.Error()}
	}
	return gin.H{"status": "healthy", "latency_ms": time.Since(start).Milliseconds()}
}

func (hh *HealthHandler) checkAssistant() gin.H {
	// No remote call; a live probe per scrape would burn API quota. The id
	// being set means startup initialization succeeded.
	if hh.assistantClient.AssistantID() == "" {
		return gin.H{"status": "unhealthy", "error": "assistant not initialized"}
	}
	return gin.H{
		"status":          "healthy",
		"assistant_id":    hh.assistantClient.AssistantID(),
		"vector_store_id": hh.assistantClient.VectorStoreID(),
	}
}
