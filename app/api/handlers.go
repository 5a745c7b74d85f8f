package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/sources"
	"github.com/lysyi3m/news-comb/app/tasks"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

func NewHandler(configCache *sources.ConfigCache, jobs tasks.JobController, items database.ItemStore,
	itemStats ItemStatsProvider, runs database.RunStore, index IndexStatsProvider, db Pinger, cache HealthChecker) *Handler {
	return &Handler{
		configCache: configCache,
		jobs:        jobs,
		items:       items,
		itemStats:   itemStats,
		runs:        runs,
		index:       index,
		db:          db,
		cache:       cache,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]interface{}{
		"status":                "ok",
		"timestamp":             time.Now().In(time.Local).Format(time.RFC3339),
		"loaded_configurations": h.configCache.GetConfigCount(),
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "healthy"
		}
	}

	if h.cache != nil {
		cacheHealth := h.cache.Health(ctx)
		health["cache"] = cacheHealth
		if cacheHealth["status"] == "unhealthy" {
			health["status"] = "degraded"
		}
	}

	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"sources": h.configCache.GetConfigCount(),
	}

	jobStates := map[tasks.JobState]int{}
	for _, job := range h.jobs.Jobs() {
		jobStates[job.State]++
	}
	stats["jobs"] = jobStates

	if itemStats, err := h.itemStats.GetItemStats(c.Request.Context()); err == nil {
		stats["items"] = map[string]interface{}{
			"total":       itemStats.Total,
			"merged":      itemStats.Merged,
			"merge_total": itemStats.MergeTotal,
		}
	} else {
		slog.Error("Database error", "operation", "get_item_stats", "error", err)
	}

	if h.index != nil {
		stats["dedup_window"] = h.index.Stats()
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListJobs(c *gin.Context) {
	jobs := h.jobs.Jobs()

	c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (h *Handler) APIEnableJob(c *gin.Context) {
	name := c.Param("name")

	err := h.jobs.Enable(c.Request.Context(), name)
	if err != nil {
		h.jobError(c, name, "enable", err)
		return
	}

	job, _ := h.jobs.Job(name)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Job enabled",
		"job":     job,
	})
}

func (h *Handler) APIRunJob(c *gin.Context) {
	name := c.Param("name")

	err := h.jobs.RunNow(name)
	if err != nil {
		h.jobError(c, name, "run", err)
		return
	}

	job, _ := h.jobs.Job(name)
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Job dispatched",
		"job":     job,
	})
}

func (h *Handler) APIListRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = min(parsed, maxRunsLimit)
	}

	runs, err := h.runs.GetRuns(c.Request.Context(), c.Query("source"), limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}

func (h *Handler) APIGetItem(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	canonical, err := h.items.GetItemByFingerprint(c.Request.Context(), fingerprint)
	if err != nil {
		slog.Error("Database error", "operation", "get_item", "fingerprint", fingerprint, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if canonical == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	c.JSON(http.StatusOK, canonical)
}

func (h *Handler) jobError(c *gin.Context, name, operation string, err error) {
	switch {
	case errors.Is(err, tasks.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, tasks.ErrJobRunning), errors.Is(err, tasks.ErrJobDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("Job operation failed", "operation", operation, "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Job operation failed",
			"details": err.Error(),
		})
	}
}
