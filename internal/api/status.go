package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synapkit/synapd/internal/apierrors"
	"github.com/synapkit/synapd/internal/database"
)

func (a *API) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int(time.Since(a.deps.StartedAt).Seconds()),
		"plugins":        len(a.deps.Registry.ListPlugins()),
		"history_events": a.deps.History.Len(),
		"subscribers":    a.deps.Broker.ClientCount(),
		"rate_limiter": gin.H{
			"tracked_sources": a.deps.RateLimiter.TrackedSources(),
		},
	})
}

func (a *API) listCronJobs(c *gin.Context) {
	jobs, err := a.deps.Scheduler.Jobs(c.Request.Context())
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

type putCronJobRequest struct {
	Schedule  string `json:"schedule" binding:"required"`
	EventType string `json:"event_type" binding:"required"`
	Payload   string `json:"payload"`
	Enabled   *bool  `json:"enabled"`
}

func (a *API) putCronJob(c *gin.Context) {
	var req putCronJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, err.Error())
		return
	}

	payload := req.Payload
	if payload == "" {
		payload = "{}"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	job := database.CronJob{
		ID:        c.Param("id"),
		Schedule:  req.Schedule,
		EventType: req.EventType,
		Payload:   payload,
		Enabled:   enabled,
	}
	if err := a.deps.Scheduler.AddJob(c.Request.Context(), job); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (a *API) deleteCronJob(c *gin.Context) {
	if err := a.deps.Scheduler.RemoveJob(c.Request.Context(), c.Param("id")); err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
