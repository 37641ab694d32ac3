package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/maintenance"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// jobRunner is satisfied by *maintenance.Scheduler.
type jobRunner interface {
	RunJob(ctx context.Context, job maintenance.Job) (maintenance.Report, error)
}

// MaintenanceHandler triggers maintenance jobs on demand.
type MaintenanceHandler struct {
	runner jobRunner
}

// NewMaintenanceHandler constructs a MaintenanceHandler.
func NewMaintenanceHandler(runner jobRunner) *MaintenanceHandler {
	return &MaintenanceHandler{runner: runner}
}

// Jobs lists the job names accepted by Run.
func (h *MaintenanceHandler) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": lo.Map(maintenance.Jobs, func(job maintenance.Job, _ int) string { return string(job) })})
}

// Run executes the job named by :job and returns its report.
func (h *MaintenanceHandler) Run(c *gin.Context) {
	job, errParse := maintenance.ParseJob(c.Param("job"))
	if errParse != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance unavailable"})
		return
	}
	report, errRun := h.runner.RunJob(c.Request.Context(), job)
	if errRun != nil {
		if errors.Is(errRun, maintenance.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
			return
		}
		log.WithError(errRun).WithField("job", job).Error("maintenance job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "maintenance job failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}
