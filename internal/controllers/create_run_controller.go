package controllers

import (
	"errors"
	"net/http"

	"github.com/citylens/citylens/internal/metrics"
	"github.com/citylens/citylens/internal/middleware"
	"github.com/citylens/citylens/internal/services"
	"github.com/citylens/citylens/pkg/domain"

	"github.com/gin-gonic/gin"
)

type createRunController struct{ svc services.RunService }

func NewCreateRunController(svc services.RunService) *createRunController {
	return &createRunController{svc}
}

func (h *createRunController) Handle(c *gin.Context) {
	var req domain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	run, err := h.svc.Create(c.Request.Context(), middleware.UserID(c), req)
	switch {
	case errors.Is(err, services.ErrQuotaExceeded):
		metrics.AdmissionRejectedTotal.WithLabelValues("quota_daily").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrConcurrencyExceeded):
		metrics.AdmissionRejectedTotal.WithLabelValues("quota_concurrent").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case err != nil:
		// Run creation may have succeeded with a failed dispatch; the run
		// document already reflects that, so only the trigger error surfaces.
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to start processing job"})
		return
	}

	c.JSON(http.StatusAccepted, run)
}
