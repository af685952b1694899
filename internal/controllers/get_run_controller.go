package controllers

import (
	"net/http"

	"github.com/citylens/citylens/internal/middleware"
	"github.com/citylens/citylens/internal/services"

	"github.com/gin-gonic/gin"
)

type getRunController struct {
	svc       services.RunService
	presenter *services.Presenter
}

func NewGetRunController(svc services.RunService, presenter *services.Presenter) *getRunController {
	return &getRunController{svc: svc, presenter: presenter}
}

// Handle returns the caller's run with resolved artifacts. Runs owned by
// other users answer 404, never 403, so run ids cannot be probed.
func (h *getRunController) Handle(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.svc.GetOwned(c.Request.Context(), runID, middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	artifacts, err := h.svc.ListArtifacts(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "artifact lookup failed"})
		return
	}

	c.JSON(http.StatusOK, h.presenter.Present(c.Request.Context(), run, artifacts))
}
