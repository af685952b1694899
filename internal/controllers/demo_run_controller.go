package controllers

import (
	"net/http"

	"github.com/citylens/citylens/internal/registry"
	"github.com/citylens/citylens/internal/services"

	"github.com/gin-gonic/gin"
)

type demoRunController struct {
	reg       *registry.DemoRegistry
	svc       services.RunService
	presenter *services.Presenter
}

func NewDemoRunController(reg *registry.DemoRegistry, svc services.RunService, presenter *services.Presenter) *demoRunController {
	return &demoRunController{reg: reg, svc: svc, presenter: presenter}
}

// Handle serves a single allowlisted run without authentication. The
// allowlist is the authorization check: ids outside it are 404 even when the
// run exists.
func (h *demoRunController) Handle(c *gin.Context) {
	runID := c.Param("id")
	if _, ok := h.reg.Get(runID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	run, err := h.svc.Get(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	artifacts, err := h.svc.ListArtifacts(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "artifact lookup failed"})
		return
	}

	view := h.presenter.Present(c.Request.Context(), run, artifacts)
	// Owner identity stays private on the public surface.
	view.UserID = ""
	c.JSON(http.StatusOK, view)
}
