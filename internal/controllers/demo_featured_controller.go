package controllers

import (
	"net/http"

	"github.com/citylens/citylens/internal/registry"

	"github.com/gin-gonic/gin"
)

type demoFeaturedController struct{ reg *registry.DemoRegistry }

func NewDemoFeaturedController(reg *registry.DemoRegistry) *demoFeaturedController {
	return &demoFeaturedController{reg}
}

// Handle lists the allowlisted demo runs as a category to entries map. The
// endpoint is public and read only; an empty or missing allowlist yields an
// empty object.
func (h *demoFeaturedController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.Featured())
}
