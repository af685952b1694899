package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type healthController struct{ rdb *redis.Client }

func NewHealthController(rdb *redis.Client) *healthController {
	return &healthController{rdb}
}

func (h *healthController) Handle(c *gin.Context) {
	if h.rdb != nil {
		if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "version": Version, "redis": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": Version})
}
