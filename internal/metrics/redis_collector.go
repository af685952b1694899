package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	runDocsDesc  *prometheus.Desc
	userDocsDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		runDocsDesc: prometheus.NewDesc(
			"citylens_run_documents",
			"Current number of run documents in the store.",
			nil,
			nil,
		),
		userDocsDesc: prometheus.NewDesc(
			"citylens_user_documents",
			"Current number of user documents in the store.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runDocsDesc
	ch <- c.userDocsDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if n, err := c.rdb.HLen(ctx, "citylens:runs").Result(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.runDocsDesc, prometheus.GaugeValue, float64(n))
	} else {
		c.logger.Warn("collect run documents", "err", err)
	}
	if n, err := c.rdb.HLen(ctx, "citylens:users").Result(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.userDocsDesc, prometheus.GaugeValue, float64(n))
	} else {
		c.logger.Warn("collect user documents", "err", err)
	}
}

var registerCollectorOnce sync.Once

// RegisterRedisCollector exposes store-level document counts. Registration is
// idempotent so tests constructing multiple applications do not panic.
func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
