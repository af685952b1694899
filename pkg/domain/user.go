package domain

import "time"

const (
	DefaultQuotaPerDay       = 10
	DefaultMaxConcurrentRuns = 1
)

// User holds per-identity quota configuration. Created lazily on the first
// run-creation attempt; quota fields are only changed by administrative
// action outside this service.
type User struct {
	UserID            string    `json:"user_id"`
	QuotaPerDay       int       `json:"quota_per_day"`
	MaxConcurrentRuns int       `json:"max_concurrent_runs"`
	CreatedAt         time.Time `json:"created_at"`
}
