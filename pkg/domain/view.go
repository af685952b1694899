package domain

import "time"

// ArtifactView is the client-facing shape of an artifact, including the
// optional time-limited signed URL.
type ArtifactView struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	URI       string    `json:"uri"`
	ObjectKey string    `json:"object_key"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	SignedURL *string   `json:"signed_url,omitempty"`
}

// RunView is the client-facing rendering of a run and its resolved artifacts.
type RunView struct {
	RunID       string         `json:"run_id"`
	UserID      string         `json:"user_id"`
	Status      RunStatus      `json:"status"`
	Stage       string         `json:"stage"`
	Progress    int            `json:"progress"`
	Request     Request        `json:"request"`
	Error       *string        `json:"error"`
	ExecutionID *string        `json:"execution_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Artifacts   []ArtifactView `json:"artifacts"`
}
