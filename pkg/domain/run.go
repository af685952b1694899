package domain

import (
	"encoding"
	"time"
)

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var (
	_ encoding.BinaryMarshaler = RunStatus("")
	_ encoding.TextMarshaler   = RunStatus("")
)

func (s RunStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s RunStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

// Request is the validated pipeline request payload. It is immutable once a
// run has been created; the worker reads it back verbatim.
type Request struct {
	Address             string   `json:"address" binding:"required"`
	ImageryYear         int      `json:"imagery_year"`
	BaselineYear        int      `json:"baseline_year"`
	SegmentationBackend string   `json:"segmentation_backend"`
	Outputs             []string `json:"outputs,omitempty"`
}

// Run is one request to execute the pipeline, tracked to a terminal status.
// After dispatch the worker process is the only writer of status, stage,
// progress, error and artifacts.
type Run struct {
	RunID       string            `json:"run_id"`
	UserID      string            `json:"user_id"`
	Status      RunStatus         `json:"status"`
	Stage       string            `json:"stage"`
	Progress    int               `json:"progress"`
	Request     Request           `json:"request"`
	Error       *string           `json:"error"`
	ExecutionID *string           `json:"execution_id"`
	Artifacts   map[string]string `json:"artifacts,omitempty"` // name -> object store URI, stamped once by the worker
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RunPatch is a partial update merged into a stored run document. Nil fields
// are left untouched; updated_at is always rewritten by the repository.
type RunPatch struct {
	Status      *RunStatus
	Stage       *string
	Progress    *int
	Error       *string
	ExecutionID *string
	Artifacts   map[string]string
}

func StatusPtr(s RunStatus) *RunStatus { return &s }
func StringPtr(s string) *string       { return &s }
func IntPtr(n int) *int                { return &n }
