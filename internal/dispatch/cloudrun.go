package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/citylens/citylens/pkg/config"
)

// ErrDispatchFailed wraps any failure to trigger a worker execution. The
// caller must mark the run failed before surfacing it; the run would
// otherwise be stranded in queued with no worker coming.
var ErrDispatchFailed = errors.New("dispatch failed")

// Dispatcher triggers an out-of-process worker execution for a run and
// returns an opaque execution handle.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string) (string, error)
}

// runIDEnvVar is the sole runtime parameter injected into the worker job.
const runIDEnvVar = "CITYLENS_RUN_ID"

type cloudRunJobsDispatcher struct {
	baseURL string
	project string
	region  string
	jobName string
	token   string
	client  *http.Client
}

// NewCloudRunJobsDispatcher triggers a pre-registered Cloud Run job template,
// overriding the worker container env with the run id.
func NewCloudRunJobsDispatcher(cfg config.DispatchConfig) Dispatcher {
	return &cloudRunJobsDispatcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		project: cfg.Project,
		region:  cfg.Region,
		jobName: cfg.JobName,
		token:   cfg.Token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type envOverride struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type containerOverride struct {
	Env []envOverride `json:"env"`
}

type runJobRequest struct {
	Overrides struct {
		ContainerOverrides []containerOverride `json:"containerOverrides"`
	} `json:"overrides"`
}

// runJobResponse accepts both response-shape conventions the trigger API has
// used: a top-level execution resource name, or a nested execution object.
type runJobResponse struct {
	Name      string `json:"name"`
	Execution string `json:"execution"`
}

func (d *cloudRunJobsDispatcher) Dispatch(ctx context.Context, runID string) (string, error) {
	name := fmt.Sprintf("projects/%s/locations/%s/jobs/%s", d.project, d.region, d.jobName)
	url := fmt.Sprintf("%s/v2/%s:run", d.baseURL, name)

	var body runJobRequest
	body.Overrides.ContainerOverrides = []containerOverride{
		{Env: []envOverride{{Name: runIDEnvVar, Value: runID}}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: job trigger returned %d: %s", ErrDispatchFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded runJobResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return "", fmt.Errorf("%w: decode trigger response: %v", ErrDispatchFailed, err)
		}
	}
	if decoded.Name != "" {
		return decoded.Name, nil
	}
	return decoded.Execution, nil
}
