// Package scheduler talks to the job-scheduling service that stores job
// profiles and runs their tasks.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// Sentinel errors for scheduler client failures.
var (
	ErrSchedulerUnreachable = errors.New("scheduler unreachable")
	ErrSchedulerTimeout     = errors.New("scheduler request timeout")
	ErrSchedulerResponse    = errors.New("scheduler returned an unexpected response")
	ErrJobProfileNotFound   = errors.New("job profile not found")
	ErrTriggerFailed        = errors.New("job profile trigger failed")
)

// Client is the interface for the job-scheduling service.
type Client interface {
	FindJobProfileID(ctx context.Context, name string) (string, error)
	GetJobProfile(ctx context.Context, id string) (*JobProfile, error)
	UpdateJobProfile(ctx context.Context, profile *JobProfile) error
	TriggerJobProfile(ctx context.Context, id string) (string, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	TaskLink(taskID string) string
}

// HTTPClient implements Client using the scheduler's REST API.
// Reads are anonymous; updates and triggers use basic auth.
type HTTPClient struct {
	baseURL    string
	resultsURL string
	username   string
	password   string
	client     *http.Client
}

// NewHTTPClient creates a scheduler client. resultsURL is the prefix a task id
// is appended to when building human-facing result links.
func NewHTTPClient(baseURL, resultsURL, username, password string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{
		baseURL:    baseURL,
		resultsURL: resultsURL,
		username:   username,
		password:   password,
		client:     hc,
	}
}

// FindJobProfileID returns the id of the job profile named exactly name.
func (c *HTTPClient) FindJobProfileID(ctx context.Context, name string) (string, error) {
	params := url.Values{"search": {"^" + name + "$"}}
	u := fmt.Sprintf("%s/job_profiles?%s", c.baseURL, params.Encode())

	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, u, nil, false, &resp); err != nil {
		return "", fmt.Errorf("searching job profile %q: %w", name, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].ID.OID == "" {
		return "", fmt.Errorf("%w: %q", ErrJobProfileNotFound, name)
	}
	return resp.Data[0].ID.OID, nil
}

// GetJobProfile fetches the full configuration of a job profile.
func (c *HTTPClient) GetJobProfile(ctx context.Context, id string) (*JobProfile, error) {
	u := fmt.Sprintf("%s/job_profiles/%s", c.baseURL, url.PathEscape(id))

	var resp profileResponse
	if err := c.do(ctx, http.MethodGet, u, nil, false, &resp); err != nil {
		return nil, fmt.Errorf("getting job profile %s: %w", id, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: job profile %s has no data", ErrSchedulerResponse, id)
	}
	return &JobProfile{ID: id, Data: resp.Data}, nil
}

// UpdateJobProfile writes the whole configuration blob back.
func (c *HTTPClient) UpdateJobProfile(ctx context.Context, profile *JobProfile) error {
	u := fmt.Sprintf("%s/job_profiles/%s", c.baseURL, url.PathEscape(profile.ID))
	if err := c.do(ctx, http.MethodPut, u, profile.Data, true, nil); err != nil {
		return fmt.Errorf("updating job profile %s: %w", profile.ID, err)
	}
	return nil
}

// TriggerJobProfile starts a run of the job profile and returns its task id.
func (c *HTTPClient) TriggerJobProfile(ctx context.Context, id string) (string, error) {
	u := fmt.Sprintf("%s/job_profiles/%s/trigger", c.baseURL, url.PathEscape(id))

	var resp triggerResponse
	if err := c.do(ctx, http.MethodPost, u, struct{}{}, true, &resp); err != nil {
		if errors.Is(err, ErrSchedulerResponse) {
			return "", fmt.Errorf("%w: %v", ErrTriggerFailed, err)
		}
		return "", fmt.Errorf("triggering job profile %s: %w", id, err)
	}
	if !resp.Success || len(resp.TaskIDs) == 0 || resp.TaskIDs[0].OID == "" {
		return "", fmt.Errorf("%w: job profile %s reported success=%t", ErrTriggerFailed, id, resp.Success)
	}
	return resp.TaskIDs[0].OID, nil
}

// GetTask fetches a task's stages and test counts.
func (c *HTTPClient) GetTask(ctx context.Context, id string) (*Task, error) {
	u := fmt.Sprintf("%s/agave_tasks/%s", c.baseURL, url.PathEscape(id))

	var resp taskResponse
	if err := c.do(ctx, http.MethodGet, u, nil, false, &resp); err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}

	task := &Task{ID: id, Stages: parseStages(resp.Data.Stages)}
	if rc := resp.Data.TestResultCount; rc != nil {
		task.Counted = true
		task.Total = rc.Total
		task.Succeeded = rc.Succeeded
	}
	return task, nil
}

// TaskLink returns the results page for a task.
func (c *HTTPClient) TaskLink(taskID string) string {
	return c.resultsURL + taskID
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body any, auth bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrSchedulerResponse, method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrSchedulerResponse, req.URL.Path, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSchedulerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSchedulerTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrSchedulerUnreachable, err)
}

// --- scheduler response types ---

type objectID struct {
	OID string `json:"$oid"`
}

type searchResponse struct {
	Data []struct {
		ID objectID `json:"_id"`
	} `json:"data"`
}

type profileResponse struct {
	Data map[string]any `json:"data"`
}

type triggerResponse struct {
	Success bool       `json:"success"`
	TaskIDs []objectID `json:"task_ids"`
}

type taskResponse struct {
	Data struct {
		Stages          json.RawMessage  `json:"stages"`
		TestResultCount *testResultCount `json:"test_result_count"`
	} `json:"data"`
}

type testResultCount struct {
	Total     int `json:"Total"`
	Succeeded int `json:"Succeeded"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
