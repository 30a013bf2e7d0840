package stewardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Steward HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Process represents the API process model (partial).
type Process struct {
	ProcessID string         `json:"process_id"`
	Trigger   map[string]any `json:"trigger"`
	Ownership map[string]any `json:"ownership"`
	Outputs   map[string]any `json:"outputs"`
	Status    string         `json:"status"`
	Version   int            `json:"version"`
}

// Conflict represents one detected inconsistency between processes.
type Conflict struct {
	ID                   string   `json:"id"`
	Type                 string   `json:"type"`
	Severity             string   `json:"severity"`
	Blocking             bool     `json:"blocking"`
	ProcessIDs           []string `json:"process_ids"`
	Description          string   `json:"description"`
	SuggestedResolutions []string `json:"suggested_resolutions,omitempty"`
}

// Gap is a catalog event no process covers.
type Gap struct {
	Event       string `json:"event"`
	Description string `json:"description,omitempty"`
}

// ProcessResult wraps a process mutation response.
type ProcessResult struct {
	Process   Process    `json:"process"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Gaps      []Gap      `json:"gaps,omitempty"`
}

// ConflictReport is the full analysis result.
type ConflictReport struct {
	CheckedAt string     `json:"checked_at"`
	Processes int        `json:"processes"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Gaps      []Gap      `json:"gaps,omitempty"`
}

// Run represents an indexed playbook run.
type Run struct {
	RunID      string `json:"run_id"`
	PlaybookID string `json:"playbook_id"`
	ClientID   string `json:"client_id"`
	Status     string `json:"status"`
	Path       string `json:"path"`
}

// WorkflowStep is one node of an execution graph (partial).
type WorkflowStep struct {
	StepID       string         `json:"step_id"`
	StepType     string         `json:"step_type"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       string         `json:"status,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
}

// Execution represents a workflow execution.
type Execution struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	Steps      []WorkflowStep `json:"steps"`
}

// ExecutionResult wraps an execution response with readiness info.
type ExecutionResult struct {
	Execution Execution `json:"execution"`
	Ready     []string  `json:"ready,omitempty"`
	Deadlock  bool      `json:"deadlock,omitempty"`
}

// AuditEvent is one audit log entry (partial).
type AuditEvent struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor"`
	Entity    string         `json:"entity,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// APIError wraps non-2xx responses. For 409 conflict responses the decoded
// envelope carries the conflict list.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Conflicts  []Conflict
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProcess registers a process definition. On a 409 the returned APIError
// carries the detected conflicts.
func (c *Client) CreateProcess(ctx context.Context, process map[string]any) (ProcessResult, error) {
	var resp ProcessResult
	err := c.do(ctx, http.MethodPost, "v0/processes", map[string]any{"process": process}, &resp)
	return resp, err
}

// GetProcess fetches one process by id.
func (c *Client) GetProcess(ctx context.Context, id string) (Process, error) {
	var resp ProcessResult
	err := c.do(ctx, http.MethodGet, "v0/processes/"+url.PathEscape(id), nil, &resp)
	return resp.Process, err
}

// ListProcesses lists processes, optionally filtered by status.
func (c *Client) ListProcesses(ctx context.Context, status string) ([]Process, error) {
	endpoint := "v0/processes"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Processes []Process `json:"processes"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Processes, err
}

// SetProcessStatus moves a process through its lifecycle.
func (c *Client) SetProcessStatus(ctx context.Context, id, status string, force bool) (Process, error) {
	var resp ProcessResult
	endpoint := "v0/processes/" + url.PathEscape(id) + "/status"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status, "force": force}, &resp)
	return resp.Process, err
}

// ApproveProcess approves a pending process. The caller's token must carry a
// sign-off role.
func (c *Client) ApproveProcess(ctx context.Context, id string) (Process, error) {
	var resp ProcessResult
	err := c.do(ctx, http.MethodPost, "v0/processes/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp.Process, err
}

// CheckConflicts analyzes all stored processes.
func (c *Client) CheckConflicts(ctx context.Context) (ConflictReport, error) {
	var resp struct {
		Report ConflictReport `json:"report"`
	}
	err := c.do(ctx, http.MethodGet, "v0/conflicts/check", nil, &resp)
	return resp.Report, err
}

// RunPlaybook executes a playbook against a client context.
func (c *Client) RunPlaybook(ctx context.Context, playbookID, clientID string, execContext map[string]any) (Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	endpoint := "v0/playbooks/" + url.PathEscape(playbookID) + "/run"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"client_id": clientID, "context": execContext}, &resp)
	return resp.Run, err
}

// ListRuns lists indexed playbook runs.
func (c *Client) ListRuns(ctx context.Context, playbookID string) ([]Run, error) {
	endpoint := "v0/runs"
	if playbookID != "" {
		endpoint += "?playbook_id=" + url.QueryEscape(playbookID)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Runs, err
}

// StartWorkflow instantiates a workflow execution.
func (c *Client) StartWorkflow(ctx context.Context, workflowID string, steps []WorkflowStep, wfContext map[string]any) (ExecutionResult, error) {
	var resp ExecutionResult
	err := c.do(ctx, http.MethodPost, "v0/workflows", map[string]any{
		"workflow_id": workflowID,
		"steps":       steps,
		"context":     wfContext,
	}, &resp)
	return resp, err
}

// ExecuteStep runs one ready workflow step.
func (c *Client) ExecuteStep(ctx context.Context, executionID, stepID string) (ExecutionResult, error) {
	var resp ExecutionResult
	endpoint := fmt.Sprintf("v0/workflows/%s/steps/%s/execute", url.PathEscape(executionID), url.PathEscape(stepID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ResolveDecision approves or rejects a step awaiting a human.
func (c *Client) ResolveDecision(ctx context.Context, executionID, stepID string, approved bool, output map[string]any) (ExecutionResult, error) {
	var resp ExecutionResult
	endpoint := fmt.Sprintf("v0/workflows/%s/steps/%s/decision", url.PathEscape(executionID), url.PathEscape(stepID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"approved": approved, "output": output}, &resp)
	return resp, err
}

// NotifyEvent reports a business event and returns the active processes it
// triggers.
func (c *Client) NotifyEvent(ctx context.Context, event string, payload map[string]any) ([]string, error) {
	var resp struct {
		Triggered []string `json:"triggered"`
	}
	err := c.do(ctx, http.MethodPost, "v0/hooks/events", map[string]any{"event": event, "payload": payload}, &resp)
	return resp.Triggered, err
}

// AuditEvents queries the audit log.
func (c *Client) AuditEvents(ctx context.Context, eventType string, limit int) ([]AuditEvent, error) {
	endpoint := "v0/audit/events"
	var params []string
	if eventType != "" {
		params = append(params, "event_type="+url.QueryEscape(eventType))
	}
	if limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + strings.Join(params, "&")
	}
	var resp struct {
		Events []AuditEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
				Details struct {
					Conflicts []Conflict `json:"conflicts"`
				} `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Conflicts = envelope.Error.Details.Conflicts
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
