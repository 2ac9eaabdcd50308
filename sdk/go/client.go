package teamlinesdk

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

// Client is a minimal Teamline HTTP API client.
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

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	StageID    string  `json:"stage_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	Title      string  `json:"title"`
	Priority   string  `json:"priority"`
	Approval   string  `json:"approval"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	DueAt      *string `json:"due_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// Project represents the API project model (partial).
type Project struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Stage represents a workflow column.
type Stage struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Name         string `json:"name"`
	Position     int    `json:"position"`
	WipLimit     *int   `json:"wip_limit,omitempty"`
	WipLimitType string `json:"wip_limit_type,omitempty"`
	IsDone       bool   `json:"is_done"`
}

// ProjectDetail is a project with its stages.
type ProjectDetail struct {
	Project Project `json:"project"`
	Stages  []Stage `json:"stages"`
}

// MoveResult is the outcome of a stage move.
type MoveResult struct {
	Task       Task   `json:"task"`
	WipWarning string `json:"wip_warning,omitempty"`
}

// Comment represents a task comment.
type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AttentionItem represents an inbox entry.
type AttentionItem struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Priority  string  `json:"priority"`
	TaskID    *string `json:"task_id,omitempty"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	ReadAt    *string `json:"read_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// Event represents an event-log entry.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	EntityID  string `json:"entity_id"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses. Code carries the machine-readable
// error code from the response envelope when one was present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListProjects returns the projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// GetProject fetches a project and its stages.
func (c *Client) GetProject(ctx context.Context, projectID string) (ProjectDetail, error) {
	var resp ProjectDetail
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(projectID), nil, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	endpoint := fmt.Sprintf("projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListTasks returns tasks for a project, optionally filtered by stage.
func (c *Client) ListTasks(ctx context.Context, projectID, stageID string) ([]Task, error) {
	endpoint := fmt.Sprintf("projects/%s/tasks", url.PathEscape(projectID))
	if stageID != "" {
		endpoint += "?stage_id=" + url.QueryEscape(stageID)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MoveTask moves a task to another stage.
func (c *Client) MoveTask(ctx context.Context, taskID, stageID string) (MoveResult, error) {
	body := map[string]any{"stage_id": stageID}
	var resp MoveResult
	endpoint := fmt.Sprintf("tasks/%s/move", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApproveTask approves a pending completion.
func (c *Client) ApproveTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/approve", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp)
	return resp, err
}

// RejectTask rejects a pending completion with a reason.
func (c *Client) RejectTask(ctx context.Context, taskID, reason, returnStageID string) (Task, error) {
	body := map[string]any{"reason": reason}
	if returnStageID != "" {
		body["return_stage_id"] = returnStageID
	}
	var resp Task
	endpoint := fmt.Sprintf("tasks/%s/reject", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddComment posts a comment on a task. Mentions in the content are
// resolved server-side.
func (c *Client) AddComment(ctx context.Context, taskID, content string) (Comment, error) {
	body := map[string]any{"content": content}
	var resp Comment
	endpoint := fmt.Sprintf("tasks/%s/comments", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Inbox returns the caller's attention items.
func (c *Client) Inbox(ctx context.Context, unreadOnly bool, limit int) ([]AttentionItem, error) {
	endpoint := "inbox"
	params := url.Values{}
	if unreadOnly {
		params.Set("unread", "true")
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []AttentionItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events for a project after the given cursor.
func (c *Client) Events(ctx context.Context, projectID string, limit int, cursor int64) ([]Event, error) {
	endpoint := fmt.Sprintf("projects/%s/events", url.PathEscape(projectID))
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		params.Set("cursor", fmt.Sprint(cursor))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/v0"
}
