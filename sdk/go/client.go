package goallinesdk

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

// Client is a minimal Goalline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Goal represents the API goal model (partial).
type Goal struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Status            string     `json:"status"`
	ExecutionStyle    string     `json:"execution_style"`
	RequiresUserInput bool       `json:"requires_user_input"`
	UserInputPrompt   string     `json:"user_input_prompt,omitempty"`
	Progress          float64    `json:"progress"`
	Decisions         []Decision `json:"decisions,omitempty"`
}

// Decision represents a pending or resolved operator question.
type Decision struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Decision string   `json:"decision,omitempty"`
	Blocking bool     `json:"blocking"`
}

// Checkpoint represents a stored progress snapshot.
type Checkpoint struct {
	ID          string `json:"id"`
	GoalID      string `json:"goal_id"`
	Description string `json:"description"`
	Automatic   bool   `json:"automatic"`
	CreatedAt   string `json:"created_at"`
}

// TimelineEvent represents an audit log entry.
type TimelineEvent struct {
	ID          int64  `json:"id"`
	GoalID      string `json:"goal_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	RelatedID   string `json:"related_id,omitempty"`
	At          string `json:"at"`
}

// Progress reports goal completion.
type Progress struct {
	GoalID  string  `json:"goal_id"`
	Percent float64 `json:"percent"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateGoal registers a goal and triggers roadmap generation.
func (c *Client) CreateGoal(ctx context.Context, title, description, style, checkpoints string) (Goal, error) {
	body := map[string]any{
		"title":                title,
		"description":          description,
		"execution_style":      style,
		"checkpoint_frequency": checkpoints,
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals", body, &resp)
	return resp, err
}

// ListGoals returns all goals.
func (c *Client) ListGoals(ctx context.Context) ([]Goal, error) {
	var resp []Goal
	err := c.do(ctx, http.MethodGet, "goals", nil, &resp)
	return resp, err
}

// GetGoal fetches one goal.
func (c *Client) GetGoal(ctx context.Context, id string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, "goals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DeleteGoal removes a goal and its history.
func (c *Client) DeleteGoal(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "goals/"+url.PathEscape(id), nil, nil)
}

// GoalProgress returns completion for a goal.
func (c *Client) GoalProgress(ctx context.Context, id string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("goals/%s/progress", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// PendingDecisions lists unanswered decisions for a goal.
func (c *Client) PendingDecisions(ctx context.Context, goalID string) ([]Decision, error) {
	var resp []Decision
	endpoint := fmt.Sprintf("goals/%s/decisions?pending=true", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitDecision answers a decision and returns the updated goal.
func (c *Client) SubmitDecision(ctx context.Context, goalID, decisionID, choice string) (Goal, error) {
	var resp Goal
	endpoint := fmt.Sprintf("goals/%s/decisions/%s", url.PathEscape(goalID), url.PathEscape(decisionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"choice": choice}, &resp)
	return resp, err
}

// CreateCheckpoint takes a manual checkpoint.
func (c *Client) CreateCheckpoint(ctx context.Context, goalID, description string) (Checkpoint, error) {
	var resp Checkpoint
	endpoint := fmt.Sprintf("goals/%s/checkpoints", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"description": description}, &resp)
	return resp, err
}

// ListCheckpoints returns a goal's checkpoints, oldest first.
func (c *Client) ListCheckpoints(ctx context.Context, goalID string) ([]Checkpoint, error) {
	var resp []Checkpoint
	endpoint := fmt.Sprintf("goals/%s/checkpoints", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RestoreCheckpoint rolls the goal back to a checkpoint.
func (c *Client) RestoreCheckpoint(ctx context.Context, goalID, checkpointID string) (Goal, error) {
	var resp Goal
	endpoint := fmt.Sprintf("goals/%s/checkpoints/%s/restore", url.PathEscape(goalID), url.PathEscape(checkpointID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Timeline returns a goal's audit log in append order.
func (c *Client) Timeline(ctx context.Context, goalID string, limit int) ([]TimelineEvent, error) {
	endpoint := fmt.Sprintf("goals/%s/timeline", url.PathEscape(goalID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []TimelineEvent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
