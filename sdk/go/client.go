package bountylinesdk

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

// Client is a minimal Bountyline HTTP API client.
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
		Timeout: 10 * time.Second,
	}
}

// Engagement represents the API engagement model (partial).
type Engagement struct {
	ID          string  `json:"id"`
	Repo        string  `json:"repo"`
	IssueNumber int     `json:"issue_number"`
	IssueURL    string  `json:"issue_url"`
	Title       string  `json:"title"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Payout      float64 `json:"payout"`
	PRURL       string  `json:"pr_url,omitempty"`
}

// Check is a single gate check result.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Verdict is the gate outcome.
type Verdict struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// CompetitionResult is a risk snapshot.
type CompetitionResult struct {
	RiskScore int    `json:"risk_score"`
	Action    string `json:"action"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateEngagement registers an issue for pursuit.
func (c *Client) CreateEngagement(ctx context.Context, issueURL, kind string, payout float64) (Engagement, error) {
	body := map[string]any{
		"issue_url": issueURL,
		"kind":      kind,
		"payout":    payout,
	}
	var resp Engagement
	err := c.do(ctx, http.MethodPost, "engagements", body, &resp)
	return resp, err
}

// Engagements lists engagements, optionally filtered by status.
func (c *Client) Engagements(ctx context.Context, status string) ([]Engagement, error) {
	endpoint := "engagements"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Engagement
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Engagement fetches the detail view, including metrics and the latest
// eligibility, competition, and judge records when present.
func (c *Client) Engagement(ctx context.Context, id string) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, c.engagementPath(id, ""), nil, &resp)
	return resp, err
}

// QualifyOptions tunes the qualification pipeline.
type QualifyOptions struct {
	EnvRequired     bool     `json:"env_required,omitempty"`
	EnvApproved     bool     `json:"env_approved,omitempty"`
	MaintainerScore *float64 `json:"maintainer_score,omitempty"`
	CIFlakeRate     *float64 `json:"ci_flake_rate,omitempty"`
	ForceRules      bool     `json:"force_rules,omitempty"`
}

// Qualify runs the qualification pipeline.
func (c *Client) Qualify(ctx context.Context, id string, opts QualifyOptions) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "qualify"), opts, &resp)
	return resp, err
}

// Plan records a plan and moves the engagement into planning.
func (c *Client) Plan(ctx context.Context, id, plan string, force bool) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "plan"), map[string]any{"plan": plan, "force": force}, &resp)
	return resp, err
}

// ApprovePlan approves the recorded plan.
func (c *Client) ApprovePlan(ctx context.Context, id string) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "plan/approve"), nil, &resp)
	return resp, err
}

// Draft records the submission draft.
func (c *Client) Draft(ctx context.Context, id, draft string, force bool) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "draft"), map[string]any{"draft": draft, "force": force}, &resp)
	return resp, err
}

// Judge runs the compliance gate without submitting.
func (c *Client) Judge(ctx context.Context, id string, forSubmit bool) (Verdict, error) {
	var resp Verdict
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "judge"), map[string]any{"for_submit": forSubmit}, &resp)
	return resp, err
}

// Submit runs the gate and marks the engagement submitted.
func (c *Client) Submit(ctx context.Context, id, prURL string, force bool) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "submit"), map[string]any{"pr_url": prURL, "force": force}, &resp)
	return resp, err
}

// Abort abandons the engagement with a classified reason.
func (c *Client) Abort(ctx context.Context, id, reason, note string) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "abort"), map[string]any{"reason": reason, "note": note}, &resp)
	return resp, err
}

// MarkMerged records that the submitted PR landed.
func (c *Client) MarkMerged(ctx context.Context, id string, force bool) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "merged"), map[string]any{"force": force}, &resp)
	return resp, err
}

// MarkCompleted closes out a merged engagement.
func (c *Client) MarkCompleted(ctx context.Context, id string, force bool) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "completed"), map[string]any{"force": force}, &resp)
	return resp, err
}

// CheckCompetition takes a fresh competition snapshot.
func (c *Client) CheckCompetition(ctx context.Context, id string) (CompetitionResult, error) {
	var resp CompetitionResult
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "competition/check"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DevLogin obtains a bearer token from the local token endpoint and
// stores it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string) error {
	var resp map[string]string
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp["token"]
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
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

func (c *Client) engagementPath(id, sub string) string {
	p := "engagements/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
