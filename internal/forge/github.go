package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the GitHub REST API. It implements Source.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("forge: GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	Labels      []ghLabel `json:"labels"`
	User        ghUser    `json:"user"`
	HTMLURL     string    `json:"html_url"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (g ghIssue) toIssue() Issue {
	labels := make([]string, 0, len(g.Labels))
	for _, l := range g.Labels {
		labels = append(labels, l.Name)
	}
	return Issue{
		Number:    g.Number,
		Title:     g.Title,
		Body:      g.Body,
		State:     g.State,
		Labels:    labels,
		Author:    g.User.Login,
		URL:       g.HTMLURL,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func (c *Client) Issue(ctx context.Context, repo RepoID, number int) (Issue, error) {
	var gi ghIssue
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/issues/%d", repo.Owner, repo.Name, number), &gi); err != nil {
		return Issue{}, fmt.Errorf("fetch issue %s#%d: %w", repo, number, err)
	}
	return gi.toIssue(), nil
}

type ghComment struct {
	ID                int64  `json:"id"`
	User              ghUser `json:"user"`
	AuthorAssociation string `json:"author_association"`
	Body              string `json:"body"`
	HTMLURL           string `json:"html_url"`
	CreatedAt         string `json:"created_at"`
}

func (c *Client) Comments(ctx context.Context, repo RepoID, number int) ([]Comment, error) {
	var ghComments []ghComment
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/issues/%d/comments?per_page=100", repo.Owner, repo.Name, number), &ghComments); err != nil {
		return nil, fmt.Errorf("fetch comments %s#%d: %w", repo, number, err)
	}
	res := make([]Comment, 0, len(ghComments))
	for _, gc := range ghComments {
		res = append(res, Comment{
			ID:                gc.ID,
			Author:            gc.User.Login,
			AuthorAssociation: gc.AuthorAssociation,
			Body:              gc.Body,
			URL:               gc.HTMLURL,
			CreatedAt:         gc.CreatedAt,
		})
	}
	return res, nil
}

type ghSearchResult struct {
	Items []ghIssue `json:"items"`
}

type ghPull struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	User    ghUser `json:"user"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
	Head    struct {
		SHA string `json:"sha"`
	} `json:"head"`
	MergedAt  *string `json:"merged_at"`
	CreatedAt string  `json:"created_at"`
}

type ghReview struct {
	ID int64 `json:"id"`
}

type ghCombinedStatus struct {
	State string `json:"state"`
}

// LinkedPullRequests searches for pull requests that reference the issue
// and enriches each with review count and combined check state.
func (c *Client) LinkedPullRequests(ctx context.Context, repo RepoID, number int) ([]PullRequest, error) {
	q := url.QueryEscape(fmt.Sprintf("repo:%s type:pr %d in:body", repo, number))
	var sr ghSearchResult
	if err := c.get(ctx, "/search/issues?q="+q+"&per_page=20", &sr); err != nil {
		return nil, fmt.Errorf("search linked prs %s#%d: %w", repo, number, err)
	}
	var res []PullRequest
	for _, item := range sr.Items {
		if item.PullRequest == nil {
			continue
		}
		var gp ghPull
		if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/pulls/%d", repo.Owner, repo.Name, item.Number), &gp); err != nil {
			continue
		}
		pr := PullRequest{
			Number:    gp.Number,
			Title:     gp.Title,
			State:     gp.State,
			Merged:    gp.Merged || gp.MergedAt != nil,
			Author:    gp.User.Login,
			URL:       gp.HTMLURL,
			Body:      gp.Body,
			CreatedAt: gp.CreatedAt,
		}
		var reviews []ghReview
		if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews?per_page=100", repo.Owner, repo.Name, gp.Number), &reviews); err == nil {
			pr.ReviewCount = len(reviews)
		}
		if gp.Head.SHA != "" {
			var status ghCombinedStatus
			if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s/status", repo.Owner, repo.Name, gp.Head.SHA), &status); err == nil {
				pr.ChecksPassing = status.State == "success"
			}
		}
		res = append(res, pr)
	}
	return res, nil
}

type ghContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (c *Client) File(ctx context.Context, repo RepoID, paths []string) (string, []byte, error) {
	for _, p := range paths {
		var gc ghContent
		err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", repo.Owner, repo.Name, url.PathEscape(p)), &gc)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return "", nil, err
		}
		if gc.Encoding == "base64" {
			data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(gc.Content, "\n", ""))
			if err != nil {
				return "", nil, fmt.Errorf("decode %s: %w", p, err)
			}
			return p, data, nil
		}
		return p, []byte(gc.Content), nil
	}
	return "", nil, ErrNotFound
}

func (c *Client) RecentMergedPulls(ctx context.Context, repo RepoID, limit int) ([]PullRequest, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	q := url.QueryEscape(fmt.Sprintf("repo:%s type:pr is:merged", repo))
	var sr ghSearchResult
	if err := c.get(ctx, fmt.Sprintf("/search/issues?q=%s&sort=updated&order=desc&per_page=%d", q, limit), &sr); err != nil {
		return nil, fmt.Errorf("search merged prs %s: %w", repo, err)
	}
	res := make([]PullRequest, 0, len(sr.Items))
	for _, item := range sr.Items {
		if item.PullRequest == nil {
			continue
		}
		res = append(res, PullRequest{
			Number:    item.Number,
			Title:     item.Title,
			Body:      item.Body,
			State:     item.State,
			Merged:    true,
			Author:    item.User.Login,
			URL:       item.HTMLURL,
			CreatedAt: item.CreatedAt,
		})
	}
	return res, nil
}

func (c *Client) SearchIssues(ctx context.Context, query string, limit int) ([]Issue, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	var sr ghSearchResult
	if err := c.get(ctx, fmt.Sprintf("/search/issues?q=%s&per_page=%d", url.QueryEscape(query), limit), &sr); err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	res := make([]Issue, 0, len(sr.Items))
	for _, item := range sr.Items {
		if item.PullRequest != nil {
			continue
		}
		res = append(res, item.toIssue())
	}
	return res, nil
}
