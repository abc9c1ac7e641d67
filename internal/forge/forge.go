// Package forge abstracts the issue-tracker data source. The engine only
// needs issues, comments, linked pull requests, repository files, and a
// keyword search; everything else about the host API stays behind Source.
package forge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrNotFound = errors.New("forge: not found")

// RepoID identifies a repository as owner/name.
type RepoID struct {
	Owner string
	Name  string
}

func (r RepoID) String() string { return r.Owner + "/" + r.Name }

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+$`)

// ParseRepoID validates and splits an owner/name identifier. Malformed
// input is rejected before any network or storage access.
func ParseRepoID(s string) (RepoID, error) {
	s = strings.TrimSpace(s)
	if !repoIDPattern.MatchString(s) {
		return RepoID{}, fmt.Errorf("malformed repository id %q: want owner/name", s)
	}
	parts := strings.SplitN(s, "/", 2)
	return RepoID{Owner: parts[0], Name: parts[1]}, nil
}

var issueURLPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/issues/(\d+)$`)

// ParseIssueURL extracts the repository and issue number from a canonical
// issue URL.
func ParseIssueURL(s string) (RepoID, int, error) {
	m := issueURLPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return RepoID{}, 0, fmt.Errorf("malformed issue url %q: want https://github.com/owner/name/issues/N", s)
	}
	id, err := ParseRepoID(m[1] + "/" + m[2])
	if err != nil {
		return RepoID{}, 0, err
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return RepoID{}, 0, fmt.Errorf("malformed issue number in %q", s)
	}
	return id, n, nil
}

type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Author    string   `json:"author"`
	URL       string   `json:"url"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type Comment struct {
	ID                int64  `json:"id"`
	Author            string `json:"author"`
	AuthorAssociation string `json:"author_association"`
	Body              string `json:"body"`
	URL               string `json:"url"`
	CreatedAt         string `json:"created_at"`
}

// Maintainer reports whether the comment author has elevated repository
// permissions, based on the association the API reports.
func (c Comment) Maintainer() bool {
	switch c.AuthorAssociation {
	case "OWNER", "MEMBER", "COLLABORATOR":
		return true
	}
	return false
}

type PullRequest struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	State         string `json:"state"`
	Merged        bool   `json:"merged"`
	Author        string `json:"author"`
	URL           string `json:"url"`
	Body          string `json:"body,omitempty"`
	ChecksPassing bool   `json:"checks_passing"`
	ReviewCount   int    `json:"review_count"`
	CreatedAt     string `json:"created_at"`
}

// Source is the read-only issue-tracker collaborator.
type Source interface {
	Issue(ctx context.Context, repo RepoID, number int) (Issue, error)
	Comments(ctx context.Context, repo RepoID, number int) ([]Comment, error)
	LinkedPullRequests(ctx context.Context, repo RepoID, number int) ([]PullRequest, error)
	// File tries candidate paths in order and returns the first hit.
	File(ctx context.Context, repo RepoID, paths []string) (path string, content []byte, err error)
	SearchIssues(ctx context.Context, query string, limit int) ([]Issue, error)
	// RecentMergedPulls returns recently merged pull requests, newest first.
	RecentMergedPulls(ctx context.Context, repo RepoID, limit int) ([]PullRequest, error)
}
