// Package competition scores how contested an issue is and recommends a
// posture. The scorer is pure; collection against the forge degrades to
// zero drivers when the tracker is unreachable.
package competition

import (
	"context"
	"fmt"
	"strings"

	"bountyline/internal/forge"
	"bountyline/internal/signals"
)

// Driver point values. The total is capped at MaxRisk.
const (
	PointsPerCompetingPR   = 30
	PointsChecksPassing    = 20
	PointsReviewInProgress = 15
	PointsPerClaim         = 10
	MaxRisk                = 100
)

// SpikeDelta is the minimum risk increase between consecutive snapshots
// that counts as a spike.
const SpikeDelta = 20

// Driver is one contribution to the risk score.
type Driver struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Points int    `json:"points"`
}

// Claim is comment-level claim language from a non-maintainer.
type Claim struct {
	Author     string `json:"author"`
	CommentURL string `json:"comment_url"`
	Excerpt    string `json:"excerpt"`
	CreatedAt  string `json:"created_at"`
}

// Result is one scored competition check.
type Result struct {
	RiskScore int                 `json:"risk_score"`
	Action    string              `json:"action"`
	Drivers   []Driver            `json:"drivers"`
	PRs       []forge.PullRequest `json:"prs"`
	Claims    []Claim             `json:"claims"`
	Degraded  bool                `json:"degraded,omitempty"`
	Note      string              `json:"note,omitempty"`
}

// Score totals the drivers for the observed PRs and claims. Every open or
// merged PR is a competing item; its green checks and any review each add
// their own driver on top.
func Score(prs []forge.PullRequest, claims []Claim) (int, []Driver) {
	var drivers []Driver
	for _, pr := range prs {
		if pr.State != "open" && !pr.Merged {
			continue
		}
		drivers = append(drivers, Driver{
			Kind:   "competing_pr",
			Detail: fmt.Sprintf("#%d by %s", pr.Number, pr.Author),
			Points: PointsPerCompetingPR,
		})
		if pr.ChecksPassing {
			drivers = append(drivers, Driver{
				Kind:   "checks_passing",
				Detail: fmt.Sprintf("#%d has green checks", pr.Number),
				Points: PointsChecksPassing,
			})
		}
		if pr.ReviewCount > 0 {
			drivers = append(drivers, Driver{
				Kind:   "review_in_progress",
				Detail: fmt.Sprintf("#%d is under review", pr.Number),
				Points: PointsReviewInProgress,
			})
		}
	}
	for _, c := range claims {
		drivers = append(drivers, Driver{
			Kind:   "claim",
			Detail: fmt.Sprintf("claim by %s", c.Author),
			Points: PointsPerClaim,
		})
	}
	total := 0
	for _, d := range drivers {
		total += d.Points
	}
	if total > MaxRisk {
		total = MaxRisk
	}
	return total, drivers
}

// ActionFor maps a risk score to the recommended posture.
func ActionFor(risk int) string {
	switch {
	case risk <= 20:
		return "proceed"
	case risk <= 40:
		return "monitor"
	case risk <= 60:
		return "accelerate"
	case risk <= 80:
		return "narrow"
	default:
		return "fold"
	}
}

// Spike reports whether risk jumped enough between two consecutive
// snapshots to warrant an alert.
func Spike(prev, current int) bool {
	return current-prev >= SpikeDelta
}

// DetectClaims scans comments for claim language from non-maintainers,
// at most one claim per author.
func DetectClaims(comments []forge.Comment) []Claim {
	var claims []Claim
	seen := map[string]bool{}
	for _, c := range comments {
		if c.Maintainer() {
			continue
		}
		key := strings.ToLower(c.Author)
		if seen[key] || !signals.ClaimLanguage(c.Body) {
			continue
		}
		seen[key] = true
		claims = append(claims, Claim{
			Author:     c.Author,
			CommentURL: c.URL,
			Excerpt:    excerpt(c.Body, 140),
			CreatedAt:  c.CreatedAt,
		})
	}
	return claims
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Collect fetches the live PR and claim picture and scores it. A tracker
// failure is not an error: absence of evidence counts as absence of
// competition, so the result degrades to zero drivers with the Degraded
// flag set and the cause in Note.
func Collect(ctx context.Context, src forge.Source, repo forge.RepoID, issueNumber int) Result {
	prs, prErr := src.LinkedPullRequests(ctx, repo, issueNumber)
	comments, cmErr := src.Comments(ctx, repo, issueNumber)
	if prErr != nil || cmErr != nil {
		err := prErr
		if err == nil {
			err = cmErr
		}
		return Result{
			Action:   ActionFor(0),
			Drivers:  []Driver{},
			Degraded: true,
			Note:     "collection degraded: " + err.Error(),
		}
	}
	claims := DetectClaims(comments)
	risk, drivers := Score(prs, claims)
	return Result{
		RiskScore: risk,
		Action:    ActionFor(risk),
		Drivers:   drivers,
		PRs:       prs,
		Claims:    claims,
	}
}
